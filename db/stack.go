package db

import (
	"database/sql"

	"github.com/pkg/errors"
)

const stackSqlFieldsOrdered = "id, name, repository_url, compose_path, hash, status"

// StackStatus is the closed set of states a stack row can be in. Unknown
// values in the store are rejected at scan time rather than carried along.
type StackStatus string

const (
	StatusDeployed StackStatus = "deployed"
	StatusStopped  StackStatus = "stopped"
	StatusError    StackStatus = "error"
)

func parseStackStatus(s string) (StackStatus, error) {
	switch StackStatus(s) {
	case StatusDeployed, StatusStopped, StatusError:
		return StackStatus(s), nil
	}
	return "", errors.Errorf("unknown stack status %q", s)
}

// Stack is one row of the stacks table, identified by (Name, RepositoryURL).
type Stack struct {
	ID            int64
	Name          string
	RepositoryURL string
	ComposePath   string
	Hash          string
	Status        StackStatus
}

// CreateOrUpdateStack upserts a stack by its (name, repository_url)
// identity and returns the row id.
func (s *Store) CreateOrUpdateStack(stack Stack) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // The rollback will be ignored if the tx has been committed later in the function

	var id int64
	err = tx.QueryRow("SELECT id FROM stacks WHERE name = ? AND repository_url = ?",
		stack.Name, stack.RepositoryURL).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec("INSERT INTO stacks (name, repository_url, compose_path, hash, status) VALUES (?, ?, ?, ?, ?)",
			stack.Name, stack.RepositoryURL, stack.ComposePath, stack.Hash, string(stack.Status))
		if err != nil {
			return 0, err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		_, err := tx.Exec("UPDATE stacks SET compose_path = ?, hash = ?, status = ? WHERE id = ?",
			stack.ComposePath, stack.Hash, string(stack.Status), id)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// GetStackByName returns sql.ErrNoRows if the stack is not recorded.
func (s *Store) GetStackByName(name, repositoryURL string) (Stack, error) {
	row := s.db.QueryRow("SELECT "+stackSqlFieldsOrdered+" FROM stacks WHERE name = ? AND repository_url = ?",
		name, repositoryURL)
	return parseStackFromRow(row)
}

func (s *Store) GetAllStacks() ([]Stack, error) {
	rows, err := s.db.Query("SELECT " + stackSqlFieldsOrdered + " FROM stacks ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stacks := make([]Stack, 0)
	for rows.Next() {
		stack, err := parseStackFromRow(rows)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, stack)
	}
	return stacks, rows.Err()
}

func (s *Store) DeleteAllStacks() error {
	_, err := s.db.Exec("DELETE FROM stacks")
	return err
}

// parseStackFromRow scans a row containing the exact fields in the
// stackSqlFieldsOrdered constant, in the same order.
func parseStackFromRow(row scannableRow) (Stack, error) {
	var stack Stack
	var status string
	if err := row.Scan(&stack.ID, &stack.Name, &stack.RepositoryURL, &stack.ComposePath, &stack.Hash, &status); err != nil {
		return Stack{}, err
	}
	parsed, err := parseStackStatus(status)
	if err != nil {
		return Stack{}, err
	}
	stack.Status = parsed
	return stack, nil
}
