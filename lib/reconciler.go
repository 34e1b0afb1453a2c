package lib

import (
	"context"

	"database/sql"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/dockerops/dockerops/db"
)

// StackActionKind is the per-stack outcome of a pass.
type StackActionKind string

const (
	StackDeployed  StackActionKind = "deployed"
	StackUnchanged StackActionKind = "unchanged"
	StackFailed    StackActionKind = "failed"
	StackSkipped   StackActionKind = "skipped"
)

// StackOutcome is one line of the per-stack pass summary.
type StackOutcome struct {
	Name   string
	Action StackActionKind
	Err    error
}

// Reconciler decides, per stack, between deploying and leaving a running
// stack alone, based on the content hash of the fully materialized
// definition.
type Reconciler struct {
	Store   *db.Store
	Runtime RuntimeClient
}

// HashDefinition computes the deterministic content digest that gates
// redeploy decisions. It must be fed the final, materialized bytes.
func HashDefinition(definition []byte) string {
	return digest.FromBytes(definition).Encoded()
}

// Reconcile deploys the stack unless its hash is unchanged and it is
// already deployed. The stack row is written only after a deploy attempt:
// on success with status deployed, on failure with status error and the
// new hash, so an unchanged retry is attempted again rather than skipped.
func (r *Reconciler) Reconcile(ctx context.Context, repositoryURL string, stack SnapshotStack, definition []byte, env map[string]string) StackOutcome {
	hash := HashDefinition(definition)

	existing, err := r.Store.GetStackByName(stack.Name, repositoryURL)
	switch {
	case err == sql.ErrNoRows:
		// First sighting of this stack.
	case err != nil:
		return StackOutcome{Name: stack.Name, Action: StackFailed, Err: errors.Wrap(err, "reading stack state")}
	default:
		if existing.Hash == hash && existing.Status == db.StatusDeployed {
			Log().Infof("stack %q unchanged, skipping deploy", stack.Name)
			return StackOutcome{Name: stack.Name, Action: StackUnchanged}
		}
	}

	row := db.Stack{
		Name:          stack.Name,
		RepositoryURL: repositoryURL,
		ComposePath:   stack.ComposePath,
		Hash:          hash,
	}

	if err := r.Runtime.DeployStack(ctx, stack.Name, definition, env); err != nil {
		row.Status = db.StatusError
		if _, storeErr := r.Store.CreateOrUpdateStack(row); storeErr != nil {
			LogE(storeErr).Errorf("could not record error state of stack %q", stack.Name)
		}
		return StackOutcome{Name: stack.Name, Action: StackFailed, Err: errors.Wrapf(err, "deploying stack %q", stack.Name)}
	}

	row.Status = db.StatusDeployed
	if _, err := r.Store.CreateOrUpdateStack(row); err != nil {
		return StackOutcome{Name: stack.Name, Action: StackFailed, Err: errors.Wrap(err, "recording deployed stack")}
	}
	Log().Infof("stack %q deployed", stack.Name)
	return StackOutcome{Name: stack.Name, Action: StackDeployed}
}
