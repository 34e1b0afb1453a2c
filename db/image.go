package db

import (
	"database/sql"
)

const imageSqlFieldsOrdered = "id, name, digest, reference_count"

// Image is one row of the image ledger. Name is the canonical reference
// and the unique key; Digest is the last manifest digest seen from the
// registry, empty until the first successful check.
type Image struct {
	ID             int64
	Name           string
	Digest         string
	ReferenceCount int
}

// MarkImage records one occurrence of an image reference: the row is
// created with reference count 1 if absent, otherwise its count is
// incremented by exactly one. Returns the count after the mark.
func (s *Store) MarkImage(name string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // The rollback will be ignored if the tx has been committed later in the function

	var id int64
	var count int
	err = tx.QueryRow("SELECT id, reference_count FROM images WHERE name = ?", name).Scan(&id, &count)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec("INSERT INTO images (name, reference_count) VALUES (?, 1)", name); err != nil {
			return 0, err
		}
		count = 1
	case err != nil:
		return 0, err
	default:
		count++
		if _, err := tx.Exec("UPDATE images SET reference_count = ? WHERE id = ?", count, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// ResetImageCounts sets every reference count to zero. Run once at the
// start of a pass, before recounting.
func (s *Store) ResetImageCounts() error {
	_, err := s.db.Exec("UPDATE images SET reference_count = 0")
	return err
}

// GetImageByName returns sql.ErrNoRows if no such image is recorded.
func (s *Store) GetImageByName(name string) (Image, error) {
	row := s.db.QueryRow("SELECT "+imageSqlFieldsOrdered+" FROM images WHERE name = ?", name)
	return parseImageFromRow(row)
}

func (s *Store) GetAllImages() ([]Image, error) {
	rows, err := s.db.Query("SELECT " + imageSqlFieldsOrdered + " FROM images ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := make([]Image, 0)
	for rows.Next() {
		image, err := parseImageFromRow(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

func (s *Store) UpdateImageDigest(name string, dgst string) error {
	_, err := s.db.Exec("UPDATE images SET digest = ? WHERE name = ?", dgst, name)
	return err
}

func (s *Store) DeleteImagesWithZeroCount() error {
	_, err := s.db.Exec("DELETE FROM images WHERE reference_count = 0")
	return err
}

func (s *Store) DeleteAllImages() error {
	_, err := s.db.Exec("DELETE FROM images")
	return err
}

// parseImageFromRow scans a row containing the exact fields in the
// imageSqlFieldsOrdered constant, in the same order.
func parseImageFromRow(row scannableRow) (Image, error) {
	var image Image
	var dgst sql.NullString
	if err := row.Scan(&image.ID, &image.Name, &dgst, &image.ReferenceCount); err != nil {
		return Image{}, err
	}
	if dgst.Valid {
		image.Digest = dgst.String
	}
	return image, nil
}
