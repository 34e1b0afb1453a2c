package db

import (
	"time"
)

const sourceSqlFieldsOrdered = "id, url, last_sync"

// SourceCacheEntry marks a source-tree URL as already synced. Its presence
// refuses further passes for the URL until teardown clears it.
type SourceCacheEntry struct {
	ID       int64
	URL      string
	LastSync time.Time
}

func (s *Store) AddSourceToCache(url string, lastSync time.Time) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO source_cache (url, last_sync) VALUES (?, ?)",
		url, lastSync.UTC().Format(time.RFC3339))
	return err
}

// GetSourceFromCache returns sql.ErrNoRows if the URL has never been synced.
func (s *Store) GetSourceFromCache(url string) (SourceCacheEntry, error) {
	row := s.db.QueryRow("SELECT "+sourceSqlFieldsOrdered+" FROM source_cache WHERE url = ?", url)
	return parseSourceFromRow(row)
}

func (s *Store) GetAllSources() ([]SourceCacheEntry, error) {
	rows, err := s.db.Query("SELECT " + sourceSqlFieldsOrdered + " FROM source_cache ORDER BY last_sync DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]SourceCacheEntry, 0)
	for rows.Next() {
		entry, err := parseSourceFromRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) ClearSourceCache() error {
	_, err := s.db.Exec("DELETE FROM source_cache")
	return err
}

func parseSourceFromRow(row scannableRow) (SourceCacheEntry, error) {
	var entry SourceCacheEntry
	var lastSync string
	if err := row.Scan(&entry.ID, &entry.URL, &lastSync); err != nil {
		return SourceCacheEntry{}, err
	}
	t, err := time.Parse(time.RFC3339, lastSync)
	if err != nil {
		return SourceCacheEntry{}, err
	}
	entry.LastSync = t
	return entry, nil
}
