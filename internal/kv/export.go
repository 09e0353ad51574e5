package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kvlite/internal/db"
)

type exportRow struct {
	Key   string         `db:"key"`
	Value sql.NullString `db:"value"`
}

// ExportJSON writes every record as one JSON object mapping key to value.
// An empty path uses the configured export path. File and decode failures
// are logged and reported as false; database errors are returned.
func (s *Store) ExportJSON(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return false, err
	}
	if path == "" {
		path = s.opts.ExportPath
	}

	var rows []exportRow
	if err := s.db.Conn.SelectContext(ctx, &rows, `SELECT key, value FROM `+s.table+` ORDER BY key`); err != nil {
		return false, fmt.Errorf("failed to read records: %w", err)
	}

	out := make(map[string]any, len(rows))
	for _, row := range rows {
		result, err := decodeResult(row.Value)
		if err != nil {
			log.Error().Err(err).Str("key", row.Key).Msg("Failed to decode value for export")
			return false, nil
		}
		out[row.Key] = result.Value
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode export")
		return false, nil
	}

	if err := db.EnsureDir(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to create export directory")
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to write export")
		return false, nil
	}

	log.Info().Str("path", path).Int("count", len(rows)).Msg("Exported KV store")
	return true, nil
}
