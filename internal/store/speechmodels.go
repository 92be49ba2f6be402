package store

import (
	"context"
	"database/sql"

	"github.com/echonote/engine/internal/errs"
)

// UpsertSpeechModel records a model descriptor, at most one row per name
// per the data model invariant (the primary key enforces it).
func (s *Store) UpsertSpeechModel(ctx context.Context, d SpeechModelDescriptor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO speech_models (name, downloaded, local_path)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			downloaded = excluded.downloaded,
			local_path = excluded.local_path`,
		d.Name, d.Downloaded, nullableString(d.LocalPath),
	)
	if err != nil {
		return errs.Transientf("store: upsert speech model %q: %w", d.Name, err)
	}
	return nil
}

// GetSpeechModel returns a descriptor by name.
func (s *Store) GetSpeechModel(ctx context.Context, name string) (*SpeechModelDescriptor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, downloaded, local_path FROM speech_models WHERE name = ?`, name)

	var d SpeechModelDescriptor
	var localPath sql.NullString
	err := row.Scan(&d.Name, &d.Downloaded, &localPath)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("store: speech model %q not found", name)
	}
	if err != nil {
		return nil, errs.Transientf("store: get speech model %q: %w", name, err)
	}
	d.LocalPath = localPath.String
	return &d, nil
}

// ListSpeechModels returns every known model descriptor.
func (s *Store) ListSpeechModels(ctx context.Context) ([]SpeechModelDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, downloaded, local_path FROM speech_models ORDER BY name`)
	if err != nil {
		return nil, errs.Transientf("store: list speech models: %w", err)
	}
	defer rows.Close()

	var out []SpeechModelDescriptor
	for rows.Next() {
		var d SpeechModelDescriptor
		var localPath sql.NullString
		if err := rows.Scan(&d.Name, &d.Downloaded, &localPath); err != nil {
			return nil, errs.Transientf("store: scan speech model row: %w", err)
		}
		d.LocalPath = localPath.String
		out = append(out, d)
	}
	return out, rows.Err()
}
