package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/echonote/engine/internal/errs"
)

// UpsertAutoTaskConfig writes the per-event auto-task flags.
func (s *Store) UpsertAutoTaskConfig(ctx context.Context, c AutoTaskConfig) error {
	languages, err := json.Marshal(c.Languages)
	if err != nil {
		return errs.Validationf("store: marshal languages for event %s/%s: %w", c.EventSource, c.EventID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auto_task_configs (event_id, event_source, enable_transcription, enable_recording, enable_translation, languages)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_source, event_id) DO UPDATE SET
			enable_transcription = excluded.enable_transcription,
			enable_recording = excluded.enable_recording,
			enable_translation = excluded.enable_translation,
			languages = excluded.languages`,
		c.EventID, c.EventSource, c.EnableTranscription, c.EnableRecording, c.EnableTranslation, string(languages),
	)
	if err != nil {
		return errs.Transientf("store: upsert auto-task config %s/%s: %w", c.EventSource, c.EventID, err)
	}
	return nil
}

// GetAutoTaskConfig returns the config for an event, or a default
// (all-disabled) config when none has been written yet, per the data
// model's "default produced if absent" lifecycle rule.
func (s *Store) GetAutoTaskConfig(ctx context.Context, source, eventID string) (AutoTaskConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_source, enable_transcription, enable_recording, enable_translation, languages
		FROM auto_task_configs WHERE event_source = ? AND event_id = ?`, source, eventID)

	var c AutoTaskConfig
	var languagesJSON string
	err := row.Scan(&c.EventID, &c.EventSource, &c.EnableTranscription, &c.EnableRecording, &c.EnableTranslation, &languagesJSON)
	if err == sql.ErrNoRows {
		return AutoTaskConfig{EventID: eventID, EventSource: source}, nil
	}
	if err != nil {
		return AutoTaskConfig{}, errs.Transientf("store: get auto-task config %s/%s: %w", source, eventID, err)
	}
	if err := json.Unmarshal([]byte(languagesJSON), &c.Languages); err != nil {
		return AutoTaskConfig{}, errs.Integrityf("store: decode languages for %s/%s: %w", source, eventID, err)
	}
	return c, nil
}
