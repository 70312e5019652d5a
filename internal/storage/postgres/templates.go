package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sparkling-owl/spin/internal/engine"
)

// PutTemplate stores a template version. Existing versions are immutable.
func (s *Store) PutTemplate(ctx context.Context, template engine.Template) error {
	fields, err := json.Marshal(template.Fields)
	if err != nil {
		return fmt.Errorf("marshal template fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO templates (id, version, fields)
VALUES ($1,$2,$3)
ON CONFLICT (id, version) DO NOTHING`,
		template.ID, template.Version, fields,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s v%d: %w", template.ID, template.Version, engine.ErrAlreadyExists)
	}
	return nil
}

// GetTemplate resolves a template by ID and version. Version 0 resolves the
// latest stored version.
func (s *Store) GetTemplate(ctx context.Context, id string, version int) (engine.Template, error) {
	var (
		row    pgx.Row
		tmpl   engine.Template
		fields []byte
	)
	if version <= 0 {
		row = s.pool.QueryRow(ctx, `
SELECT id, version, fields FROM templates
WHERE id = $1 ORDER BY version DESC LIMIT 1`, id)
	} else {
		row = s.pool.QueryRow(ctx, `
SELECT id, version, fields FROM templates
WHERE id = $1 AND version = $2`, id, version)
	}
	err := row.Scan(&tmpl.ID, &tmpl.Version, &fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Template{}, fmt.Errorf("template %s v%d: %w", id, version, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Template{}, fmt.Errorf("select template: %w", err)
	}
	if err := json.Unmarshal(fields, &tmpl.Fields); err != nil {
		return engine.Template{}, fmt.Errorf("unmarshal template fields: %w", err)
	}
	return tmpl, nil
}
