package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

const assistantColumns = `assistant_id, graph_id, name, description, owner, config, metadata, version, created_at, updated_at`

// CreateAssistant stores an assistant at version 1 together with its first
// version record. Callers outside a transaction must go through Backend.CreateAssistant.
func (s *sqlQueries) CreateAssistant(ctx context.Context, a *domain.Assistant) error {
	now := s.now()
	if a.AssistantID == "" {
		a.AssistantID = uuid.NewString()
	}
	if a.Name == "" {
		a.Name = a.GraphID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	a.Version = 1
	_, err := s.exec(ctx,
		`INSERT INTO assistants (`+assistantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AssistantID, a.GraphID, a.Name, nullString(a.Description), a.Owner,
		nullJSON(a.Config), nullJSON(a.Metadata), a.Version, toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if err != nil {
		return classify("create assistant", err)
	}
	return s.insertAssistantVersion(ctx, a)
}

// GetAssistant retrieves an assistant at its current version.
func (s *sqlQueries) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	row := s.queryRow(ctx, `SELECT `+assistantColumns+` FROM assistants WHERE assistant_id = ?`, assistantID)
	a, err := scanAssistant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("assistant %s", assistantID)
	}
	if err != nil {
		return nil, classify("get assistant", err)
	}
	return a, nil
}

// UpdateAssistant writes a's fields as a new version numbered after the
// highest stored one and makes it current.
func (s *sqlQueries) UpdateAssistant(ctx context.Context, a *domain.Assistant) error {
	var version int
	err := s.queryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM assistant_versions WHERE assistant_id = ?`,
		a.AssistantID).Scan(&version)
	if err != nil {
		return classify("update assistant", err)
	}
	a.Version = version
	a.UpdatedAt = s.now()
	res, err := s.exec(ctx,
		`UPDATE assistants SET graph_id = ?, name = ?, description = ?, config = ?, metadata = ?, version = ?, updated_at = ?
		WHERE assistant_id = ?`,
		a.GraphID, a.Name, nullString(a.Description), nullJSON(a.Config), nullJSON(a.Metadata),
		a.Version, toMillis(a.UpdatedAt), a.AssistantID)
	if err != nil {
		return classify("update assistant", err)
	}
	if err := mustAffect(res, "assistant %s", a.AssistantID); err != nil {
		return err
	}
	return s.insertAssistantVersion(ctx, a)
}

// SetAssistantVersion makes a stored version current without writing a new one.
func (s *sqlQueries) SetAssistantVersion(ctx context.Context, assistantID string, version int) (*domain.Assistant, error) {
	row := s.queryRow(ctx,
		`SELECT assistant_id, version, graph_id, name, description, config, metadata, created_at
		FROM assistant_versions WHERE assistant_id = ? AND version = ?`, assistantID, version)
	v, err := scanAssistantVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("assistant %s version %d", assistantID, version)
	}
	if err != nil {
		return nil, classify("set assistant version", err)
	}
	_, err = s.exec(ctx,
		`UPDATE assistants SET graph_id = ?, name = ?, description = ?, config = ?, metadata = ?, version = ?, updated_at = ?
		WHERE assistant_id = ?`,
		v.GraphID, v.Name, nullString(v.Description), nullJSON(v.Config), nullJSON(v.Metadata),
		v.Version, toMillis(s.now()), assistantID)
	if err != nil {
		return nil, classify("set assistant version", err)
	}
	return s.GetAssistant(ctx, assistantID)
}

// DeleteAssistant removes an assistant and its version history.
func (s *sqlQueries) DeleteAssistant(ctx context.Context, assistantID string) error {
	if _, err := s.exec(ctx, `DELETE FROM assistant_versions WHERE assistant_id = ?`, assistantID); err != nil {
		return classify("delete assistant", err)
	}
	res, err := s.exec(ctx, `DELETE FROM assistants WHERE assistant_id = ?`, assistantID)
	if err != nil {
		return classify("delete assistant", err)
	}
	return mustAffect(res, "assistant %s", assistantID)
}

// ListAssistantVersions lists an assistant's versions, newest first.
func (s *sqlQueries) ListAssistantVersions(ctx context.Context, assistantID string, limit int) ([]domain.AssistantVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx,
		`SELECT assistant_id, version, graph_id, name, description, config, metadata, created_at
		FROM assistant_versions WHERE assistant_id = ? ORDER BY version DESC LIMIT ?`, assistantID, limit)
	if err != nil {
		return nil, classify("list assistant versions", err)
	}
	defer rows.Close()

	var out []domain.AssistantVersion
	for rows.Next() {
		v, err := scanAssistantVersion(rows)
		if err != nil {
			return nil, classify("list assistant versions", err)
		}
		out = append(out, *v)
	}
	return out, classify("list assistant versions", rows.Err())
}

func (s *sqlQueries) listAssistants(ctx context.Context, owner, graphID string, limit, offset int) ([]domain.Assistant, error) {
	if limit <= 0 {
		limit = 100
	}
	var where []string
	var args []any
	if owner != "" {
		where = append(where, `owner = ?`)
		args = append(args, owner)
	}
	if graphID != "" {
		where = append(where, `graph_id = ?`)
		args = append(args, graphID)
	}
	query := `SELECT ` + assistantColumns + ` FROM assistants`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC, assistant_id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, classify("list assistants", err)
	}
	defer rows.Close()

	var out []domain.Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, classify("list assistants", err)
		}
		out = append(out, *a)
	}
	return out, classify("list assistants", rows.Err())
}

func (s *sqlQueries) insertAssistantVersion(ctx context.Context, a *domain.Assistant) error {
	_, err := s.exec(ctx,
		`INSERT INTO assistant_versions (assistant_id, version, graph_id, name, description, config, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AssistantID, a.Version, a.GraphID, a.Name, nullString(a.Description),
		nullJSON(a.Config), nullJSON(a.Metadata), toMillis(a.UpdatedAt))
	return classify("insert assistant version", err)
}

func scanAssistant(row rowScanner) (*domain.Assistant, error) {
	var a domain.Assistant
	var desc, config, metadata sql.NullString
	var created, updated int64
	if err := row.Scan(&a.AssistantID, &a.GraphID, &a.Name, &desc, &a.Owner, &config, &metadata,
		&a.Version, &created, &updated); err != nil {
		return nil, err
	}
	a.Description = desc.String
	a.Config = rawJSON(config)
	a.Metadata = rawJSON(metadata)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

func scanAssistantVersion(row rowScanner) (*domain.AssistantVersion, error) {
	var v domain.AssistantVersion
	var desc, config, metadata sql.NullString
	var created int64
	if err := row.Scan(&v.AssistantID, &v.Version, &v.GraphID, &v.Name, &desc, &config, &metadata, &created); err != nil {
		return nil, err
	}
	v.Description = desc.String
	v.Config = rawJSON(config)
	v.Metadata = rawJSON(metadata)
	v.CreatedAt = fromMillis(created)
	return &v, nil
}
