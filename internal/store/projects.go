package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/models"
)

// CreateProject inserts the project together with its empty current graph
// version in one transaction.
func (db *DB) CreateProject(ctx context.Context, p models.Project) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.OwnerID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert project: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO graph_versions (project_id, version_number, nodes_json, edges_json, updated_at)
		VALUES (?, ?, '[]', '[]', ?)
	`, p.ID, models.CurrentVersion, now)
	if err != nil {
		return fmt.Errorf("store: insert initial graph: %w", err)
	}

	return tx.Commit()
}

// Project returns the project and its membership rows, or apperr.ErrNotFound.
func (db *DB) Project(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT user_id, role, created_at
		FROM project_members WHERE project_id = ?
		ORDER BY created_at, user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m := models.Member{ProjectID: id}
		if err := rows.Scan(&m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		p.Members = append(p.Members, m)
	}
	return &p, rows.Err()
}

// MemberRole returns the membership role of userID on projectID. ok is false
// when there is no membership row; ownership is not consulted here.
func (db *DB) MemberRole(ctx context.Context, projectID, userID string) (models.Role, bool, error) {
	var role models.Role
	err := db.conn.QueryRowContext(ctx, `
		SELECT role FROM project_members WHERE project_id = ? AND user_id = ?
	`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: member role: %w", err)
	}
	return role, true, nil
}

// PutMember grants or replaces a membership row.
func (db *DB) PutMember(ctx context.Context, projectID, userID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, role)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role
	`, projectID, userID, string(role), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: put member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row. Removing an absent row is not an error.
func (db *DB) RemoveMember(ctx context.Context, projectID, userID string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM project_members WHERE project_id = ? AND user_id = ?
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("store: remove member: %w", err)
	}
	return nil
}

// RenameProject updates the display name.
func (db *DB) RenameProject(ctx context.Context, id, name string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE projects SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: rename project: %w", err)
	}
	return requireRow(res)
}

// DeleteProject removes the project; members and every graph version go with it.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
