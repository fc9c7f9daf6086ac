package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/checksum"
	"github.com/starford/piko/internal/models"
)

// LoadGraph returns the stored graph for (projectID, version). A key that was
// never written yields an empty graph, not an error.
func (db *DB) LoadGraph(ctx context.Context, projectID string, version int) (models.Graph, error) {
	var nodesJSON, edgesJSON string
	err := db.conn.QueryRowContext(ctx, `
		SELECT nodes_json, edges_json
		FROM graph_versions WHERE project_id = ? AND version_number = ?
	`, projectID, version).Scan(&nodesJSON, &edgesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmptyGraph(), nil
	}
	if err != nil {
		return models.Graph{}, fmt.Errorf("store: load graph: %w", err)
	}

	var g models.Graph
	if err := json.Unmarshal([]byte(nodesJSON), &g.Nodes); err != nil {
		return models.Graph{}, fmt.Errorf("store: decode nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &g.Edges); err != nil {
		return models.Graph{}, fmt.Errorf("store: decode edges: %w", err)
	}
	return g.Normalize(), nil
}

type encodedGraph struct {
	nodes, edges, sum string
}

func encodeGraph(g models.Graph) (encodedGraph, error) {
	g = g.Normalize()
	nodesJSON, err := json.Marshal(g.Nodes)
	if err != nil {
		return encodedGraph{}, fmt.Errorf("store: encode nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(g.Edges)
	if err != nil {
		return encodedGraph{}, fmt.Errorf("store: encode edges: %w", err)
	}
	sum, err := checksum.Graph(g)
	if err != nil {
		return encodedGraph{}, fmt.Errorf("store: checksum: %w", err)
	}
	return encodedGraph{nodes: string(nodesJSON), edges: string(edgesJSON), sum: sum}, nil
}

// SaveGraph upserts (projectID, version), replacing both collections in a
// single statement, and bumps the project's modification time.
func (db *DB) SaveGraph(ctx context.Context, projectID string, version int, g models.Graph) error {
	enc, err := encodeGraph(g)
	if err != nil {
		return err
	}
	return db.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO graph_versions (project_id, version_number, nodes_json, edges_json, checksum, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, version_number) DO UPDATE SET
				nodes_json = excluded.nodes_json,
				edges_json = excluded.edges_json,
				checksum   = excluded.checksum,
				updated_at = excluded.updated_at
		`, projectID, version, enc.nodes, enc.edges, enc.sum, now)
		if err != nil {
			return fmt.Errorf("store: upsert graph: %w", err)
		}
		return touchProject(ctx, tx, projectID, now)
	})
}

// SaveGraphIfMatch replaces the graph only while its stored checksum still
// equals ifMatch, otherwise it returns apperr.ErrConflict. The comparison and
// the write run in one statement. A key that was never written matches the
// empty graph's tag.
func (db *DB) SaveGraphIfMatch(ctx context.Context, projectID string, version int, g models.Graph, ifMatch string) error {
	enc, err := encodeGraph(g)
	if err != nil {
		return err
	}
	emptySum, err := checksum.Graph(models.EmptyGraph())
	if err != nil {
		return fmt.Errorf("store: checksum: %w", err)
	}
	return db.inTx(ctx, func(tx *sql.Tx, now time.Time) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE graph_versions SET
				nodes_json = ?, edges_json = ?, checksum = ?, updated_at = ?
			WHERE project_id = ? AND version_number = ? AND checksum = ?
		`, enc.nodes, enc.edges, enc.sum, now, projectID, version, ifMatch)
		if err != nil {
			return fmt.Errorf("store: conditional update graph: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: rows affected: %w", err)
		}
		if n == 0 {
			if ifMatch != emptySum {
				return apperr.ErrConflict
			}
			res, err = tx.ExecContext(ctx, `
				INSERT INTO graph_versions (project_id, version_number, nodes_json, edges_json, checksum, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(project_id, version_number) DO NOTHING
			`, projectID, version, enc.nodes, enc.edges, enc.sum, now)
			if err != nil {
				return fmt.Errorf("store: insert graph: %w", err)
			}
			if n, err = res.RowsAffected(); err != nil {
				return fmt.Errorf("store: rows affected: %w", err)
			}
			if n == 0 {
				return apperr.ErrConflict
			}
		}
		return touchProject(ctx, tx, projectID, now)
	})
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx, now time.Time) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func touchProject(ctx context.Context, tx *sql.Tx, projectID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, now, projectID); err != nil {
		return fmt.Errorf("store: touch project: %w", err)
	}
	return nil
}

// GraphChecksum returns the content tag of the stored graph. A graph that was
// never written has the tag of the empty graph.
func (db *DB) GraphChecksum(ctx context.Context, projectID string, version int) (string, error) {
	var sum string
	err := db.conn.QueryRowContext(ctx, `
		SELECT checksum FROM graph_versions WHERE project_id = ? AND version_number = ?
	`, projectID, version).Scan(&sum)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: graph checksum: %w", err)
	}
	if sum == "" {
		return checksum.Graph(models.EmptyGraph())
	}
	return sum, nil
}
