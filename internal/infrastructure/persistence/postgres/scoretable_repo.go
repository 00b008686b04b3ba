// Package postgres implements the PostgreSQL persistence layer for Card Forge.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardforge/cardforge/internal/domain/learning"
	"github.com/cardforge/cardforge/internal/domain/scoretable"
	"github.com/cardforge/cardforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE TABLE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ScoreTableRepository implements scoretable.Repository for PostgreSQL.
// Tier definitions are stored as one JSONB document per version: the table is
// always read and validated as a whole, so relational decomposition would buy
// nothing.
type ScoreTableRepository struct {
	conn *Connection
}

// NewScoreTableRepository creates a new ScoreTableRepository.
func NewScoreTableRepository(conn *Connection) *ScoreTableRepository {
	return &ScoreTableRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// JSONB document shape
// ─────────────────────────────────────────────────────────────────────────────

type tableDoc struct {
	Description string               `json:"description,omitempty"`
	Units       map[string][]tierDoc `json:"units"`
}

type tierDoc struct {
	Label         string              `json:"label"`
	MinScore      float64             `json:"min_score"`
	MaxScore      float64             `json:"max_score"`
	Options       map[string][]string `json:"options"`
	QualityWeight int                 `json:"quality_weight"`
}

func toDoc(t *scoretable.Table) tableDoc {
	doc := tableDoc{
		Description: t.Description,
		Units:       make(map[string][]tierDoc, len(t.Units)),
	}
	for code, rules := range t.Units {
		tiers := make([]tierDoc, 0, len(rules.Tiers))
		for _, tier := range rules.Tiers {
			options := make(map[string][]string, len(tier.Options))
			for slot, opts := range tier.Options {
				options[string(slot)] = opts
			}
			tiers = append(tiers, tierDoc{
				Label:         tier.Label,
				MinScore:      float64(tier.MinScore),
				MaxScore:      float64(tier.MaxScore),
				Options:       options,
				QualityWeight: int(tier.QualityWeight),
			})
		}
		doc.Units[code.String()] = tiers
	}
	return doc
}

func fromDoc(version shared.TableVersion, doc tableDoc) *scoretable.Table {
	t := &scoretable.Table{
		Version:     version,
		Description: doc.Description,
		Units:       make(map[shared.UnitCode]scoretable.UnitRules, len(doc.Units)),
	}
	for code, tiers := range doc.Units {
		rules := scoretable.UnitRules{UnitCode: shared.UnitCode(code)}
		for _, tier := range tiers {
			options := make(map[learning.Slot][]string, len(tier.Options))
			for slot, opts := range tier.Options {
				options[learning.Slot(slot)] = opts
			}
			rules.Tiers = append(rules.Tiers, scoretable.Tier{
				Label:         tier.Label,
				MinScore:      shared.Score(tier.MinScore),
				MaxScore:      shared.Score(tier.MaxScore),
				Options:       options,
				QualityWeight: shared.QualityWeight(tier.QualityWeight),
			})
		}
		t.Units[shared.UnitCode(code)] = rules
	}
	return t.Sorted()
}

// ─────────────────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────────────────

// Publish validates and stores a new version.
func (r *ScoreTableRepository) Publish(ctx context.Context, t *scoretable.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	docJSON, err := json.Marshal(toDoc(t))
	if err != nil {
		return fmt.Errorf("failed to marshal score table: %w", err)
	}
	query := `
		INSERT INTO score_tables (version, definition, active, published_at)
		VALUES ($1, $2, FALSE, NOW())
	`
	if _, err := r.conn.Exec(ctx, query, t.Version.String(), docJSON); err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("scoretable", "Publish", shared.ErrAlreadyExists,
				"version already published", err)
		}
		return fmt.Errorf("failed to publish score table: %w", err)
	}
	return nil
}

// Activate flips the active flag to the given version atomically.
func (r *ScoreTableRepository) Activate(ctx context.Context, version shared.TableVersion) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE score_tables SET active = FALSE WHERE active`); err != nil {
			return fmt.Errorf("failed to deactivate current table: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE score_tables SET active = TRUE WHERE version = $1`, version.String())
		if err != nil {
			return fmt.Errorf("failed to activate table: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrTableNotFound
		}
		return nil
	})
}

// GetActive returns the active version.
func (r *ScoreTableRepository) GetActive(ctx context.Context) (*scoretable.Table, error) {
	query := `
		SELECT version, definition, active, published_at
		FROM score_tables
		WHERE active
	`
	t, err := r.scanTable(r.conn.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNoActiveTable
		}
		return nil, err
	}
	return t, nil
}

// GetVersion returns a specific version.
func (r *ScoreTableRepository) GetVersion(ctx context.Context, version shared.TableVersion) (*scoretable.Table, error) {
	query := `
		SELECT version, definition, active, published_at
		FROM score_tables
		WHERE version = $1
	`
	t, err := r.scanTable(r.conn.QueryRow(ctx, query, version.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListVersions returns all version ids, newest first.
func (r *ScoreTableRepository) ListVersions(ctx context.Context) ([]shared.TableVersion, error) {
	rows, err := r.conn.Query(ctx, `SELECT version FROM score_tables ORDER BY published_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list table versions: %w", err)
	}
	defer rows.Close()

	var versions []shared.TableVersion
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan table version: %w", err)
		}
		versions = append(versions, shared.TableVersion(v))
	}
	return versions, rows.Err()
}

func (r *ScoreTableRepository) scanTable(row pgx.Row) (*scoretable.Table, error) {
	var version string
	var docJSON []byte
	var active bool
	var publishedAt time.Time
	if err := row.Scan(&version, &docJSON, &active, &publishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan score table: %w", err)
	}
	var doc tableDoc
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal score table: %w", err)
	}
	t := fromDoc(shared.TableVersion(version), doc)
	t.Active = active
	t.PublishedAt = publishedAt
	return t, nil
}
