package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"tenderwatch/domain/core"
	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/internal/errors"
	"tenderwatch/ports"

	"github.com/jmoiron/sqlx"
)

// CounterfactualRepository implements ports.CounterfactualStore on a SQL database.
// It runs on PostgreSQL in production and on SQLite for embedded use and tests.
type CounterfactualRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ ports.CounterfactualStore = (*CounterfactualRepository)(nil)

// NewCounterfactualRepository creates a new counterfactual cache repository
func NewCounterfactualRepository(db *sqlx.DB) *CounterfactualRepository {
	return &CounterfactualRepository{db: db, now: time.Now}
}

type cacheRow struct {
	TenderID            string    `db:"tender_id"`
	OriginalScore       float64   `db:"original_score"`
	Features            string    `db:"counterfactual_features"`
	CounterfactualScore float64   `db:"counterfactual_score"`
	Distance            float64   `db:"distance"`
	Feasibility         float64   `db:"feasibility_score"`
	NumChanges          int       `db:"num_changes"`
	MeetsTarget         bool      `db:"meets_target"`
	GeneratedAt         time.Time `db:"generated_at"`
}

// GetCached returns the tender's cached counterfactuals, most minimal first
func (r *CounterfactualRepository) GetCached(ctx context.Context, tenderID core.TenderID) ([]domainCF.Cached, error) {
	var rows []cacheRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT tender_id, original_score, counterfactual_features, counterfactual_score,
		       distance, feasibility_score, num_changes, meets_target, generated_at
		FROM counterfactual_cache
		WHERE tender_id = ?
		ORDER BY distance ASC, num_changes ASC, id ASC
	`), tenderID.String())
	if err != nil {
		return nil, errors.Wrapf(errors.DatabaseError(err.Error()), "failed to read counterfactuals for tender %s", tenderID)
	}

	cached := make([]domainCF.Cached, 0, len(rows))
	for _, row := range rows {
		cached = append(cached, domainCF.Cached{
			Counterfactual: domainCF.Counterfactual{
				ChangedFeatures:     decodeChanges(tenderID, row.Features),
				CounterfactualScore: row.CounterfactualScore,
				Distance:            row.Distance,
				Feasibility:         row.Feasibility,
				NumChanges:          row.NumChanges,
				MeetsTarget:         row.MeetsTarget,
			},
			TenderID:      row.TenderID,
			OriginalScore: row.OriginalScore,
			GeneratedAt:   row.GeneratedAt,
			Cached:        true,
		})
	}
	return cached, nil
}

// decodeChanges never fails: unreadable payloads become an empty change set.
func decodeChanges(tenderID core.TenderID, payload string) map[string]domainCF.Change {
	changes := map[string]domainCF.Change{}
	if err := json.Unmarshal([]byte(payload), &changes); err != nil || changes == nil {
		log.Printf("[CounterfactualRepository] Malformed counterfactual_features for tender %s: %v", tenderID, err)
		return map[string]domainCF.Change{}
	}
	return changes
}

// Save replaces the tender's cached set in one transaction and returns the number of rows written
func (r *CounterfactualRepository) Save(ctx context.Context, tenderID core.TenderID, originalScore float64, cfs []domainCF.Counterfactual) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(errors.DatabaseError(err.Error()), "failed to begin cache transaction")
	}
	defer tx.Rollback()

	// Serialises concurrent saves for one tender across processes.
	if r.db.DriverName() == "postgres" {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenderID.String()); err != nil {
			return 0, errors.Wrap(errors.DatabaseError(err.Error()), "failed to lock tender cache")
		}
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM counterfactual_cache WHERE tender_id = ?`), tenderID.String()); err != nil {
		return 0, errors.Wrapf(errors.DatabaseError(err.Error()), "failed to clear cache for tender %s", tenderID)
	}

	insert := tx.Rebind(`
		INSERT INTO counterfactual_cache (tender_id, original_score, counterfactual_features, counterfactual_score,
		                                  distance, feasibility_score, num_changes, meets_target, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	generatedAt := r.now().UTC()
	written := 0
	for _, cf := range cfs {
		payload, err := json.Marshal(cf.ChangedFeatures)
		if err != nil {
			return 0, errors.Wrap(err, "failed to marshal changed features")
		}
		// Passed as a string so PostgreSQL receives JSON text, not bytea.
		if _, err := tx.ExecContext(ctx, insert, tenderID.String(), originalScore, string(payload),
			cf.CounterfactualScore, cf.Distance, cf.Feasibility, cf.NumChanges, cf.MeetsTarget, generatedAt); err != nil {
			return 0, errors.Wrapf(errors.DatabaseError(err.Error()), "failed to insert counterfactual for tender %s", tenderID)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(errors.DatabaseError(err.Error()), "failed to commit cache transaction")
	}
	return written, nil
}

// Invalidate removes every cached counterfactual for the tender
func (r *CounterfactualRepository) Invalidate(ctx context.Context, tenderID core.TenderID) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM counterfactual_cache WHERE tender_id = ?`), tenderID.String())
	if err != nil {
		return false, errors.Wrapf(errors.DatabaseError(err.Error()), "failed to invalidate cache for tender %s", tenderID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(errors.DatabaseError(err.Error()), "failed to count invalidated rows")
	}
	return affected > 0, nil
}

// Stats summarises the whole cache
func (r *CounterfactualRepository) Stats(ctx context.Context) (domainCF.CacheStats, error) {
	var stats domainCF.CacheStats

	var counts struct {
		Total   int `db:"total"`
		Tenders int `db:"tenders"`
	}
	if err := r.db.GetContext(ctx, &counts, `
		SELECT COUNT(*) AS total, COUNT(DISTINCT tender_id) AS tenders
		FROM counterfactual_cache
	`); err != nil {
		return stats, errors.Wrap(errors.DatabaseError(err.Error()), "failed to count cached counterfactuals")
	}
	stats.TotalCached = counts.Total
	stats.UniqueTenders = counts.Tenders
	if counts.Tenders > 0 {
		stats.AvgPerTender = float64(counts.Total) / float64(counts.Tenders)
	}

	// Ordered single-row reads keep the column type, so drivers return time.Time rather than text.
	oldest, err := r.boundary(ctx, "ASC")
	if err != nil {
		return stats, err
	}
	newest, err := r.boundary(ctx, "DESC")
	if err != nil {
		return stats, err
	}
	stats.Oldest, stats.Newest = oldest, newest
	return stats, nil
}

func (r *CounterfactualRepository) boundary(ctx context.Context, order string) (*time.Time, error) {
	var ts time.Time
	err := r.db.GetContext(ctx, &ts, `SELECT generated_at FROM counterfactual_cache ORDER BY generated_at `+order+` LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseError(err.Error()), "failed to read cache timestamps")
	}
	return &ts, nil
}
