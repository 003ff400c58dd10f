package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/turtacn/abcflow/internal/domain/run"
	"github.com/turtacn/abcflow/internal/infrastructure/database/postgres"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

const runColumns = `id, method, status, epsilon, num_samples, batch_size, seed, observed, accepted,
	trial_count, estimate, populations, error_code, error, archive_key, elapsed_ms, created_at, completed_at`

type postgresRunRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

func NewPostgresRunRepo(conn *postgres.Connection, log logging.Logger) run.Repository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &postgresRunRepo{conn: conn, log: log}
}

func (r *postgresRunRepo) Create(ctx context.Context, rn *run.Run) error {
	query := `
		INSERT INTO abc_runs (id, method, status, epsilon, num_samples, batch_size, seed, observed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.conn.DB().ExecContext(ctx, query,
		rn.ID, string(rn.Method), string(rn.Status), rn.Epsilon, rn.NumSamples, rn.BatchSize,
		int64(rn.Seed), pq.Array(nonNil(rn.Observed)), rn.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.Newf(errors.ErrCodeConflict, "run %s already exists", rn.ID)
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create run")
	}
	return nil
}

// Finish writes the terminal state and replaces the stored samples in one
// transaction.
func (r *postgresRunRepo) Finish(ctx context.Context, rn *run.Run) error {
	pops, err := json.Marshal(nonNilPops(rn.Populations))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode populations")
	}

	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE abc_runs
			SET status = $1, accepted = $2, trial_count = $3, estimate = $4, populations = $5,
				error_code = $6, error = $7, archive_key = $8, elapsed_ms = $9, completed_at = $10
			WHERE id = $11
		`
		res, err := tx.ExecContext(ctx, query,
			string(rn.Status), rn.Accepted, rn.TrialCount, pq.Array(nonNil(rn.Estimate)), pops,
			rn.ErrorCode, rn.Error, rn.ArchiveKey, rn.Elapsed.Milliseconds(), rn.CompletedAt, rn.ID,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update run")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", rn.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM abc_samples WHERE run_id = $1`, rn.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear samples")
		}
		if len(rn.Samples) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO abc_samples (run_id, population, idx, parameters, distance, weight)
			VALUES ($1, $2, $3, $4, $5, $6)
		`)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to prepare sample insert")
		}
		defer stmt.Close()

		idx := make(map[int]int)
		for _, s := range rn.Samples {
			i := idx[s.Population]
			idx[s.Population] = i + 1
			if _, err := stmt.ExecContext(ctx, rn.ID, s.Population, i, pq.Array(s.Parameters), s.Distance, s.Weight); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert sample")
			}
		}
		r.log.Debug("Stored run samples", logging.String("run_id", rn.ID), logging.Int("count", len(rn.Samples)))
		return nil
	})
}

func (r *postgresRunRepo) Get(ctx context.Context, id string) (*run.Run, error) {
	row := r.conn.DB().QueryRowContext(ctx, `SELECT `+runColumns+` FROM abc_runs WHERE id = $1`, id)
	rn, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.DB().QueryContext(ctx, `
		SELECT population, parameters, distance, weight
		FROM abc_samples WHERE run_id = $1
		ORDER BY population, idx
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query samples")
	}
	defer rows.Close()

	for rows.Next() {
		var s run.Sample
		if err := rows.Scan(&s.Population, pq.Array(&s.Parameters), &s.Distance, &s.Weight); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan sample")
		}
		rn.Samples = append(rn.Samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate samples")
	}
	return rn, nil
}

func (r *postgresRunRepo) List(ctx context.Context, opts ...run.ListOption) ([]*run.Run, error) {
	o := run.ApplyListOptions(opts...)

	var (
		conds []string
		args  []interface{}
	)
	if o.Status != "" {
		args = append(args, string(o.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if o.Method != "" {
		args = append(args, string(o.Method))
		conds = append(conds, fmt.Sprintf("method = $%d", len(args)))
	}
	query := `SELECT ` + runColumns + ` FROM abc_runs`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, o.Limit, o.Offset)

	rows, err := r.conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list runs")
	}
	defer rows.Close()

	var out []*run.Run
	for rows.Next() {
		rn, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate runs")
	}
	return out, nil
}

func (r *postgresRunRepo) Delete(ctx context.Context, id string) error {
	res, err := r.conn.DB().ExecContext(ctx, `DELETE FROM abc_runs WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", id)
	}
	return nil
}

func scanRun(row scanner) (*run.Run, error) {
	var (
		rn          run.Run
		method      string
		status      string
		seed        int64
		pops        []byte
		elapsedMS   int64
		completedAt sql.NullTime
	)
	err := row.Scan(
		&rn.ID, &method, &status, &rn.Epsilon, &rn.NumSamples, &rn.BatchSize, &seed,
		pq.Array(&rn.Observed), &rn.Accepted, &rn.TrialCount, pq.Array(&rn.Estimate), &pops,
		&rn.ErrorCode, &rn.Error, &rn.ArchiveKey, &elapsedMS, &rn.CreatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan run")
	}
	rn.Method = run.Method(method)
	rn.Status = run.Status(status)
	rn.Seed = uint64(seed)
	rn.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if completedAt.Valid {
		t := completedAt.Time
		rn.CompletedAt = &t
	}
	if len(pops) > 0 {
		if err := json.Unmarshal(pops, &rn.Populations); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode populations")
		}
		if len(rn.Populations) == 0 {
			rn.Populations = nil
		}
	}
	return &rn, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func nonNilPops(p []run.PopulationSummary) []run.PopulationSummary {
	if p == nil {
		return []run.PopulationSummary{}
	}
	return p
}

//Personal.AI order the ending
