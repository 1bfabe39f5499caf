package persist

import (
	"context"
	"fmt"

	"github.com/umbragrid/server/internal/vision"
)

// VisibilityRepo persists graded visibility states and manual overrides.
type VisibilityRepo struct {
	db *DB
}

func NewVisibilityRepo(db *DB) *VisibilityRepo {
	return &VisibilityRepo{db: db}
}

// LoadStates reads the full visibility map: observer -> target -> state.
// Observed entries are not stored, so their absence reads back correctly.
func (r *VisibilityRepo) LoadStates(ctx context.Context) (map[string]map[string]vision.State, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT observer, target, state FROM visibility_states`)
	if err != nil {
		return nil, fmt.Errorf("load visibility states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]vision.State)
	for rows.Next() {
		var observer, target string
		var state int16
		if err := rows.Scan(&observer, &target, &state); err != nil {
			return nil, fmt.Errorf("scan visibility state: %w", err)
		}
		m := out[observer]
		if m == nil {
			m = make(map[string]vision.State)
			out[observer] = m
		}
		m[target] = vision.State(state)
	}
	return out, rows.Err()
}

// ApplyUpdates atomically writes a batch of deltas in a single transaction.
// Observed deltas delete the row instead of storing the zero state.
func (r *VisibilityRepo) ApplyUpdates(ctx context.Context, updates []vision.Update) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("visibility begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if u.State == vision.Observed {
			if _, err := tx.Exec(ctx,
				`DELETE FROM visibility_states WHERE observer = $1 AND target = $2`,
				u.Observer, u.Target,
			); err != nil {
				return fmt.Errorf("visibility delete: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO visibility_states (observer, target, state)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (observer, target)
			 DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
			u.Observer, u.Target, int16(u.State),
		); err != nil {
			return fmt.Errorf("visibility upsert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RemoveEntity drops all rows naming the entity, observer or target side.
// Called when a token leaves the scene.
func (r *VisibilityRepo) RemoveEntity(ctx context.Context, id string) error {
	if _, err := r.db.Pool.Exec(ctx,
		`DELETE FROM visibility_states WHERE observer = $1 OR target = $1`, id,
	); err != nil {
		return fmt.Errorf("visibility remove entity: %w", err)
	}
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM visibility_overrides WHERE observer = $1 OR target = $1`, id)
	if err != nil {
		return fmt.Errorf("override remove entity: %w", err)
	}
	return nil
}

// LoadOverrides reads all manual overrides.
func (r *VisibilityRepo) LoadOverrides(ctx context.Context) (map[[2]string]vision.State, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT observer, target, state FROM visibility_overrides`)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[[2]string]vision.State)
	for rows.Next() {
		var observer, target string
		var state int16
		if err := rows.Scan(&observer, &target, &state); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out[[2]string{observer, target}] = vision.State(state)
	}
	return out, rows.Err()
}

// SetOverride pins a directed pair to a fixed state.
func (r *VisibilityRepo) SetOverride(ctx context.Context, observer, target string, state vision.State) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO visibility_overrides (observer, target, state)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (observer, target) DO UPDATE SET state = EXCLUDED.state`,
		observer, target, int16(state))
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

// ClearOverride removes a pinned state. Missing rows are a no-op.
func (r *VisibilityRepo) ClearOverride(ctx context.Context, observer, target string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM visibility_overrides WHERE observer = $1 AND target = $2`,
		observer, target)
	if err != nil {
		return fmt.Errorf("clear override: %w", err)
	}
	return nil
}
