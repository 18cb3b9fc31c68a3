package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"epon-monitor/internal/monitor"
)

// Transition is one archived health transition row.
type Transition struct {
	ID         string          `json:"id"`
	ONUID      string          `json:"onu_id"`
	OLTID      string          `json:"olt_id,omitempty"`
	Kind       string          `json:"kind"`
	Previous   string          `json:"previous"`
	Current    string          `json:"current"`
	Severity   string          `json:"severity"`
	Layer      string          `json:"layer"`
	Causes     json.RawMessage `json:"causes"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Repository persists health transitions to Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a transition repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// EnsureSchema creates the transition table when it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("archive repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS health_transitions (
	id              TEXT PRIMARY KEY,
	onu_id          TEXT NOT NULL,
	olt_id          TEXT,
	kind            TEXT NOT NULL,
	previous_health TEXT,
	current_health  TEXT NOT NULL,
	severity        TEXT NOT NULL,
	likely_layer    TEXT,
	causes          JSONB,
	rx_power_dbm    DOUBLE PRECISION,
	snr_db          DOUBLE PRECISION,
	ber_pre_fec     DOUBLE PRECISION,
	temperature     DOUBLE PRECISION,
	occurred_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_health_transitions_onu
	ON health_transitions (onu_id, occurred_at DESC)`)
	return err
}

// SaveTransition implements monitor.TransitionArchive.
func (r *Repository) SaveTransition(ctx context.Context, event monitor.HealthEvent) error {
	if r == nil || r.db == nil {
		return errors.New("archive repo: nil db")
	}
	if event.ID == "" || event.ONUID == "" {
		return errors.New("archive repo: incomplete event")
	}
	causes, err := json.Marshal(event.Result.ProbableCauses)
	if err != nil {
		return err
	}
	var oltID *string
	if event.Result.OLTID != nil {
		oltID = event.Result.OLTID
	}
	qot := event.Event.QoT
	_, err = r.db.ExecContext(ctx, `
INSERT INTO health_transitions (
	id, onu_id, olt_id, kind, previous_health, current_health,
	severity, likely_layer, causes, rx_power_dbm, snr_db, ber_pre_fec,
	temperature, occurred_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, event.ID, event.ONUID, oltID, event.Type, event.Previous, event.Current,
		event.Result.Severity, event.Result.LikelyLayer, causes,
		qot.RxPowerDBm, qot.SNRdB, qot.BERPreFEC, qot.Temperature,
		event.OccurredAt.UTC())
	return err
}

// ListRecent returns the newest transitions, optionally for one ONU.
func (r *Repository) ListRecent(ctx context.Context, onuID string, limit int) ([]Transition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("archive repo: nil db")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
SELECT id, onu_id, COALESCE(olt_id, ''), kind, COALESCE(previous_health, ''),
	current_health, severity, COALESCE(likely_layer, ''), COALESCE(causes, '[]'),
	occurred_at
FROM health_transitions`
	args := []any{}
	if onuID != "" {
		query += `
WHERE onu_id = $1
ORDER BY occurred_at DESC
LIMIT $2`
		args = append(args, onuID, limit)
	} else {
		query += `
ORDER BY occurred_at DESC
LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transition
	for rows.Next() {
		var t Transition
		var causes []byte
		if err := rows.Scan(
			&t.ID,
			&t.ONUID,
			&t.OLTID,
			&t.Kind,
			&t.Previous,
			&t.Current,
			&t.Severity,
			&t.Layer,
			&causes,
			&t.OccurredAt,
		); err != nil {
			return nil, err
		}
		t.Causes = json.RawMessage(causes)
		t.OccurredAt = t.OccurredAt.UTC()
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
