package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/journal"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.EventStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the journal table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contract_events (
			id             TEXT PRIMARY KEY,
			contract_id    TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			result         BIGINT NOT NULL DEFAULT 0,
			payout         BIGINT NOT NULL DEFAULT 0,
			detail         JSONB,
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS contract_events_contract_idx
			ON contract_events (contract_id, created_at);
	`)
	return err
}

func (s *Store) AppendEvent(ctx context.Context, evt journal.Event) (journal.Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	detailJSON, err := json.Marshal(evt.Detail)
	if err != nil {
		return journal.Event{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contract_events (id, contract_id, event_type, correlation_id, result, payout, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.ID, evt.ContractID, string(evt.Type), evt.CorrelationID, int64(evt.Result), int64(evt.Payout), detailJSON, evt.CreatedAt)
	if err != nil {
		return journal.Event{}, err
	}
	return evt, nil
}

func (s *Store) ListEvents(ctx context.Context, contractID string) ([]journal.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contract_id, event_type, correlation_id, result, payout, detail, created_at
		FROM contract_events
		WHERE contract_id = $1
		ORDER BY created_at, id
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []journal.Event
	for rows.Next() {
		var (
			evt        journal.Event
			eventType  string
			resultVal  int64
			payoutVal  int64
			detailJSON []byte
		)
		if err := rows.Scan(&evt.ID, &evt.ContractID, &eventType, &evt.CorrelationID, &resultVal, &payoutVal, &detailJSON, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.Type = journal.EventType(eventType)
		evt.Result = uint64(resultVal)
		evt.Payout = uint64(payoutVal)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &evt.Detail); err != nil {
				return nil, err
			}
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}
