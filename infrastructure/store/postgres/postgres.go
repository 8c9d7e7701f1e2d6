// Package postgres is the daemon-facing domain/kernel.Store: reservations,
// slices, and known brokers are each persisted as one JSONB-payload row per
// id (sqlx.DB, context-scoped queries, ON CONFLICT upserts) rather than a
// normalized relational schema —
// a Reservation's shape follows the negotiation state machine, not a fixed
// set of queryable columns, so the payload is opaque past id/slice_id/category.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

var _ kernel.Store = (*Store)(nil)

// Store is a PostgreSQL-backed domain/kernel.Store.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-connected *sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open establishes a PostgreSQL connection using dsn and verifies
// connectivity with a ping, mirroring internal/platform/database.Open but
// returning an *sqlx.DB so callers get NamedExec/Get/Select for free.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, cperrors.Internal("open postgres", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, cperrors.Internal("ping postgres", err)
	}
	return db, nil
}

type reservationRow struct {
	ID        string    `db:"id"`
	SliceID   string    `db:"slice_id"`
	Category  string    `db:"category"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) PutReservation(ctx context.Context, r *reservation.Reservation) error {
	payload, err := json.Marshal(r.Snapshot())
	if err != nil {
		return cperrors.Internal("marshal reservation snapshot", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reservations (id, slice_id, category, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET slice_id = EXCLUDED.slice_id,
		    category = EXCLUDED.category,
		    payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
	`, r.ID().String(), r.SliceID().String(), string(r.Category()), payload, time.Now().UTC())
	if err != nil {
		return cperrors.StoreFailure("put_reservation", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id reservation.ID) (*reservation.Reservation, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row, `SELECT id, slice_id, category, payload, updated_at FROM reservations WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cperrors.NotFound("reservation", id.String())
	}
	if err != nil {
		return nil, cperrors.StoreFailure("get_reservation", err)
	}
	return decodeReservation(row.Payload)
}

func (s *Store) ListReservations(ctx context.Context) ([]*reservation.Reservation, error) {
	var rows []reservationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, slice_id, category, payload, updated_at FROM reservations`); err != nil {
		return nil, cperrors.StoreFailure("list_reservations", err)
	}
	out := make([]*reservation.Reservation, 0, len(rows))
	for _, row := range rows {
		r, err := decodeReservation(row.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeReservation(payload []byte) (*reservation.Reservation, error) {
	var snap reservation.ReservationSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, cperrors.Internal("unmarshal reservation snapshot", err)
	}
	return reservation.RestoreReservation(snap), nil
}

type sliceRow struct {
	ID        string    `db:"id"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) PutSlice(ctx context.Context, sl *reservation.Slice) error {
	payload, err := json.Marshal(sl.Snapshot())
	if err != nil {
		return cperrors.Internal("marshal slice snapshot", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO slices (id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, sl.ID().String(), payload, time.Now().UTC())
	if err != nil {
		return cperrors.StoreFailure("put_slice", err)
	}
	return nil
}

func (s *Store) GetSlice(ctx context.Context, id reservation.ID) (*reservation.Slice, error) {
	var row sliceRow
	err := s.db.GetContext(ctx, &row, `SELECT id, payload, updated_at FROM slices WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cperrors.NotFound("slice", id.String())
	}
	if err != nil {
		return nil, cperrors.StoreFailure("get_slice", err)
	}
	return decodeSlice(row.Payload)
}

func (s *Store) ListSlices(ctx context.Context) ([]*reservation.Slice, error) {
	var rows []sliceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, payload, updated_at FROM slices`); err != nil {
		return nil, cperrors.StoreFailure("list_slices", err)
	}
	out := make([]*reservation.Slice, 0, len(rows))
	for _, row := range rows {
		sl, err := decodeSlice(row.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, nil
}

func decodeSlice(payload []byte) (*reservation.Slice, error) {
	var snap reservation.SliceSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, cperrors.Internal("unmarshal slice snapshot", err)
	}
	return reservation.RestoreSlice(snap), nil
}

type brokerRow struct {
	GUID     string `db:"guid"`
	Name     string `db:"name"`
	Endpoint string `db:"endpoint"`
}

func (s *Store) PutBroker(ctx context.Context, handle registry.ProxyHandle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO brokers (guid, name, endpoint)
		VALUES ($1, $2, $3)
		ON CONFLICT (guid) DO UPDATE
		SET name = EXCLUDED.name, endpoint = EXCLUDED.endpoint
	`, handle.GUID.String(), handle.Name, handle.Endpoint)
	if err != nil {
		return cperrors.StoreFailure("put_broker", err)
	}
	return nil
}

func (s *Store) GetBrokers(ctx context.Context) ([]registry.ProxyHandle, error) {
	var rows []brokerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT guid, name, endpoint FROM brokers`); err != nil {
		return nil, cperrors.StoreFailure("get_brokers", err)
	}
	out := make([]registry.ProxyHandle, 0, len(rows))
	for _, row := range rows {
		guid, err := reservation.ParseID(row.GUID)
		if err != nil {
			return nil, cperrors.Internal("parse broker guid", err)
		}
		out = append(out, registry.ProxyHandle{GUID: guid, Name: row.Name, Endpoint: row.Endpoint})
	}
	return out, nil
}
