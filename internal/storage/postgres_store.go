package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/rider-dispatch/internal/models"
)

// PostgresStore implements RiderStore and OrderStore on top of lib/pq.
// Set-valued fields (service areas, declined-by) are stored as
// comma-joined text; only this layer knows that encoding.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const riderColumns = `id, name, email, status, lat, lon, location_updated_at, service_areas, rating, completed_deliveries, max_weight_kg, max_dimension_cm`

func (p *PostgresStore) RiderByID(ctx context.Context, id string) (models.Rider, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+riderColumns+` FROM riders WHERE id=$1`, id)
	return scanRider(row)
}

func (p *PostgresStore) RiderByEmail(ctx context.Context, email string) (models.Rider, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+riderColumns+` FROM riders WHERE email=$1`, email)
	return scanRider(row)
}

func (p *PostgresStore) AllRiders(ctx context.Context) ([]models.Rider, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+riderColumns+` FROM riders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Rider
	for rows.Next() {
		r, err := scanRider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateRiderStatus(ctx context.Context, id string, status models.RiderStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE riders SET status=$1 WHERE id=$2`, status.String(), id)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrNotFound)
}

func (p *PostgresStore) CompareAndSetRiderStatus(ctx context.Context, id string, expect, next models.RiderStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE riders SET status=$1 WHERE id=$2 AND status=$3`, next.String(), id, expect.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Zero rows: distinguish a lost race from a missing rider.
	var one int
	if err := p.db.QueryRowContext(ctx, `SELECT 1 FROM riders WHERE id=$1`, id).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	return ErrStatusConflict
}

func (p *PostgresStore) UpdateRiderLocation(ctx context.Context, id string, lat, lon float64, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE riders SET lat=$1, lon=$2, location_updated_at=$3 WHERE id=$4`, lat, lon, at, id)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrNotFound)
}

func (p *PostgresStore) OrderByID(ctx context.Context, id string) (models.Order, error) {
	o, err := p.orderByID(ctx, p.db, id)
	if err != nil {
		return models.Order{}, err
	}
	history, err := p.orderHistory(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	o.StatusHistory = history
	return o, nil
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, id string, patch OrderPatch) (models.Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, err
	}
	defer tx.Rollback()

	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.AssignedRiderID != nil {
		add("assigned_rider_id", nullableString(*patch.AssignedRiderID))
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.NeedsManualAssignment != nil {
		add("needs_manual_assignment", *patch.NeedsManualAssignment)
	}
	if patch.ExpectedPickupTime != nil {
		add("expected_pickup_time", *patch.ExpectedPickupTime)
	}
	if patch.ExpectedDeliveryTime != nil {
		add("expected_delivery_time", *patch.ExpectedDeliveryTime)
	}
	if len(sets) > 0 {
		args = append(args, id)
		q := fmt.Sprintf(`UPDATE orders SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return models.Order{}, err
		}
		if err := checkAffected(res, ErrNotFound); err != nil {
			return models.Order{}, err
		}
	}
	for _, e := range patch.AppendHistory {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_status_history(order_id, status, recorded_at, note) VALUES($1,$2,$3,$4)`,
			id, e.Status, e.Timestamp, e.Note); err != nil {
			return models.Order{}, err
		}
	}
	o, err := p.orderByID(ctx, tx, id)
	if err != nil {
		return models.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Order{}, err
	}
	history, err := p.orderHistory(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	o.StatusHistory = history
	return o, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (p *PostgresStore) orderByID(ctx context.Context, q querier, id string) (models.Order, error) {
	var (
		o          models.Order
		rider      sql.NullString
		declined   sql.NullString
		pickupAt   sql.NullTime
		deliveryAt sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, pickup_lat, pickup_lon, distance_category, parcel_weight_kg, assigned_rider_id,
		        status, declined_by, needs_manual_assignment, expected_pickup_time, expected_delivery_time
		   FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.PickupLocation.Lat, &o.PickupLocation.Lon, &o.DistanceCategory, &o.ParcelWeightKg,
			&rider, &o.Status, &declined, &o.NeedsManualAssignment, &pickupAt, &deliveryAt)
	if err == sql.ErrNoRows {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	o.AssignedRiderID = rider.String
	o.DeclinedBy = splitSet(declined.String)
	if pickupAt.Valid {
		t := pickupAt.Time
		o.ExpectedPickupTime = &t
	}
	if deliveryAt.Valid {
		t := deliveryAt.Time
		o.ExpectedDeliveryTime = &t
	}
	return o, nil
}

func (p *PostgresStore) orderHistory(ctx context.Context, id string) ([]models.StatusEntry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT status, recorded_at, note FROM order_status_history WHERE order_id=$1 ORDER BY recorded_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StatusEntry
	for rows.Next() {
		var e models.StatusEntry
		if err := rows.Scan(&e.Status, &e.Timestamp, &e.Note); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRider(row rowScanner) (models.Rider, error) {
	var (
		r     models.Rider
		email sql.NullString
		lat   sql.NullFloat64
		lon   sql.NullFloat64
		locAt sql.NullTime
		areas sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &email, (*string)(&r.Status), &lat, &lon, &locAt, &areas,
		&r.Rating, &r.CompletedDeliveries, &r.Capacity.MaxWeightKg, &r.Capacity.MaxDimensionCm)
	if err == sql.ErrNoRows {
		return models.Rider{}, ErrNotFound
	}
	if err != nil {
		return models.Rider{}, err
	}
	r.Email = email.String
	r.ServiceAreas = splitSet(areas.String)
	if lat.Valid && lon.Valid {
		r.Location = &models.Location{Lat: lat.Float64, Lon: lon.Float64, UpdatedAt: locAt.Time}
	}
	return r, nil
}

func checkAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func splitSet(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
