package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

const bookingColumns = `id, status, version, rider_id, driver_id,
	pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, pickup_address, dropoff_address,
	requires_wheelchair, scheduled_pickup, payment_intent_id,
	fare_estimate_amount, fare_currency, final_fare_amount,
	est_distance_km, est_duration_min, pin_code, canceled_by, created_at, updated_at`

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Create(ctx context.Context, b *models.Booking) error {
	var (
		pickupLat, pickupLon, dropoffLat, dropoffLon sql.NullFloat64
		estimate, final                              sql.NullInt64
		currency                                     sql.NullString
	)
	if b.Pickup != nil {
		pickupLat = sql.NullFloat64{Float64: b.Pickup.Lat, Valid: true}
		pickupLon = sql.NullFloat64{Float64: b.Pickup.Lon, Valid: true}
	}
	if b.Dropoff != nil {
		dropoffLat = sql.NullFloat64{Float64: b.Dropoff.Lat, Valid: true}
		dropoffLon = sql.NullFloat64{Float64: b.Dropoff.Lon, Valid: true}
	}
	if b.FareEstimate != nil {
		estimate = sql.NullInt64{Int64: b.FareEstimate.Amount, Valid: true}
		currency = sql.NullString{String: b.FareEstimate.Currency, Valid: true}
	}
	if b.FinalFare != nil {
		final = sql.NullInt64{Int64: b.FinalFare.Amount, Valid: true}
		currency = sql.NullString{String: b.FinalFare.Currency, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(`+bookingColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		b.ID, string(b.Status), b.Version, b.RiderID, nullString(b.DriverID),
		pickupLat, pickupLon, dropoffLat, dropoffLon, b.PickupAddress, b.DropoffAddress,
		b.RequiresWheelchair, b.ScheduledPickup, nullString(b.PaymentIntentID),
		estimate, currency, final,
		nullFloat(b.EstimatedDistanceKm), nullFloat(b.EstimatedDurationMin), b.PinCode,
		nullReason(b.CanceledBy), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("booking %s: %w", b.ID, models.ErrConflict)
		}
		return fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, &models.NotFoundError{Resource: "booking", ID: id}
	}
	if err != nil {
		return models.Booking{}, fmt.Errorf("select booking %s: %w", id, err)
	}
	return b, nil
}

// Transition is a single conditional UPDATE. Zero affected rows means the
// precondition failed or the row is gone; a follow-up EXISTS tells which.
func (p *PostgresStore) Transition(ctx context.Context, id string, exp Expect, c Change) (models.Booking, error) {
	var (
		final    sql.NullInt64
		currency sql.NullString
	)
	if c.FinalFare != nil {
		final = sql.NullInt64{Int64: c.FinalFare.Amount, Valid: true}
		currency = sql.NullString{String: c.FinalFare.Currency, Valid: true}
	}
	row := p.db.QueryRowContext(ctx, `UPDATE bookings SET
		status=$1, version=version+1, updated_at=$2,
		driver_id = CASE WHEN $3::boolean THEN NULL ELSE COALESCE($4, driver_id) END,
		final_fare_amount = COALESCE($5, final_fare_amount),
		fare_currency = COALESCE($6, fare_currency),
		canceled_by = COALESCE($7, canceled_by)
		WHERE id=$8 AND status=$9 AND version=$10
		RETURNING `+bookingColumns,
		string(c.To), c.At, c.ClearDriver, nullString(c.DriverID),
		final, currency, nullReason(c.CanceledBy),
		id, string(exp.Status), exp.Version)
	b, err := scanBooking(row)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, fmt.Errorf("transition booking %s: %w", id, err)
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, id).Scan(&exists); err != nil {
		return models.Booking{}, fmt.Errorf("transition booking %s: %w", id, err)
	}
	if !exists {
		return models.Booking{}, &models.NotFoundError{Resource: "booking", ID: id}
	}
	return models.Booking{}, fmt.Errorf("booking %s no longer %s v%d: %w", id, exp.Status, exp.Version, models.ErrConflict)
}

func (p *PostgresStore) RiderEmail(ctx context.Context, riderID string) (string, error) {
	var email sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT email FROM riders WHERE id=$1`, riderID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && strings.TrimSpace(email.String) == "") {
		return "", &models.NotFoundError{Resource: "rider", ID: riderID}
	}
	if err != nil {
		return "", fmt.Errorf("select rider %s: %w", riderID, err)
	}
	return email.String, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var (
		b                                            models.Booking
		status                                       string
		driverID, paymentID, currency, canceledBy    sql.NullString
		pickupLat, pickupLon, dropoffLat, dropoffLon sql.NullFloat64
		estimate, final                              sql.NullInt64
		distance, duration                           sql.NullFloat64
	)
	err := row.Scan(&b.ID, &status, &b.Version, &b.RiderID, &driverID,
		&pickupLat, &pickupLon, &dropoffLat, &dropoffLon, &b.PickupAddress, &b.DropoffAddress,
		&b.RequiresWheelchair, &b.ScheduledPickup, &paymentID,
		&estimate, &currency, &final,
		&distance, &duration, &b.PinCode, &canceledBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return models.Booking{}, err
	}
	b.Status = models.Status(status)
	if driverID.Valid {
		b.DriverID = &driverID.String
	}
	if paymentID.Valid {
		b.PaymentIntentID = &paymentID.String
	}
	if pickupLat.Valid && pickupLon.Valid {
		b.Pickup = &models.Coord{Lat: pickupLat.Float64, Lon: pickupLon.Float64}
	}
	if dropoffLat.Valid && dropoffLon.Valid {
		b.Dropoff = &models.Coord{Lat: dropoffLat.Float64, Lon: dropoffLon.Float64}
	}
	if estimate.Valid {
		b.FareEstimate = &models.Money{Amount: estimate.Int64, Currency: currency.String}
	}
	if final.Valid {
		b.FinalFare = &models.Money{Amount: final.Int64, Currency: currency.String}
	}
	if distance.Valid {
		b.EstimatedDistanceKm = &distance.Float64
	}
	if duration.Valid {
		b.EstimatedDurationMin = &duration.Float64
	}
	if canceledBy.Valid {
		r := models.CancelReason(canceledBy.String)
		b.CanceledBy = &r
	}
	return b, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullReason(r *models.CancelReason) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}
