package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

const rideColumns = `id, rider_id, customer_id, rider_name, driver_id, driver_name,
	pickup_address, pickup_lat, pickup_lng, drop_address, drop_lat, drop_lng,
	vehicle_class, fare, distance_km, otp, status,
	created_at, accepted_at, completed_at, actual_distance_km, actual_fare, cancel_reason`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Create(ctx context.Context, r *models.Ride) (*models.Ride, error) {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		r.ID, r.RiderID, r.CustomerID, r.RiderName, nullStr(r.DriverID), nullStr(r.DriverName),
		r.Pickup.Address, r.Pickup.Lat, r.Pickup.Lng, r.Drop.Address, r.Drop.Lat, r.Drop.Lng,
		string(r.Class), r.Fare, r.DistanceKm, r.OTP, string(r.Status),
		r.CreatedAt, nullTime(r.AcceptedAt), nullTime(r.CompletedAt), r.ActualDistanceKm, r.ActualFare, nullStr(r.CancelReason))
	if err != nil {
		var pqErr *pq.Error
		// unique_violation: a retry raced us, return what the winner wrote
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return p.Get(ctx, r.ID)
		}
		return nil, faults.Persistence("create ride", err)
	}
	out := *r
	return &out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	return scanRide(row, id)
}

func (p *PostgresStore) Accept(ctx context.Context, rideID, driverID, driverName string, at time.Time) (*models.Ride, error) {
	// single conditional update; the WHERE clause is the race arbiter
	row := p.db.QueryRowContext(ctx, `UPDATE rides
		SET status='accepted', driver_id=$2, driver_name=$3, accepted_at=$4
		WHERE id=$1 AND status IN ('pending','searching')
		RETURNING `+rideColumns, rideID, driverID, driverName, at)
	r, err := scanRide(row, rideID)
	if err == nil {
		return r, nil
	}
	var nf *faults.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}
	return nil, p.zeroRowsReason(ctx, rideID, "ride no longer available")
}

func (p *PostgresStore) Transition(ctx context.Context, rideID string, from, to models.RideStatus) (*models.Ride, error) {
	if !models.CanTransition(from, to) {
		return nil, faults.Conflict("illegal transition " + string(from) + "→" + string(to))
	}
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET status=$3
		WHERE id=$1 AND status=$2
		RETURNING `+rideColumns, rideID, string(from), string(to))
	r, err := scanRide(row, rideID)
	if err == nil {
		return r, nil
	}
	var nf *faults.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}
	return nil, p.zeroRowsReason(ctx, rideID, "illegal transition to "+string(to))
}

func (p *PostgresStore) Complete(ctx context.Context, rideID string, distanceKm float64, fare int64, at time.Time) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides
		SET status='completed', actual_distance_km=$2, actual_fare=$3, completed_at=$4
		WHERE id=$1 AND status='started'
		RETURNING `+rideColumns, rideID, distanceKm, fare, at)
	r, err := scanRide(row, rideID)
	if err == nil {
		return r, nil
	}
	var nf *faults.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}
	return nil, p.zeroRowsReason(ctx, rideID, "ride not in progress")
}

func (p *PostgresStore) Cancel(ctx context.Context, rideID, reason string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET status='cancelled', cancel_reason=$2
		WHERE id=$1 AND status IN ('pending','searching','accepted')
		RETURNING `+rideColumns, rideID, reason)
	r, err := scanRide(row, rideID)
	if err == nil {
		return r, nil
	}
	var nf *faults.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}
	return nil, p.zeroRowsReason(ctx, rideID, "ride cannot be cancelled")
}

// zeroRowsReason distinguishes a missing ride from a lost condition after a
// conditional update touched no rows.
func (p *PostgresStore) zeroRowsReason(ctx context.Context, rideID, conflictMsg string) error {
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM rides WHERE id=$1`, rideID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return faults.NotFound("ride", rideID)
	}
	if err != nil {
		return faults.Persistence("get ride", err)
	}
	return faults.Conflict(conflictMsg)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner, id string) (*models.Ride, error) {
	var r models.Ride
	var driverID, driverName, cancelReason sql.NullString
	var acceptedAt, completedAt sql.NullTime
	var class, status string
	err := row.Scan(
		&r.ID, &r.RiderID, &r.CustomerID, &r.RiderName, &driverID, &driverName,
		&r.Pickup.Address, &r.Pickup.Lat, &r.Pickup.Lng, &r.Drop.Address, &r.Drop.Lat, &r.Drop.Lng,
		&class, &r.Fare, &r.DistanceKm, &r.OTP, &status,
		&r.CreatedAt, &acceptedAt, &completedAt, &r.ActualDistanceKm, &r.ActualFare, &cancelReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("ride", id)
	}
	if err != nil {
		return nil, faults.Persistence("scan ride", err)
	}
	r.Class = models.VehicleClass(class)
	r.Status = models.RideStatus(status)
	r.DriverID = driverID.String
	r.DriverName = driverName.String
	r.CancelReason = cancelReason.String
	if acceptedAt.Valid {
		r.AcceptedAt = acceptedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time
	}
	return &r, nil
}

func nullStr(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: !t.IsZero()} }
