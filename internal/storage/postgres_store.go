package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore implements RideStore and Directory on top of a rides table
// and the users/drivers tables owned by the account service.
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

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, request_id, customer_id, driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, distance_m, fare, status, vehicle_class, payment_hold_id, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.RequestID, r.CustomerID, r.DriverID, r.Pickup.Lat, r.Pickup.Lon, r.Dropoff.Lat, r.Dropoff.Lon,
		r.Distance, r.Fare, r.Status, string(r.VehicleClass), r.PaymentHoldID, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(id string) (*models.Ride, error) {
	row := p.db.QueryRow(`SELECT id, request_id, customer_id, driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, distance_m, fare, status, vehicle_class, payment_hold_id, created_at, updated_at FROM rides WHERE id=$1`, id)
	var r models.Ride
	var class string
	err := row.Scan(&r.ID, &r.RequestID, &r.CustomerID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Dropoff.Lat, &r.Dropoff.Lon,
		&r.Distance, &r.Fare, &r.Status, &class, &r.PaymentHoldID, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.VehicleClass = models.VehicleClass(class)
	return &r, nil
}

func (p *PostgresStore) UpdateStatus(id, status string) error {
	res, err := p.db.Exec(`UPDATE rides SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Driver(ctx context.Context, id string) (models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, lat, lon, rating, online, vehicle_class FROM drivers WHERE id=$1`, id)
	var d models.Driver
	var class string
	err := row.Scan(&d.ID, &d.Loc.Lat, &d.Loc.Lon, &d.Rating, &d.Online, &class)
	if err == sql.ErrNoRows {
		return models.Driver{}, ErrNotFound
	}
	if err != nil {
		return models.Driver{}, err
	}
	d.VehicleClass = models.VehicleClass(class)
	return d, nil
}

func (p *PostgresStore) Customer(ctx context.Context, id string) (models.Customer, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, name FROM users WHERE id=$1`, id)
	var c models.Customer
	err := row.Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return models.Customer{}, ErrNotFound
	}
	if err != nil {
		return models.Customer{}, err
	}
	return c, nil
}
