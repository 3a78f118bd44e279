package car

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound     = errors.New("car not found")
	ErrNotAvailable = errors.New("car not available")
	ErrOdometerBack = errors.New("odometer reading below current value")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetCars(ctx context.Context) ([]Car, error) {
	var cars []Car
	err := r.db.SelectContext(ctx, &cars, getCars)
	return cars, err
}

const getCars = `SELECT * FROM cars ORDER BY brand, model`

func (r *Repository) GetCar(ctx context.Context, id uuid.UUID) (Car, error) {
	var c Car
	err := r.db.GetContext(ctx, &c, getCar, id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

const getCar = `SELECT * FROM cars WHERE id = $1`

func (r *Repository) GetCarByPlate(ctx context.Context, plate string) (Car, error) {
	var c Car
	err := r.db.GetContext(ctx, &c, getCarByPlate, plate)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

const getCarByPlate = `SELECT * FROM cars WHERE plate = $1`

// SetStatus updates a car's operational status (admin car management).
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	res, err := r.db.ExecContext(ctx, setStatus, status.String(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

const setStatus = `UPDATE cars SET status = $1 WHERE id = $2`

// UpdateOdometerTx advances the stored odometer inside the caller's
// transaction. Readings never go backwards; trip start and completion
// push the operator-entered values through here.
func UpdateOdometerTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, reading int64) error {
	var current int64
	err := tx.GetContext(ctx, &current, getOdometerForUpdate, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if reading < current {
		return ErrOdometerBack
	}

	_, err = tx.ExecContext(ctx, updateOdometer, reading, id)
	return err
}

const getOdometerForUpdate = `SELECT current_odometer FROM cars WHERE id = $1 FOR UPDATE`
const updateOdometer = `UPDATE cars SET current_odometer = $1 WHERE id = $2`
