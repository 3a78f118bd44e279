package renter

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

var ErrNotFound = errors.New("renter not found")

func (r *Repository) GetByAuth0ID(ctx context.Context, auth0ID string) (*Renter, error) {
	var rn Renter
	err := r.db.GetContext(ctx, &rn, getByAuth0IDQuery, auth0ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rn, nil
}

const getByAuth0IDQuery = "SELECT * FROM renters WHERE auth0_id = $1"

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Renter, error) {
	var rn Renter
	err := r.db.GetContext(ctx, &rn, getByIDQuery, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rn, nil
}

const getByIDQuery = "SELECT * FROM renters WHERE id = $1"

func (r *Repository) Create(ctx context.Context, auth0ID string) (*Renter, error) {
	var rn Renter
	err := r.db.GetContext(ctx, &rn, createQuery, uuid.New(), auth0ID)
	return &rn, err
}

const createQuery = "INSERT INTO renters (id, auth0_id) VALUES ($1, $2) RETURNING *"

func (r *Repository) UpdateProfile(ctx context.Context, auth0ID, email, name string, birthDate *time.Time) error {
	_, err := r.db.ExecContext(ctx, updateProfileQuery, email, name, birthDate, auth0ID)
	return err
}

const updateProfileQuery = `UPDATE renters SET email = NULLIF($1, ''), name = NULLIF($2, ''),
birth_date = COALESCE($3, birth_date) WHERE auth0_id = $4`
