package jobs

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// PostgresVehicleDirectory resolves vehicles from the marketplace database.
type PostgresVehicleDirectory struct {
	db *sqlx.DB
}

// NewPostgresVehicleDirectory creates a directory on an existing pool.
func NewPostgresVehicleDirectory(db *sqlx.DB) *PostgresVehicleDirectory {
	return &PostgresVehicleDirectory{db: db}
}

type vehicleRow struct {
	ID         string `db:"id"`
	Make       string `db:"make"`
	Model      string `db:"model"`
	Year       int    `db:"year"`
	OwnerName  string `db:"owner_name"`
	OwnerEmail string `db:"owner_email"`
}

// FindVehicle loads a vehicle and its owner's contact details.
func (d *PostgresVehicleDirectory) FindVehicle(ctx context.Context, id string) (*Vehicle, error) {
	const query = `
		SELECT v.id, v.make, v.model, v.year,
		       u.name AS owner_name, u.email AS owner_email
		FROM vehicles v
		JOIN users u ON u.id = v.owner_id
		WHERE v.id = $1`

	var row vehicleRow
	err := d.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobsErrors.New(ErrVehicleNotFound).WithDetail("vehicle_id", id)
	}
	if err != nil {
		return nil, jobsErrors.NewWithCause(ErrDirectoryQuery, err).WithDetail("vehicle_id", id)
	}

	return &Vehicle{
		ID:         row.ID,
		Make:       row.Make,
		Model:      row.Model,
		Year:       row.Year,
		OwnerName:  row.OwnerName,
		OwnerEmail: row.OwnerEmail,
	}, nil
}

var _ VehicleDirectory = (*PostgresVehicleDirectory)(nil)
