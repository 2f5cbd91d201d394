package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payflow/models"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" database/sql driver
)

// PostgresStore keeps session fields as rows in a shared table so several
// machines can pick up the same profile. Rows are append-only; a read takes
// the newest value per field, with the insert order breaking ties between
// writes in the same millisecond.
type PostgresStore struct {
	db      *sql.DB
	profile string
	now     func() time.Time
}

func NewPostgresStore(db *sql.DB, profile string) *PostgresStore {
	return &PostgresStore{
		db:      db,
		profile: profile,
		now:     time.Now,
	}
}

// Init creates the session table if needed
func (p *PostgresStore) Init(ctx context.Context) error {
	_, err := p.db.ExecContext(
		ctx,
		"CREATE TABLE IF NOT EXISTS session_data (id BIGSERIAL, profile VARCHAR ( 64 ), field VARCHAR ( 64 ), value TEXT, updated_at bigint);",
	)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// tables created before the id column existed
	_, err = p.db.ExecContext(ctx, "ALTER TABLE session_data ADD COLUMN IF NOT EXISTS id BIGSERIAL;")
	if err != nil {
		return fmt.Errorf("failed to add id column: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context) (models.Session, error) {
	s := models.Session{}

	rows, err := p.db.QueryContext(
		ctx,
		`SELECT DISTINCT ON ("field") field, value FROM "session_data" WHERE profile=$1 ORDER BY "field" DESC, "updated_at" DESC, "id" DESC`,
		p.profile,
	)
	if err != nil {
		return s, fmt.Errorf("failed to query session for profile %v: %w", p.profile, err)
	}
	defer rows.Close()

	for rows.Next() {
		field := ""
		value := ""
		err = rows.Scan(&field, &value)
		if err != nil {
			return models.Session{}, fmt.Errorf("failed to scan session row: %w", err)
		}
		switch field {
		case models.FieldAuthToken:
			s.AuthToken = value
		case models.FieldCustomerID:
			s.CustomerID = value
		case models.FieldPriceID:
			s.PriceID = value
		}
	}
	err = rows.Err()
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to read session rows: %w", err)
	}

	return s, nil
}

// Save appends one row per field in a single transaction, so a concurrent
// reader never sees half a session.
func (p *PostgresStore) Save(ctx context.Context, s models.Session) error {
	updatedAt := p.now().UnixNano() / 1000000

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session write: %w", err)
	}

	fields := []models.SessionField{
		{Profile: p.profile, Field: models.FieldAuthToken, Value: s.AuthToken, UpdatedAt: updatedAt},
		{Profile: p.profile, Field: models.FieldCustomerID, Value: s.CustomerID, UpdatedAt: updatedAt},
		{Profile: p.profile, Field: models.FieldPriceID, Value: s.PriceID, UpdatedAt: updatedAt},
	}
	for _, f := range fields {
		_, err = tx.ExecContext(
			ctx,
			"insert into session_data(profile, field, value, updated_at) values($1, $2, $3, $4)",
			f.Profile,
			f.Field,
			f.Value,
			f.UpdatedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert profile %v field %v: %w", f.Profile, f.Field, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit session write: %w", err)
	}
	return nil
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "delete from session_data where profile=$1", p.profile)
	if err != nil {
		return fmt.Errorf("failed to clear profile %v: %w", p.profile, err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
