package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ConnectPostgres connects to PostgreSQL and makes sure the sanction columns exist.
func ConnectPostgres(postgresURI string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Info("Connected to PostgreSQL")

	if err := InitPostgresTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("PostgreSQL sanction columns initialized")
	return db, nil
}

// InitPostgresTables creates the users table if it is missing and adds the
// enforcement columns to it. The account service owns the rest of the row.
func InitPostgresTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		`ALTER TABLE users ADD COLUMN IF NOT EXISTS account_status VARCHAR(32) NOT NULL DEFAULT 'active'`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS violation_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS warning_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS count_baseline INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS last_violation_date TIMESTAMPTZ`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS suspension_end_date TIMESTAMPTZ`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS ban_reason TEXT`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS sanction_revision BIGINT NOT NULL DEFAULT 0`,

		`CREATE INDEX IF NOT EXISTS idx_users_account_status ON users(account_status)`,
		`CREATE INDEX IF NOT EXISTS idx_users_suspension_end_date ON users(suspension_end_date) WHERE suspension_end_date IS NOT NULL`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL schema: %w", err)
		}
	}
	return nil
}
