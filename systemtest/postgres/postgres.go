package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const image = "postgres:17-alpine"

// Database is a disposable PostgreSQL instance for system tests.
type Database struct {
	container *tcpostgres.PostgresContainer
	URL       string
}

func Start(ctx context.Context, name, user, password string) (*Database, error) {
	container, err := tcpostgres.Run(ctx, image,
		tcpostgres.WithDatabase(name),
		tcpostgres.WithUsername(user),
		tcpostgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	db := &Database{container: container}
	db.URL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = db.Stop(ctx)
		return nil, fmt.Errorf("postgres connection string: %w", err)
	}
	return db, nil
}

func (d *Database) Stop(ctx context.Context) error {
	if d == nil || d.container == nil {
		return nil
	}
	if err := d.container.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate postgres container: %w", err)
	}
	return nil
}
