package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Интеграционный тест запускается только при ORDERS_PG_INTEGRATION=1 или заданном ORDERS_PG_DSN.
func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("ORDERS_PG_DSN")
	if dsn == "" && os.Getenv("ORDERS_PG_INTEGRATION") != "1" {
		t.Skip("set ORDERS_PG_INTEGRATION=1 or ORDERS_PG_DSN to run postgres tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if dsn == "" {
		container, err := postgres.Run(ctx,
			"postgres:16",
			postgres.WithDatabase("orders"),
			postgres.WithUsername("orders"),
			postgres.WithPassword("orders"),
			postgres.BasicWaitStrategies(),
		)
		testcontainers.CleanupContainer(t, container)
		require.NoError(t, err)

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})

	runStoreContract(t, func(t *testing.T) orderStore {
		return repo
	})
}
