package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/store"
)

// setupTestDatabase starts Postgres and applies the embedded migrations.
func setupTestDatabase(t *testing.T) (pool *pgxpool.Pool, cleanup func()) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("test-user"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.Migrate(connStr, zap.NewNop()))
	// a second run is a no-op
	require.NoError(t, store.Migrate(connStr, zap.NewNop()))

	pool, err = pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup = func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return pool, cleanup
}

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	s := store.NewPostgres(pool, zap.NewNop())

	st := store.TraderState{UserID: "u", Mint: "M", State: "FLAT"}
	require.NoError(t, s.Upsert(ctx, st))
	first, err := s.Get(ctx, "u", "M")
	require.NoError(t, err)

	st.State = "IN_POSITION"
	st.InPosition = true
	st.EntryPrice = decimal.NewNullDecimal(decimal.RequireFromString("0.00123"))
	st.TradeCount = 1
	st.LastTradeAt = time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Upsert(ctx, st))

	got, err := s.Get(ctx, "u", "M")
	require.NoError(t, err)
	assert.Equal(t, "IN_POSITION", got.State)
	assert.True(t, got.EntryPrice.Decimal.Equal(st.EntryPrice.Decimal))
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt), "upsert keeps created_at")
	assert.True(t, st.LastTradeAt.Equal(got.LastTradeAt))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Delete(ctx, "u", "M"))
	_, err = s.Get(ctx, "u", "M")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
