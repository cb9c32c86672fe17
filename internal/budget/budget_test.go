package budget

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestUsage_CacheHitRate(t *testing.T) {
	require.Equal(t, 0.0, Usage{}.CacheHitRate())
	require.InDelta(t, 0.5, Usage{TotalRequests: 4, CachedRequests: 2}.CacheHitRate(), 0.0001)
}

// openTestPool mirrors internal/auth/store_test.go's DATABASE_URL-skip
// convention: these exercise real SQL against a scratch Postgres database
// and are skipped when one isn't configured for the run.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), pool))
	t.Cleanup(pool.Close)
	return pool
}

func TestTracker_Creation(t *testing.T) {
	pool := openTestPool(t)
	tr := New(pool, 5.0, 150.0)
	require.Equal(t, 5.0, tr.DailyLimit())
	require.Equal(t, 150.0, tr.MonthlyLimit())
}

func TestTracker_RecordRequestUpdatesTotals(t *testing.T) {
	pool := openTestPool(t)
	tr := New(pool, 5.0, 150.0)
	ctx := context.Background()
	userID := "test-user-001"

	require.NoError(t, tr.RecordRequest(ctx, Request{UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro",
		ThinkingLevel: strPtr("high"), TokensInput: 1000, TokensOutput: 500, CostUSD: 0.05}))
	require.NoError(t, tr.RecordRequest(ctx, Request{UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro",
		ThinkingLevel: strPtr("medium"), TokensInput: 2000, TokensOutput: 1000, CostUSD: 0.10}))

	usage, err := tr.GetDailyUsage(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 2, usage.TotalRequests)
	require.InDelta(t, 0.15, usage.TotalCostUSD, 0.001)
	require.EqualValues(t, 3000, usage.TokensInput)
	require.EqualValues(t, 1500, usage.TokensOutput)
	require.EqualValues(t, 0, usage.CachedRequests)
	require.Equal(t, 0.0, usage.CacheHitRate())
}

func TestTracker_DailyLimitEnforcement(t *testing.T) {
	pool := openTestPool(t)
	tr := New(pool, 0.10, 150.0)
	ctx := context.Background()
	userID := "test-user-002"

	ok, err := tr.CheckDailyLimit(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok, "should allow requests when under limit")

	require.NoError(t, tr.RecordRequest(ctx, Request{UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro",
		TokensInput: 5000, TokensOutput: 2500, CostUSD: 0.15}))

	ok, err = tr.CheckDailyLimit(ctx, userID)
	require.NoError(t, err)
	require.False(t, ok, "should block requests when over daily limit")
}

func TestTracker_MonthlyLimitEnforcement(t *testing.T) {
	pool := openTestPool(t)
	tr := New(pool, 100.0, 0.50)
	ctx := context.Background()
	userID := "test-user-003"

	ok, err := tr.CheckMonthlyLimit(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.RecordRequest(ctx, Request{UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro",
			TokensInput: 1000, TokensOutput: 500, CostUSD: 0.20}))
	}

	ok, err = tr.CheckMonthlyLimit(ctx, userID)
	require.NoError(t, err)
	require.False(t, ok, "should block requests when over monthly limit")
}

func TestTracker_CacheHitRateTracking(t *testing.T) {
	pool := openTestPool(t)
	tr := New(pool, 100.0, 1000.0)
	ctx := context.Background()
	userID := "test-user-004"

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.RecordRequest(ctx, Request{UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro",
			TokensInput: 1000, TokensOutput: 500, CostUSD: 0.05, FromCache: false}))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, tr.RecordRequest(ctx, Request{UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro",
			TokensInput: 1000, TokensOutput: 500, CostUSD: 0.0, FromCache: true}))
	}

	usage, err := tr.GetDailyUsage(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 4, usage.TotalRequests)
	require.EqualValues(t, 2, usage.CachedRequests)
	require.InDelta(t, 0.5, usage.CacheHitRate(), 0.001)
}

func TestTracker_CheckLimits(t *testing.T) {
	pool := openTestPool(t)
	tr := New(pool, 5.0, 150.0)
	ctx := context.Background()
	userID := "test-user-005"

	require.NoError(t, tr.CheckLimits(ctx, userID, 0.05), "should pass when under both limits")

	require.NoError(t, tr.RecordRequest(ctx, Request{UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro",
		TokensInput: 10000, TokensOutput: 5000, CostUSD: 5.50}))

	err := tr.CheckLimits(ctx, userID, 0.05)
	require.Error(t, err, "should fail when over daily limit")
	require.Contains(t, err.Error(), "Daily budget limit")
}

func TestTracker_MonthlyUsageAggregation(t *testing.T) {
	pool := openTestPool(t)
	tr := New(pool, 100.0, 1000.0)
	ctx := context.Background()
	userID := "test-user-006"

	for i := int64(0); i < 5; i++ {
		require.NoError(t, tr.RecordRequest(ctx, Request{
			UserID: userID, Provider: "gemini", Model: "gemini-2.5-pro", ThinkingLevel: strPtr("high"),
			TokensInput: 1000 * (i + 1), TokensOutput: 500 * (i + 1), CostUSD: 0.10 * float64(i+1),
			FromCache: i%2 == 0,
		}))
	}

	usage, err := tr.GetMonthlyUsage(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 5, usage.TotalRequests)
	require.InDelta(t, 1.50, usage.TotalCostUSD, 0.001)
	require.EqualValues(t, 15000, usage.TokensInput)
	require.EqualValues(t, 7500, usage.TokensOutput)
	require.EqualValues(t, 3, usage.CachedRequests)
	require.InDelta(t, 0.6, usage.CacheHitRate(), 0.001)
}

func strPtr(s string) *string { return &s }
