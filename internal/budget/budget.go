// Package budget implements the Budget & Usage Ledger (C12): per-user
// daily/monthly spend tracking and the I-7 pre-call budget gate.
//
// Grounded on original_source/backend/tests/budget_test.rs's BudgetTracker:
// same daily_limit()/monthly_limit() accessors, the same record_request
// signature (user, operation, provider, model, thinking_level, tokens_in,
// tokens_out, cost_usd, from_cache), and the same check_daily_limit /
// check_monthly_limit / check_limits contract. Storage follows the
// teacher's pgx/v5 pool convention used throughout internal/store.
package budget

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conarylabs/mira/internal/miraerr"
)

// Usage is the aggregated spend/usage for a user over a window (day or
// month), matching the fields asserted against in budget_test.rs.
type Usage struct {
	TotalRequests  int64
	TotalCostUSD   float64
	TokensInput    int64
	TokensOutput   int64
	CachedRequests int64
}

// CacheHitRate is cached_requests / total_requests, 0 when there have been
// no requests yet.
func (u Usage) CacheHitRate() float64 {
	if u.TotalRequests == 0 {
		return 0
	}
	return float64(u.CachedRequests) / float64(u.TotalRequests)
}

// Request is one billable call to record, mirroring record_request's
// argument list.
type Request struct {
	UserID        string
	OperationID   *string
	Provider      string
	Model         string
	ThinkingLevel *string
	TokensInput   int64
	TokensOutput  int64
	CostUSD       float64
	FromCache     bool
}

// Tracker is the C12 ledger: records requests and answers pre-call budget
// gate questions against a user's daily and monthly limits, both in USD.
type Tracker struct {
	pool         *pgxpool.Pool
	dailyLimit   float64
	monthlyLimit float64
}

// New mirrors BudgetTracker::new(pool, daily_limit, monthly_limit).
func New(pool *pgxpool.Pool, dailyLimit, monthlyLimit float64) *Tracker {
	return &Tracker{pool: pool, dailyLimit: dailyLimit, monthlyLimit: monthlyLimit}
}

func (t *Tracker) DailyLimit() float64   { return t.dailyLimit }
func (t *Tracker) MonthlyLimit() float64 { return t.monthlyLimit }

// Migrate creates the usage ledger table. Separate from New to match the
// teacher's pattern of an explicit migration step ahead of first use.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
CREATE TABLE IF NOT EXISTS mira_usage_records (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    operation_id TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    thinking_level TEXT,
    tokens_input BIGINT NOT NULL,
    tokens_output BIGINT NOT NULL,
    cost_usd DOUBLE PRECISION NOT NULL,
    from_cache BOOLEAN NOT NULL DEFAULT false,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_mira_usage_user_time ON mira_usage_records(user_id, recorded_at DESC);
`
	_, err := pool.Exec(ctx, q)
	return err
}

// RecordRequest persists one billable call.
func (t *Tracker) RecordRequest(ctx context.Context, r Request) error {
	const op = "budget.Tracker.RecordRequest"
	const q = `
INSERT INTO mira_usage_records (user_id, operation_id, provider, model, thinking_level,
    tokens_input, tokens_output, cost_usd, from_cache)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := t.pool.Exec(ctx, q, r.UserID, r.OperationID, r.Provider, r.Model, r.ThinkingLevel,
		r.TokensInput, r.TokensOutput, r.CostUSD, r.FromCache)
	if err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (t *Tracker) usageSince(ctx context.Context, op, userID, interval string) (Usage, error) {
	q := fmt.Sprintf(`
SELECT COUNT(*), COALESCE(SUM(cost_usd),0), COALESCE(SUM(tokens_input),0),
       COALESCE(SUM(tokens_output),0), COALESCE(SUM(CASE WHEN from_cache THEN 1 ELSE 0 END),0)
FROM mira_usage_records WHERE user_id = $1 AND recorded_at >= now() - interval '%s'`, interval)
	var u Usage
	err := t.pool.QueryRow(ctx, q, userID).Scan(&u.TotalRequests, &u.TotalCostUSD, &u.TokensInput, &u.TokensOutput, &u.CachedRequests)
	if err != nil {
		return Usage{}, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return u, nil
}

// GetDailyUsage aggregates the trailing 24 hours, matching
// get_daily_usage's rolling-window semantics in the test file (requests
// recorded "today" fall inside the window regardless of wall-clock
// midnight).
func (t *Tracker) GetDailyUsage(ctx context.Context, userID string) (Usage, error) {
	return t.usageSince(ctx, "budget.Tracker.GetDailyUsage", userID, "1 day")
}

// GetMonthlyUsage aggregates the trailing 30 days.
func (t *Tracker) GetMonthlyUsage(ctx context.Context, userID string) (Usage, error) {
	return t.usageSince(ctx, "budget.Tracker.GetMonthlyUsage", userID, "30 days")
}

// CheckDailyLimit reports whether userID is still under the daily USD cap.
func (t *Tracker) CheckDailyLimit(ctx context.Context, userID string) (bool, error) {
	u, err := t.GetDailyUsage(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.TotalCostUSD < t.dailyLimit, nil
}

// CheckMonthlyLimit reports whether userID is still under the monthly USD
// cap.
func (t *Tracker) CheckMonthlyLimit(ctx context.Context, userID string) (bool, error) {
	u, err := t.GetMonthlyUsage(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.TotalCostUSD < t.monthlyLimit, nil
}

// CheckLimits is the I-7 pre-call gate: estimatedCost is added to today's
// and this month's spend and rejected with QuotaExceeded if either limit
// would be breached. Callers invoke this before issuing a billable
// provider call, not after.
func (t *Tracker) CheckLimits(ctx context.Context, userID string, estimatedCost float64) error {
	const op = "budget.Tracker.CheckLimits"
	daily, err := t.GetDailyUsage(ctx, userID)
	if err != nil {
		return err
	}
	if daily.TotalCostUSD+estimatedCost > t.dailyLimit {
		return miraerr.New(op, miraerr.QuotaExceeded,
			fmt.Errorf("Daily budget limit exceeded: $%.4f + $%.4f > $%.4f", daily.TotalCostUSD, estimatedCost, t.dailyLimit))
	}
	monthly, err := t.GetMonthlyUsage(ctx, userID)
	if err != nil {
		return err
	}
	if monthly.TotalCostUSD+estimatedCost > t.monthlyLimit {
		return miraerr.New(op, miraerr.QuotaExceeded,
			fmt.Errorf("Monthly budget limit exceeded: $%.4f + $%.4f > $%.4f", monthly.TotalCostUSD, estimatedCost, t.monthlyLimit))
	}
	return nil
}
