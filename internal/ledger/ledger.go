package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/identity"
)

const (
	appendRetries = 3
	retryJitter   = 50 * time.Millisecond
)

// Ledger applies usage charges and billing events to the store.
type Ledger struct {
	store Store
	log   *slog.Logger

	// BonusMultiplier configures the first-topup bonus
	// (FIRST_TIME_CREDIT_BONUS_MULTIPLIER). ≤ 1 disables the bonus.
	BonusMultiplier float64
}

// New creates a Ledger.
func New(store Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, log: log, BonusMultiplier: 1}
}

// UsageRecord is the priced outcome of one completed request.
type UsageRecord struct {
	RequestID string
	Caller    *identity.Caller
	Mapping   *catalog.ProviderMapping
	Charge    decimal.Decimal
	Free      bool
	DevPlan   bool
}

// RecordUsage decrements credits by the charge and appends the usage
// transaction — idempotent on request id, retried up to 3 times with jitter
// on storage conflicts. Ledger failures never block delivery to the client;
// the caller fires this after the response is written.
func (l *Ledger) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.Free || rec.Charge.IsZero() {
		return nil
	}

	desc := fmt.Sprintf("usage %s @ %s", rec.Mapping.ModelName, rec.Mapping.Provider)
	if rec.DevPlan {
		desc = "dev plan " + desc
	}

	tx := Transaction{
		ID:             uuid.NewString(),
		OrganizationID: rec.Caller.Org.ID,
		Type:           TypeUsage,
		Amount:         rec.Charge,
		CreditAmount:   rec.Charge.Neg(),
		Currency:       "usd",
		Status:         StatusCompleted,
		ExternalRef:    rec.RequestID,
		Description:    desc,
	}

	err := l.appendWithRetry(ctx, tx)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	if err != nil {
		// Surfaced as an internal alert; the client already has its response
		// and a failed charge never decrements credits.
		l.log.Error("ledger_usage_append_failed",
			slog.String("request_id", rec.RequestID),
			slog.String("organization_id", rec.Caller.Org.ID),
			slog.String("charge", rec.Charge.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// appendWithRetry retries storage conflicts with jitter.
func (l *Ledger) appendWithRetry(ctx context.Context, tx Transaction) error {
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = l.store.AppendTransaction(ctx, tx)
		if err == nil || errors.Is(err, ErrDuplicate) {
			return err
		}
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(retryJitter))) + retryJitter*time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// grantBonus applies the one-time first-topup bonus:
// min(base · (multiplier - 1), $50), only for verified purchasers.
func (l *Ledger) grantBonus(ctx context.Context, orgID string, base decimal.Decimal, topupRef string) {
	if l.BonusMultiplier <= 1 {
		return
	}
	granted, err := l.store.BonusGranted(ctx, orgID)
	if err != nil || granted {
		return
	}

	bonus := base.Mul(decimal.NewFromFloat(l.BonusMultiplier - 1))
	cap := decimal.NewFromInt(50)
	if bonus.GreaterThan(cap) {
		bonus = cap
	}
	if !bonus.IsPositive() {
		return
	}

	tx := Transaction{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Type:           TypeCreditBonus,
		Amount:         decimal.Zero,
		CreditAmount:   bonus,
		Currency:       "usd",
		Status:         StatusCompleted,
		ExternalRef:    topupRef + ":bonus",
		Description:    "first purchase bonus",
		RelatedID:      topupRef,
	}
	if err := l.appendWithRetry(ctx, tx); err != nil && !errors.Is(err, ErrDuplicate) {
		l.log.Error("ledger_bonus_append_failed",
			slog.String("organization_id", orgID),
			slog.String("error", err.Error()),
		)
		return
	}
	_ = l.store.SetBonusGranted(ctx, orgID)
}
