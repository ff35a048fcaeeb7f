package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. The ledger is append-only; a record is never mutated.
const (
	TypeUsage              = "usage"
	TypeCreditTopup        = "credit_topup"
	TypeCreditRefund       = "credit_refund"
	TypeCreditBonus        = "credit_bonus"
	TypeSubscriptionStart  = "subscription_start"
	TypeSubscriptionCancel = "subscription_cancel"
	TypeSubscriptionEnd    = "subscription_end"
	TypeDevPlanStart       = "dev_plan_start"
	TypeDevPlanRenewal     = "dev_plan_renewal"
	TypeDevPlanCancel      = "dev_plan_cancel"
	TypeDevPlanEnd         = "dev_plan_end"
)

// Transaction statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrDuplicate is returned when a transaction with the same external
// reference (or usage request id) already exists. Callers treat it as a
// successful no-op: webhooks and retries are delivered at-least-once.
var ErrDuplicate = errors.New("ledger: duplicate transaction")

// Transaction is one append-only ledger row.
type Transaction struct {
	ID             string
	OrganizationID string
	Type           string
	Amount         decimal.Decimal // USD
	CreditAmount   decimal.Decimal // signed credit delta
	Currency       string
	Status         string
	ExternalRef    string // payment intent / invoice / refund / request id
	Description    string
	RelatedID      string
	CreatedAt      time.Time
}

// Store is the transactional storage collaborator. AppendTransaction and the
// credit delta it implies happen in one storage transaction; on conflict the
// ledger retries (see Ledger.RecordUsage).
type Store interface {
	// AppendTransaction inserts tx and applies tx.CreditAmount to the
	// organization's credits atomically. Returns ErrDuplicate when a row
	// with the same (type-scoped) ExternalRef already exists.
	AppendTransaction(ctx context.Context, tx Transaction) error
	// Credits returns the organization's current credit balance.
	Credits(ctx context.Context, orgID string) (decimal.Decimal, error)
	// IncrementPaymentFailures bumps the org's payment-failure counter.
	IncrementPaymentFailures(ctx context.Context, orgID string) error
	// BonusGranted reports / records the one-time first-topup bonus.
	BonusGranted(ctx context.Context, orgID string) (bool, error)
	SetBonusGranted(ctx context.Context, orgID string) error
}

// MemStore is the in-memory Store used in tests and self-hosted mode.
type MemStore struct {
	mu           sync.Mutex
	transactions []Transaction
	refs         map[string]bool // type + ":" + externalRef
	credits      map[string]decimal.Decimal
	failures     map[string]int
	bonuses      map[string]bool

	// FailAppends forces the next n AppendTransaction calls to fail,
	// exercising the ledger's retry path.
	FailAppends int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		refs:     make(map[string]bool),
		credits:  make(map[string]decimal.Decimal),
		failures: make(map[string]int),
		bonuses:  make(map[string]bool),
	}
}

func (s *MemStore) AppendTransaction(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAppends > 0 {
		s.FailAppends--
		return errors.New("memstore: simulated conflict")
	}

	key := tx.Type + ":" + tx.ExternalRef
	if tx.ExternalRef != "" && s.refs[key] {
		return ErrDuplicate
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, tx)
	if tx.ExternalRef != "" {
		s.refs[key] = true
	}
	if !tx.CreditAmount.IsZero() {
		s.credits[tx.OrganizationID] = s.credits[tx.OrganizationID].Add(tx.CreditAmount)
	}
	return nil
}

func (s *MemStore) Credits(_ context.Context, orgID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits[orgID], nil
}

// SetCredits seeds a balance (test helper).
func (s *MemStore) SetCredits(orgID string, c decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[orgID] = c
}

func (s *MemStore) IncrementPaymentFailures(_ context.Context, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[orgID]++
	return nil
}

// PaymentFailures returns the counter (test helper).
func (s *MemStore) PaymentFailures(orgID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[orgID]
}

func (s *MemStore) BonusGranted(_ context.Context, orgID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bonuses[orgID], nil
}

func (s *MemStore) SetBonusGranted(_ context.Context, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonuses[orgID] = true
	return nil
}

// Transactions returns a copy of all rows (test helper).
func (s *MemStore) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}
