// Package identity holds the resolved caller contexts consulted on every
// request. Auth and signup flows live outside the gateway; the Store
// interface is how the external storage collaborator hands us the already
// resolved organization, project, and API key rows.
package identity

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Plan tiers.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
	PlanDev        = "dev"
)

// Project modes.
const (
	ModeCredits = "credits"
	ModeBYOK    = "byok"
	ModeHybrid  = "hybrid"
)

var (
	// ErrKeyNotFound means the bearer token resolved to nothing.
	ErrKeyNotFound = errors.New("identity: api key not found")
	// ErrKeyInactive means the key exists but is revoked or disabled.
	ErrKeyInactive = errors.New("identity: api key inactive")
	// ErrDeleted means the project or organization is soft-deleted.
	ErrDeleted = errors.New("identity: project or organization deleted")
)

type (
	// Organization is the billing-side view of the caller.
	Organization struct {
		ID                  string
		Plan                string
		Credits             decimal.Decimal
		PaymentFailures     int
		BYOKActive          bool
		AllowedProviders    []string // empty = all
		SpendCapUSD         decimal.Decimal
		DevPlanCreditsLimit decimal.Decimal
		EmailVerified       bool
		Deleted             bool
		// BonusGranted marks that the first-topup bonus has been applied.
		BonusGranted bool
	}

	// Project scopes keys and feature flags under an organization.
	Project struct {
		ID             string
		OrganizationID string
		Mode           string // credits | byok | hybrid
		CacheEnabled   bool
		Deleted        bool
	}

	// APIKey is the resolved credential row for the bearer token.
	APIKey struct {
		ID          string
		ProjectID   string
		TokenPrefix string
		UsageLimit  decimal.Decimal // zero = unlimited
		UsedUSD     decimal.Decimal
		CreatedBy   string
		Active      bool
	}

	// Caller bundles the three contexts attached to a request.
	Caller struct {
		Org     *Organization
		Project *Project
		Key     *APIKey
	}

	// BYOKCredential is one organization-supplied provider credential.
	BYOKCredential struct {
		Provider string
		APIKey   string
		Extra    map[string]string // e.g. aws secret/region, azure resource
		Degraded bool
	}

	// Store is implemented by the external storage collaborator.
	Store interface {
		// ResolveKey maps a bearer token to the full caller context.
		ResolveKey(ctx context.Context, token string) (*Caller, error)
		// BYOKCredentials returns the org's provider credentials, fetched
		// once per request.
		BYOKCredentials(ctx context.Context, orgID string) ([]BYOKCredential, error)
		// MarkCredentialDegraded flags a gateway-managed credential after an
		// upstream auth failure (out-of-band, best effort).
		MarkCredentialDegraded(ctx context.Context, provider string)
	}
)

// CanSpend reports whether the org can fund a (non-free) request.
func (o *Organization) CanSpend() bool {
	if o.Plan == PlanEnterprise {
		return true
	}
	return o.Credits.IsPositive()
}

// ProviderAllowed applies the org's provider allowlist.
func (o *Organization) ProviderAllowed(provider string) bool {
	if len(o.AllowedProviders) == 0 {
		return true
	}
	for _, p := range o.AllowedProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// MaxImageSizeMB is plan-dependent: free=5, everything paid=20.
func (o *Organization) MaxImageSizeMB() int {
	if o.Plan == PlanFree {
		return 5
	}
	return 20
}

// OverUsageLimit reports whether the key's own cap is exhausted.
func (k *APIKey) OverUsageLimit() bool {
	if k.UsageLimit.IsZero() {
		return false
	}
	return k.UsedUSD.GreaterThanOrEqual(k.UsageLimit)
}
