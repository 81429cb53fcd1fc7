package domain

import (
	"strings"
	"time"
)

// Provider identifies a payment gateway
type Provider string

const (
	ProviderRazorpay  Provider = "razorpay"
	ProviderStripe    Provider = "stripe"
	ProviderPayUMoney Provider = "payumoney"
	ProviderPaytm     Provider = "paytm"
	ProviderCCAvenue  Provider = "ccavenue"
)

// AllProviders is the closed set of supported providers
func AllProviders() []Provider {
	return []Provider{
		ProviderRazorpay,
		ProviderStripe,
		ProviderPayUMoney,
		ProviderPaytm,
		ProviderCCAvenue,
	}
}

// ParseProvider rejects names outside AllProviders
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllProviders() {
		if p == known {
			return p, nil
		}
	}
	return "", ErrUnsupportedProvider
}

// GatewayMode selects provider sandbox or production endpoints
type GatewayMode string

const (
	ModeTest GatewayMode = "test"
	ModeLive GatewayMode = "live"
)

// GatewayConfig holds one organization's credentials for one provider
type GatewayConfig struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Provider       Provider          `json:"provider"`
	Credentials    map[string]string `json:"-"`
	Mode           GatewayMode       `json:"mode"`
	IsActive       bool              `json:"is_active"`
	IsDefault      bool              `json:"is_default"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Credential returns a credential value or ""
func (g *GatewayConfig) Credential(key string) string {
	if g.Credentials == nil {
		return ""
	}
	return strings.TrimSpace(g.Credentials[key])
}

// MissingCredentials returns which of keys are empty
func (g *GatewayConfig) MissingCredentials(keys []string) []string {
	var missing []string
	for _, k := range keys {
		if g.Credential(k) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// IsLive reports whether production endpoints should be used
func (g *GatewayConfig) IsLive() bool {
	return g.Mode == ModeLive
}
