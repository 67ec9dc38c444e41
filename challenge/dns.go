package challenge

import (
	"context"
	"time"

	"github.com/go-acme/lego/v4/providers/dns/azuredns"
	"github.com/pkg/errors"
)

// DNSProvider is a lego DNS-01 provider with a propagation timeout.
type DNSProvider interface {
	Present(domain, token, keyAuth string) error
	CleanUp(domain, token, keyAuth string) error
	Timeout() (timeout, interval time.Duration)
}

type AzureDNSConfig struct {
	SubscriptionID string
	ResourceGroup  string
	ZoneName       string
	TenantID       string
	ClientID       string
	ClientSecret   string
}

type DNS struct {
	provider DNSProvider
}

// NewAzureDNS creates TXT records in the Azure DNS zones of a resource group.
func NewAzureDNS(cfg AzureDNSConfig) (*DNS, error) {
	c := azuredns.NewDefaultConfig()
	c.SubscriptionID = cfg.SubscriptionID
	c.ResourceGroup = cfg.ResourceGroup
	c.ZoneName = cfg.ZoneName
	c.TenantID = cfg.TenantID
	c.ClientID = cfg.ClientID
	c.ClientSecret = cfg.ClientSecret

	p, err := azuredns.NewDNSProviderConfig(c)
	if err != nil {
		return nil, errors.Wrap(err, "while creating Azure DNS provider")
	}
	return NewDNS(p), nil
}

// NewDNS wraps any lego DNS provider.
func NewDNS(p DNSProvider) *DNS {
	return &DNS{provider: p}
}

func (d *DNS) Channel() Channel { return AzureDNS }

// PlaceProof ignores ctx: lego providers do not take one.
func (d *DNS) PlaceProof(ctx context.Context, domain, token, keyAuth string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrapf(d.provider.Present(domain, token, keyAuth), "while creating TXT record for %s", domain)
}

func (d *DNS) Cleanup(ctx context.Context, domain, token, keyAuth string) error {
	return errors.Wrapf(d.provider.CleanUp(domain, token, keyAuth), "while removing TXT record for %s", domain)
}

func (d *DNS) Timeout() (timeout, interval time.Duration) {
	return d.provider.Timeout()
}
