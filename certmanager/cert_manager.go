// Package certmanager registers issued certificates with the hosting control
// plane, reconciles hostname bindings and sweeps expired certificates.
package certmanager

import (
	"context"
	"time"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

// ManagementClient is the part of the control plane the manager needs.
// *arm.Client implements it.
type ManagementClient interface {
	GetSiteOrSlot(ctx context.Context, subscriptionID, group, site, slot string) (*arm.Site, error)
	PutCertificate(ctx context.Context, subscriptionID, group, name string, upload arm.CertificateUpload) error
	BeginUpdateSiteOrSlot(ctx context.Context, subscriptionID, group, site, slot string, states []arm.HostNameSslState) (*arm.UpdateTask, error)
	ListCertificates(ctx context.Context, subscriptionID, group string) ([]arm.Certificate, error)
	DeleteCertificate(ctx context.Context, subscriptionID, group, name string) error
}

// CertManager does not serialize calls. Two installs on the same site race
// on the binding update and the last one wins, so callers run installs for a
// site one at a time (see package dispatcher).
type CertManager struct {
	client     ManagementClient
	appContext appcontext.AppContext
	now        func() time.Time
}

type Option func(*CertManager)

// WithClock replaces time.Now for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(c *CertManager) {
		c.now = now
	}
}

func New(client ManagementClient, appContext appcontext.AppContext, opts ...Option) *CertManager {
	c := &CertManager{
		client:     client,
		appContext: appContext.Named("cert_manager"),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// resolveSite fetches the current manifest of the target site and the
// resource group certificates must be registered in. That group belongs to
// the server farm and may differ from the site's own group.
func (c *CertManager) resolveSite(ctx context.Context, env appcontext.WebAppEnvironment) (*arm.Site, string, error) {
	site, err := c.client.GetSiteOrSlot(ctx, env.SubscriptionID, env.ResourceGroup, env.WebAppName, env.SiteSlotName)
	if err != nil {
		return nil, "", errors.Wrap(err, "while getting site")
	}

	group := arm.ServerFarmResourceGroup(site.Properties.ServerFarmID)
	if group == "" {
		group = env.PlanResourceGroup()
	}
	if group == "" {
		return nil, "", errs.Invalid("servicePlanResourceGroupName", "site has no server farm and none is configured")
	}
	return site, group, nil
}
