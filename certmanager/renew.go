package certmanager

import (
	"context"
	"strings"
	"time"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

// DefaultRenewalDays is how long before expiration a certificate is renewed
// when no threshold is given.
const DefaultRenewalDays = 22

// Renewal is an installed certificate due for reissue.
type Renewal struct {
	CertificateName string
	Thumbprint      string
	Expiration      time.Time
	// Hostnames are the names to request the replacement for.
	Hostnames []string
}

// DueForRenewal lists the certificates of the site's server farm group that
// a binding of the site uses, that match the issuer markers and that expire
// within thresholdDays. It changes nothing.
func (c *CertManager) DueForRenewal(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, thresholdDays int) ([]Renewal, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if thresholdDays < 0 {
		return nil, errs.Invalid("thresholdDays", "must not be negative")
	}

	site, group, err := c.resolveSite(ctx, env)
	if err != nil {
		return nil, err
	}

	certs, err := c.client.ListCertificates(ctx, env.SubscriptionID, group)
	if err != nil {
		return nil, errors.Wrap(err, "while listing certificates")
	}

	cutoff := c.now().AddDate(0, 0, thresholdDays)
	markers := settings.Markers()

	due := []Renewal{}
	for _, crt := range certs {
		if !crt.Properties.ExpirationDate.Before(cutoff) || !issuedBy(crt, markers) || !site.References(crt.Properties.Thumbprint) {
			continue
		}

		hostnames := crt.Properties.HostNames
		if len(hostnames) == 0 {
			hostnames = boundHostnames(site, crt.Properties.Thumbprint)
		}

		c.appContext.Logger.With("certificate", crt.Name, "expiration", crt.Properties.ExpirationDate, "hostnames", hostnames).Info("certificate due for renewal")

		due = append(due, Renewal{
			CertificateName: crt.Name,
			Thumbprint:      crt.Properties.Thumbprint,
			Expiration:      crt.Properties.ExpirationDate,
			Hostnames:       hostnames,
		})
	}
	return due, nil
}

func boundHostnames(site *arm.Site, thumbprint string) []string {
	var names []string
	for _, b := range site.Properties.HostNameSslStates {
		if strings.EqualFold(b.Thumbprint, thumbprint) {
			names = append(names, b.Name)
		}
	}
	return names
}
