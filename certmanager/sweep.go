package certmanager

import (
	"context"
	"strings"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

// RemoveExpired deletes certificates of the site's server farm group that
// expire within thresholdDays, were issued by an issuer matching the
// configured markers and are not referenced by any binding of the site.
// Deletions are independent: a failed one is logged and left out of the
// returned thumbprints.
func (c *CertManager) RemoveExpired(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, thresholdDays int) ([]string, error) {
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

	removed := []string{}
	for _, crt := range certs {
		if !crt.Properties.ExpirationDate.Before(cutoff) || !issuedBy(crt, markers) || site.References(crt.Properties.Thumbprint) {
			continue
		}

		logger := c.appContext.Logger.With("certificate", crt.Name, "thumbprint", crt.Properties.Thumbprint, "expiration", crt.Properties.ExpirationDate)
		if err := c.client.DeleteCertificate(ctx, env.SubscriptionID, group, crt.Name); err != nil {
			logger.With("error", err).Warn("while removing expired certificate")
			continue
		}
		logger.Info("removed expired certificate")
		removed = append(removed, crt.Properties.Thumbprint)
	}

	return removed, nil
}

func issuedBy(crt arm.Certificate, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(crt.Properties.Issuer, m) {
			return true
		}
	}
	return false
}
