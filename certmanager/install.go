package certmanager

import (
	"context"
	"strings"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/cert"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

type InstallResult struct {
	CertificateName string
	Thumbprint      string
	// ResourceGroup is where the certificate resource was registered.
	ResourceGroup string
	Bindings      []arm.HostNameSslState
	// Update tracks propagation of the binding change. Waiting on it is
	// optional.
	Update *arm.UpdateTask
}

// Install registers certificate with the server farm of the target site and
// points the SSL binding of every identifier at it. Running it again with the
// same certificate and identifiers changes nothing.
//
// If the binding update fails after the certificate was registered, a
// *errs.PartialInstallError is returned; a later Install reconciles it.
func (c *CertManager) Install(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, certificate *cert.Certificate, dnsIdentifiers []string) (*InstallResult, error) {
	hostnames, err := validateInstall(env, certificate, dnsIdentifiers)
	if err != nil {
		return nil, err
	}

	logger := c.appContext.Logger.With("certificate", certificate.Name, "site", env.WebAppName, "slot", env.SiteSlotName)

	site, group, err := c.resolveSite(ctx, env)
	if err != nil {
		return nil, err
	}

	logger.With("serverFarm", arm.ServerFarmName(site.Properties.ServerFarmID), "resourceGroup", group).Info("installing certificate")

	upload := arm.CertificateUpload{
		Location: site.Location,
		Properties: arm.CertificateUploadFields{
			PfxBlob:      certificate.PFX,
			Password:     certificate.Password,
			ServerFarmID: site.Properties.ServerFarmID,
		},
	}
	if err := c.client.PutCertificate(ctx, env.SubscriptionID, group, certificate.Name, upload); err != nil {
		return nil, errors.Wrap(err, "while registering certificate")
	}

	mode := arm.SslStateSniEnabled
	if settings.UseIPBasedSSL {
		mode = arm.SslStateIPBasedEnabled
	}

	touched := make([]arm.HostNameSslState, 0, len(hostnames))
	for _, hostname := range hostnames {
		binding := site.Binding(hostname)
		if binding == nil {
			site.Properties.HostNameSslStates = append(site.Properties.HostNameSslStates, arm.HostNameSslState{Name: hostname})
			binding = &site.Properties.HostNameSslStates[len(site.Properties.HostNameSslStates)-1]
		}
		binding.SslState = mode
		binding.Thumbprint = certificate.Thumbprint
		binding.ToUpdate = true
		touched = append(touched, *binding)
	}

	task, err := c.client.BeginUpdateSiteOrSlot(ctx, env.SubscriptionID, env.ResourceGroup, env.WebAppName, env.SiteSlotName, site.Properties.HostNameSslStates)
	if err != nil {
		logger.With("error", err).Error("certificate registered but binding update failed")
		return nil, &errs.PartialInstallError{CertificateName: certificate.Name, Thumbprint: certificate.Thumbprint, Err: err}
	}

	logger.With("bindings", len(touched)).Info("certificate installed")

	return &InstallResult{
		CertificateName: certificate.Name,
		Thumbprint:      certificate.Thumbprint,
		ResourceGroup:   group,
		Bindings:        touched,
		Update:          task,
	}, nil
}

func validateInstall(env appcontext.WebAppEnvironment, certificate *cert.Certificate, dnsIdentifiers []string) ([]string, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	switch {
	case certificate == nil:
		return nil, errs.Invalid("certificate", "must not be nil")
	case certificate.Thumbprint == "":
		return nil, errs.Invalid("certificate", "thumbprint is empty")
	case certificate.Name == "":
		return nil, errs.Invalid("certificate", "name is empty")
	case len(certificate.PFX) == 0:
		return nil, errs.Invalid("certificate", "pfx blob is empty")
	}
	return NormalizeHostnames(dnsIdentifiers)
}

// NormalizeHostnames lower-cases, validates and deduplicates hostnames,
// keeping their order. Wildcard hostnames are allowed.
func NormalizeHostnames(hostnames []string) ([]string, error) {
	if len(hostnames) == 0 {
		return nil, errs.Invalid("dnsIdentifiers", "at least one hostname is required")
	}

	seen := map[string]bool{}
	out := make([]string, 0, len(hostnames))
	for _, h := range hostnames {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			return nil, errs.Invalid("dnsIdentifiers", "empty hostname")
		}
		if _, err := idna.Lookup.ToASCII(strings.TrimPrefix(h, "*.")); err != nil || !strings.Contains(h, ".") {
			return nil, errs.Invalid("dnsIdentifiers", "invalid hostname "+h)
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out, nil
}
