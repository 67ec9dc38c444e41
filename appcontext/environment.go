package appcontext

import (
	"strings"

	"github.com/numtide/appservice-cert-wizard/errs"
)

// DefaultIssuerMarkers match the issuers of certificates this tool creates.
var DefaultIssuerMarkers = []string{"Let's Encrypt", "Fake LE"}

// WebAppEnvironment identifies the web app (and optional slot) a certificate
// is installed on.
type WebAppEnvironment struct {
	SubscriptionID           string `json:"subscriptionId"`
	ResourceGroup            string `json:"resourceGroupName"`
	ServicePlanResourceGroup string `json:"servicePlanResourceGroupName"`
	WebAppName               string `json:"webAppName"`
	SiteSlotName             string `json:"siteSlotName"`
}

// Validate checks the required fields.
func (e WebAppEnvironment) Validate() error {
	switch {
	case strings.TrimSpace(e.SubscriptionID) == "":
		return errs.Invalid("subscriptionId", "must not be empty")
	case strings.TrimSpace(e.ResourceGroup) == "":
		return errs.Invalid("resourceGroupName", "must not be empty")
	case strings.TrimSpace(e.WebAppName) == "":
		return errs.Invalid("webAppName", "must not be empty")
	}
	return nil
}

// PlanResourceGroup is the configured server farm resource group, falling
// back to the site's own group.
func (e WebAppEnvironment) PlanResourceGroup() string {
	if e.ServicePlanResourceGroup != "" {
		return e.ServicePlanResourceGroup
	}
	return e.ResourceGroup
}

// SiteKey identifies the site for per-site serialization.
func (e WebAppEnvironment) SiteKey() string {
	return strings.ToLower(strings.Join([]string{e.SubscriptionID, e.ResourceGroup, e.WebAppName, e.SiteSlotName}, "/"))
}

type CertificateSettings struct {
	UseIPBasedSSL bool     `json:"useIPBasedSSL"`
	IssuerMarkers []string `json:"issuerMarkers,omitempty"`
}

// Markers returns the configured issuer markers or the defaults.
func (s CertificateSettings) Markers() []string {
	if len(s.IssuerMarkers) == 0 {
		return DefaultIssuerMarkers
	}
	return s.IssuerMarkers
}
