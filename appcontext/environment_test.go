package appcontext_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/errs"
)

func TestWebAppEnvironmentValidate(t *testing.T) {
	valid := appcontext.WebAppEnvironment{SubscriptionID: "sub", ResourceGroup: "rg", WebAppName: "app"}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.WebAppName = " "
	var verr *errs.ValidationError
	assert.ErrorAs(t, missing.Validate(), &verr)
	assert.Equal(t, "webAppName", verr.Field)
}

func TestPlanResourceGroupFallback(t *testing.T) {
	env := appcontext.WebAppEnvironment{ResourceGroup: "rg"}
	assert.Equal(t, "rg", env.PlanResourceGroup())
	env.ServicePlanResourceGroup = "plan-rg"
	assert.Equal(t, "plan-rg", env.PlanResourceGroup())
}

func TestSiteKeyDistinguishesSlots(t *testing.T) {
	env := appcontext.WebAppEnvironment{SubscriptionID: "S", ResourceGroup: "RG", WebAppName: "App"}
	slot := env
	slot.SiteSlotName = "staging"
	assert.NotEqual(t, env.SiteKey(), slot.SiteKey())
	assert.Equal(t, "s/rg/app/", env.SiteKey())
}

func TestMarkersDefault(t *testing.T) {
	assert.Equal(t, appcontext.DefaultIssuerMarkers, appcontext.CertificateSettings{}.Markers())
	assert.Equal(t, []string{"X"}, appcontext.CertificateSettings{IssuerMarkers: []string{"X"}}.Markers())
}
