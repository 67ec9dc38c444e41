package certmanager_test

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/errs"
)

// fakeControlPlane keeps one site and the certificates of its server farm
// group in memory.
type fakeControlPlane struct {
	mu sync.Mutex

	site  arm.Site
	certs map[string]arm.Certificate

	putGroups   []string
	updates     int
	putErr      error
	updateErr   error
	deleteErr   map[string]error
	siteLookups int
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		site: arm.Site{
			Name:     "app",
			Location: "West Europe",
			Properties: arm.SiteProperties{
				ServerFarmID: "/subscriptions/sub/resourceGroups/plan-rg/providers/Microsoft.Web/serverfarms/plan",
			},
		},
		certs:     map[string]arm.Certificate{},
		deleteErr: map[string]error{},
	}
}

func (f *fakeControlPlane) GetSiteOrSlot(ctx context.Context, subscriptionID, group, site, slot string) (*arm.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.siteLookups++
	if !strings.EqualFold(site, f.site.Name) {
		return nil, errors.Wrap(errs.ErrNotFound, "site")
	}
	cp := f.site
	cp.Properties.HostNameSslStates = append([]arm.HostNameSslState(nil), f.site.Properties.HostNameSslStates...)
	return &cp, nil
}

func (f *fakeControlPlane) PutCertificate(ctx context.Context, subscriptionID, group, name string, upload arm.CertificateUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.putGroups = append(f.putGroups, group)
	f.certs[name] = arm.Certificate{Name: name, Location: upload.Location}
	return nil
}

func (f *fakeControlPlane) BeginUpdateSiteOrSlot(ctx context.Context, subscriptionID, group, site, slot string, states []arm.HostNameSslState) (*arm.UpdateTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates++
	applied := make([]arm.HostNameSslState, len(states))
	for i, s := range states {
		s.ToUpdate = false
		applied[i] = s
	}
	f.site.Properties.HostNameSslStates = applied
	return arm.CompletedTask(), nil
}

func (f *fakeControlPlane) ListCertificates(ctx context.Context, subscriptionID, group string) ([]arm.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]arm.Certificate, 0, len(f.certs))
	for _, c := range f.certs {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeControlPlane) DeleteCertificate(ctx context.Context, subscriptionID, group, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	delete(f.certs, name)
	return nil
}

func (f *fakeControlPlane) bindings() []arm.HostNameSslState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]arm.HostNameSslState(nil), f.site.Properties.HostNameSslStates...)
}
