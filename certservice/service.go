// Package certservice drives one certificate request through issuance and
// installation for a single challenge channel.
package certservice

import (
	"context"
	"time"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/cert"
	"github.com/numtide/appservice-cert-wizard/certmanager"
	"github.com/numtide/appservice-cert-wizard/challenge"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/numtide/appservice-cert-wizard/event"
	"github.com/pkg/errors"
)

// Authority issues certificates. *authority.Client implements it.
type Authority interface {
	RequestCertificate(ctx context.Context, domains []string, strategy challenge.Strategy) (*cert.Certificate, error)
}

// Installer registers and binds certificates and finds the installed ones
// that are due for renewal. *certmanager.CertManager implements it.
type Installer interface {
	Install(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, certificate *cert.Certificate, dnsIdentifiers []string) (*certmanager.InstallResult, error)
	DueForRenewal(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, thresholdDays int) ([]certmanager.Renewal, error)
}

type InstallRequest struct {
	Environment    appcontext.WebAppEnvironment   `json:"azureEnvironment"`
	Settings       appcontext.CertificateSettings `json:"certificateSettings"`
	Host           string                         `json:"host"`
	AlternateNames []string                       `json:"alternateNames"`
}

// DNSIdentifiers is the host followed by the alternate names.
func (r InstallRequest) DNSIdentifiers() []string {
	return append([]string{r.Host}, r.AlternateNames...)
}

type Result struct {
	CertificateName string    `json:"certificateName"`
	Thumbprint      string    `json:"thumbprint"`
	Issuer          string    `json:"issuer"`
	Subject         string    `json:"subject"`
	Expiration      time.Time `json:"expiration"`
	DNSIdentifiers  []string  `json:"dnsIdentifiers"`
	// Update tracks propagation of the binding change.
	Update *arm.UpdateTask `json:"-"`
}

type Service struct {
	authority  Authority
	installer  Installer
	strategy   challenge.Strategy
	sink       event.Sink
	appContext appcontext.AppContext
}

type Option func(*Service)

// WithSink receives every stage transition.
func WithSink(sink event.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

func New(authority Authority, installer Installer, strategy challenge.Strategy, appContext appcontext.AppContext, opts ...Option) *Service {
	s := &Service{
		authority:  authority,
		installer:  installer,
		strategy:   strategy,
		sink:       func(event.Event) {},
		appContext: appContext.Named("cert_service"),
	}
	s.appContext.Logger = s.appContext.Logger.With("channel", strategy.Channel())
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Channel() challenge.Channel {
	return s.strategy.Channel()
}

func (s *Service) emit(stage event.Stage, hosts []string, thumbprint string, err error) {
	s.sink(event.Event{Stage: stage, Channel: s.strategy.Channel(), Hosts: hosts, Thumbprint: thumbprint, Err: err})
}

// RequestCertificate obtains a certificate without installing it.
func (s *Service) RequestCertificate(ctx context.Context, domains []string) (*cert.Certificate, error) {
	hosts, err := certmanager.NormalizeHostnames(domains)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, hosts)
}

func (s *Service) issue(ctx context.Context, hosts []string) (*cert.Certificate, error) {
	s.emit(event.Requested, hosts, "", nil)

	issued, err := s.authority.RequestCertificate(ctx, hosts, s.observed())
	if err != nil {
		var issuance *errs.IssuanceError
		if !errors.As(err, &issuance) {
			err = &errs.IssuanceError{Domains: hosts, Err: err}
		}
		s.emit(event.IssuanceFailed, hosts, "", err)
		return nil, err
	}

	s.emit(event.Issued, hosts, issued.Thumbprint, nil)
	return issued, nil
}

// AddCertificate requests a certificate for the host and alternate names and
// installs it on the target web app. Neither step is retried here.
func (s *Service) AddCertificate(ctx context.Context, req InstallRequest) (*Result, error) {
	if err := req.Environment.Validate(); err != nil {
		return nil, err
	}
	hosts, err := certmanager.NormalizeHostnames(req.DNSIdentifiers())
	if err != nil {
		return nil, err
	}

	logger := s.appContext.Logger.With("hosts", hosts, "site", req.Environment.WebAppName)

	issued, err := s.issue(ctx, hosts)
	if err != nil {
		logger.With("error", err).Error("while requesting certificate")
		return nil, err
	}

	res, err := s.installer.Install(ctx, req.Environment, req.Settings, issued, hosts)
	if err != nil {
		err = &errs.InstallError{Thumbprint: issued.Thumbprint, Err: err}
		s.emit(event.InstallFailed, hosts, issued.Thumbprint, err)
		logger.With("error", err).Error("while installing certificate")
		return nil, err
	}

	s.emit(event.Installed, hosts, issued.Thumbprint, nil)

	return &Result{
		CertificateName: res.CertificateName,
		Thumbprint:      issued.Thumbprint,
		Issuer:          issued.Issuer,
		Subject:         issued.Subject,
		Expiration:      issued.Expiration,
		DNSIdentifiers:  hosts,
		Update:          res.Update,
	}, nil
}

// Renew reissues every certificate of the site that expires within
// thresholdDays and installs the replacement for the same hostnames. One
// failed renewal does not stop the others: the failures come back together
// as *errs.RenewalError next to the results that succeeded.
func (s *Service) Renew(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, thresholdDays int) ([]*Result, error) {
	logger := s.appContext.Logger.With("site", env.WebAppName, "slot", env.SiteSlotName, "thresholdDays", thresholdDays)

	due, err := s.installer.DueForRenewal(ctx, env, settings, thresholdDays)
	if err != nil {
		return nil, errors.Wrap(err, "while looking for certificates to renew")
	}

	logger.With("due", len(due)).Info("renewing certificates")

	results := []*Result{}
	var failures []error
	for _, r := range due {
		if len(r.Hostnames) == 0 {
			failures = append(failures, errs.Invalid("hostnames", "certificate "+r.CertificateName+" is bound to no hostname"))
			continue
		}

		res, err := s.AddCertificate(ctx, InstallRequest{
			Environment:    env,
			Settings:       settings,
			Host:           r.Hostnames[0],
			AlternateNames: r.Hostnames[1:],
		})
		if err != nil {
			failures = append(failures, errors.Wrapf(err, "while renewing %s", r.CertificateName))
			continue
		}

		logger.With("previous", r.Thumbprint, "thumbprint", res.Thumbprint).Info("certificate renewed")
		results = append(results, res)
	}

	if len(failures) > 0 {
		return results, &errs.RenewalError{Failures: failures}
	}
	return results, nil
}

func (s *Service) observed() challenge.Strategy {
	o := &observedStrategy{Strategy: s.strategy, service: s}
	if p, ok := s.strategy.(challenge.Propagator); ok {
		return &observedPropagator{o, p}
	}
	return o
}

// observedStrategy reports every placed proof.
type observedStrategy struct {
	challenge.Strategy
	service *Service
}

func (o *observedStrategy) PlaceProof(ctx context.Context, domain, token, keyAuth string) error {
	if err := o.Strategy.PlaceProof(ctx, domain, token, keyAuth); err != nil {
		return err
	}
	o.service.emit(event.ProofPlaced, []string{domain}, "", nil)
	return nil
}

type observedPropagator struct {
	*observedStrategy
	challenge.Propagator
}
