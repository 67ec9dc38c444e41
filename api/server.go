// Package api exposes certificate requests, installs and sweeps over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/cert"
	"github.com/numtide/appservice-cert-wizard/certmanager"
	"github.com/numtide/appservice-cert-wizard/certservice"
	"github.com/numtide/appservice-cert-wizard/challenge"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

// CertificateService is one configured challenge channel.
// *certservice.Service implements it.
type CertificateService interface {
	Channel() challenge.Channel
	AddCertificate(ctx context.Context, req certservice.InstallRequest) (*certservice.Result, error)
	RequestCertificate(ctx context.Context, domains []string) (*cert.Certificate, error)
	Renew(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, thresholdDays int) ([]*certservice.Result, error)
}

type Sweeper interface {
	RemoveExpired(ctx context.Context, env appcontext.WebAppEnvironment, settings appcontext.CertificateSettings, thresholdDays int) ([]string, error)
}

// Serializer runs functions one at a time per key. *dispatcher.Dispatcher
// implements it.
type Serializer interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Server struct {
	services   map[challenge.Channel]CertificateService
	sweeper    Sweeper
	queue      Serializer
	appContext appcontext.AppContext
}

func NewServer(appContext appcontext.AppContext, sweeper Sweeper, queue Serializer, services ...CertificateService) *Server {
	s := &Server{
		services:   map[challenge.Channel]CertificateService{},
		sweeper:    sweeper,
		queue:      queue,
		appContext: appContext.Named("api"),
	}
	for _, svc := range services {
		s.services[svc.Channel()] = svc
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/certificates", func(r chi.Router) {
		r.Post("/challengeprovider/http/kudu/certificateinstall/azurewebapp", s.install(challenge.KuduHTTP))
		r.Post("/challengeprovider/http/blob/certificateinstall/azurewebapp", s.install(challenge.BlobHTTP))
		r.Post("/challengeprovider/dns/azure/certificateinstall/azurewebapp", s.install(challenge.AzureDNS))
		r.Post("/challengeprovider/dns/azure", s.request(challenge.AzureDNS))
		r.Post("/renew", s.renew)
		r.Post("/removeexpired", s.removeExpired)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.appContext.Logger.With(
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		).Info("request handled")
	})
}

func (s *Server) install(channel challenge.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := s.services[channel]
		if !ok {
			s.writeError(w, errors.Wrapf(errs.ErrNotFound, "channel %s is not configured", channel))
			return
		}

		req := certservice.InstallRequest{}
		if err := decode(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := req.Environment.Validate(); err != nil {
			s.writeError(w, err)
			return
		}

		var res *certservice.Result
		err := s.queue.Do(r.Context(), req.Environment.SiteKey(), func(ctx context.Context) error {
			var err error
			res, err = svc.AddCertificate(ctx, req)
			return err
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	}
}

type requestBody struct {
	Host           string   `json:"host"`
	AlternateNames []string `json:"alternateNames"`
}

type certificateResponse struct {
	Name       string    `json:"name"`
	Thumbprint string    `json:"thumbprint"`
	Issuer     string    `json:"issuer"`
	Subject    string    `json:"subject"`
	Expiration time.Time `json:"expiration"`
	DNSNames   []string  `json:"dnsNames"`
	PfxBlob    []byte    `json:"pfxBlob"`
}

func (s *Server) request(channel challenge.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := s.services[channel]
		if !ok {
			s.writeError(w, errors.Wrapf(errs.ErrNotFound, "channel %s is not configured", channel))
			return
		}

		body := requestBody{}
		if err := decode(r, &body); err != nil {
			s.writeError(w, err)
			return
		}

		c, err := svc.RequestCertificate(r.Context(), append([]string{body.Host}, body.AlternateNames...))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, certificateResponse{
			Name:       c.Name,
			Thumbprint: c.Thumbprint,
			Issuer:     c.Issuer,
			Subject:    c.Subject,
			Expiration: c.Expiration,
			DNSNames:   c.DNSNames,
			PfxBlob:    c.PFX,
		})
	}
}

type renewBody struct {
	Environment appcontext.WebAppEnvironment   `json:"azureEnvironment"`
	Settings    appcontext.CertificateSettings `json:"certificateSettings"`
	// ThresholdDays defaults to certmanager.DefaultRenewalDays.
	ThresholdDays *int `json:"thresholdDays"`
	// ChallengeProvider is kudu, blob or azuredns. It defaults to kudu.
	ChallengeProvider string `json:"challengeProvider"`
}

type renewResponse struct {
	Renewed []*certservice.Result `json:"renewed"`
	Error   string                `json:"error,omitempty"`
}

// renew reissues the site's certificates that are about to expire. When only
// some renewals fail the answer carries both the renewed certificates and
// the error.
func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	body := renewBody{}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := body.Environment.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	channel := challenge.KuduHTTP
	if body.ChallengeProvider != "" {
		var err error
		if channel, err = challenge.ParseChannel(body.ChallengeProvider); err != nil {
			s.writeError(w, err)
			return
		}
	}
	svc, ok := s.services[channel]
	if !ok {
		s.writeError(w, errors.Wrapf(errs.ErrNotFound, "channel %s is not configured", channel))
		return
	}

	days := certmanager.DefaultRenewalDays
	if body.ThresholdDays != nil {
		days = *body.ThresholdDays
	}

	var renewed []*certservice.Result
	err := s.queue.Do(r.Context(), body.Environment.SiteKey(), func(ctx context.Context) error {
		var err error
		renewed, err = svc.Renew(ctx, body.Environment, body.Settings, days)
		return err
	})

	var partial *errs.RenewalError
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, renewResponse{Renewed: renewed})
	case errors.As(err, &partial):
		s.appContext.Logger.With("error", err, "renewed", len(renewed)).Error("renewal incomplete")
		s.writeJSON(w, errs.StatusCode(err), renewResponse{Renewed: renewed, Error: err.Error()})
	default:
		s.writeError(w, err)
	}
}

type removeExpiredBody struct {
	Environment   appcontext.WebAppEnvironment   `json:"azureEnvironment"`
	Settings      appcontext.CertificateSettings `json:"certificateSettings"`
	ThresholdDays int                            `json:"thresholdDays"`
}

type removeExpiredResponse struct {
	Removed []string `json:"removed"`
}

// removeExpired shares the site's queue with installs so a sweep never sees a
// certificate that is registered but not yet bound.
func (s *Server) removeExpired(w http.ResponseWriter, r *http.Request) {
	body := removeExpiredBody{}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := body.Environment.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	var removed []string
	err := s.queue.Do(r.Context(), body.Environment.SiteKey(), func(ctx context.Context) error {
		var err error
		removed, err = s.sweeper.RemoveExpired(ctx, body.Environment, body.Settings, body.ThresholdDays)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, removeExpiredResponse{Removed: removed})
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errs.Invalid("body", err.Error())
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errs.StatusCode(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if status >= http.StatusInternalServerError {
		s.appContext.Logger.With("error", err).Error("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.appContext.Logger.With("error", err).Warn("while writing response")
	}
}
