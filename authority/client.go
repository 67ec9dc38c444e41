// Package authority obtains certificates from an ACME certificate authority.
package authority

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	legochallenge "github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/cert"
	"github.com/numtide/appservice-cert-wizard/challenge"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

const (
	// Staging is Let's Encrypt's staging directory. Its certificates are issued by "Fake LE" / "(STAGING)" intermediates.
	Staging = "https://acme-staging-v02.api.letsencrypt.org/directory"
	// Production is Let's Encrypt's production directory.
	Production = "https://acme-v02.api.letsencrypt.org/directory"
)

type Config struct {
	Email        string
	DirectoryURL string
	// PFXPassword protects the PFX handed to the hosting control plane.
	PFXPassword string
	KeyType     certcrypto.KeyType
	// RootCAs overrides the trust store used to reach the directory, for test authorities.
	RootCAs *x509.CertPool
}

type account struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.email }
func (a *account) GetRegistration() *registration.Resource { return a.registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

type Client struct {
	config     Config
	appContext appcontext.AppContext
}

func New(config Config, appContext appcontext.AppContext) (*Client, error) {
	if config.Email == "" {
		return nil, errs.Invalid("email", "required for the ACME account")
	}
	if config.DirectoryURL == "" {
		config.DirectoryURL = Staging
	}
	if config.KeyType == "" {
		config.KeyType = certcrypto.RSA2048
	}
	return &Client{config: config, appContext: appContext.Named("authority")}, nil
}

// RequestCertificate registers a fresh account, proves control of domains
// through strategy and returns the issued certificate. The first domain is
// the certificate's host. Failures are *errs.IssuanceError.
func (c *Client) RequestCertificate(ctx context.Context, domains []string, strategy challenge.Strategy) (*cert.Certificate, error) {
	if len(domains) == 0 {
		return nil, errs.Invalid("domains", "at least one domain is required")
	}

	logger := c.appContext.Logger.With("domains", domains, "channel", strategy.Channel())

	client, err := c.newLegoClient()
	if err != nil {
		return nil, &errs.IssuanceError{Domains: domains, Err: err}
	}

	provider := &legoProvider{ctx: ctx, strategy: strategy}
	if strategy.Channel().IsDNS() {
		var p legochallenge.Provider = provider
		if _, ok := strategy.(challenge.Propagator); ok {
			p = &propagatingProvider{provider}
		}
		err = client.Challenge.SetDNS01Provider(p)
	} else {
		err = client.Challenge.SetHTTP01Provider(provider)
	}
	if err != nil {
		return nil, &errs.IssuanceError{Domains: domains, Err: errors.Wrap(err, "while setting challenge provider")}
	}

	logger.Info("requesting certificate")

	res, err := client.Certificate.Obtain(certificate.ObtainRequest{Domains: domains, Bundle: true})
	if err != nil {
		logger.With("error", err).Error("while obtaining certificate")
		return nil, &errs.IssuanceError{Domains: domains, Err: err}
	}

	issued, err := cert.FromPEM(domains[0], res.Certificate, res.PrivateKey, c.config.PFXPassword)
	if err != nil {
		return nil, &errs.IssuanceError{Domains: domains, Err: err}
	}

	logger.With("thumbprint", issued.Thumbprint, "expiration", issued.Expiration).Info("certificate issued")
	return issued, nil
}

func (c *Client) newLegoClient() (*lego.Client, error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
	if err != nil {
		return nil, errors.Wrap(err, "while generating account key")
	}
	user := &account{email: c.config.Email, key: key}

	config := lego.NewConfig(user)
	config.CADirURL = c.config.DirectoryURL
	config.Certificate.KeyType = c.config.KeyType
	if c.config.RootCAs != nil {
		config.HTTPClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: c.config.RootCAs},
		}
	}

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, errors.Wrap(err, "while creating ACME client")
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, errors.Wrap(err, "while registering ACME account")
	}
	user.registration = reg

	return client, nil
}
