package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/numtide/appservice-cert-wizard/api"
	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/authority"
	"github.com/numtide/appservice-cert-wizard/certmanager"
	"github.com/numtide/appservice-cert-wizard/certservice"
	"github.com/numtide/appservice-cert-wizard/challenge"
	"github.com/numtide/appservice-cert-wizard/dispatcher"
	"github.com/numtide/appservice-cert-wizard/event"
	"github.com/numtide/appservice-cert-wizard/kudu"
)

var siteFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "subscription-id",
		EnvVars: []string{"WEBAPP_SUBSCRIPTION_ID"},
	},
	&cli.StringFlag{
		Name:    "resource-group",
		EnvVars: []string{"WEBAPP_RESOURCE_GROUP"},
	},
	&cli.StringFlag{
		Name:    "plan-resource-group",
		EnvVars: []string{"WEBAPP_PLAN_RESOURCE_GROUP"},
	},
	&cli.StringFlag{
		Name:    "webapp",
		EnvVars: []string{"WEBAPP_NAME"},
	},
	&cli.StringFlag{
		Name:    "slot",
		EnvVars: []string{"WEBAPP_SLOT"},
	},
	&cli.BoolFlag{
		Name:    "use-ip-ssl",
		EnvVars: []string{"WEBAPP_USE_IP_SSL"},
	},
	&cli.StringSliceFlag{
		Name:    "issuer-marker",
		EnvVars: []string{"ISSUER_MARKERS"},
	},
}

var domainFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "host",
		Required: true,
	},
	&cli.StringSliceFlag{
		Name: "alternate-name",
	},
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var all []cli.Flag
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

var installCommand = &cli.Command{
	Name:  "install",
	Usage: "obtain a certificate and bind it to the web app",
	Flags: flags(siteFlags, domainFlags, []cli.Flag{
		&cli.StringFlag{
			Name:  "challenge",
			Value: challenge.KuduHTTP.String(),
			Usage: "kudu, blob or azuredns",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Value: true,
			Usage: "wait for the binding update to finish",
		},
	}),
	Action: func(c *cli.Context) error {
		ctx := c.Context
		appContext := appContextFrom(c)

		w, err := newWiring(ctx, c, appContext)
		if err != nil {
			return err
		}

		channel, err := challenge.ParseChannel(c.String("challenge"))
		if err != nil {
			return err
		}

		svc, ok := w.services[channel]
		if !ok {
			return errors.Errorf("challenge channel %s is not configured", channel)
		}

		res, err := svc.AddCertificate(ctx, certservice.InstallRequest{
			Environment:    siteEnvironment(c),
			Settings:       siteSettings(c),
			Host:           c.String("host"),
			AlternateNames: c.StringSlice("alternate-name"),
		})
		if err != nil {
			return err
		}

		if c.Bool("wait") {
			if err := res.Update.Wait(ctx); err != nil {
				return errors.Wrap(err, "while waiting for the binding update")
			}
		}

		appContext.Logger.With(
			"certificate", res.CertificateName,
			"thumbprint", res.Thumbprint,
			"expiration", res.Expiration,
			"bindingUpdatePending", !res.Update.Done(),
		).Info("certificate installed")
		return nil
	},
}

var requestCommand = &cli.Command{
	Name:  "request",
	Usage: "obtain a certificate and write its PFX to a file",
	Flags: flags(domainFlags, []cli.Flag{
		&cli.StringFlag{
			Name:  "challenge",
			Value: challenge.AzureDNS.String(),
		},
		&cli.StringFlag{
			Name:     "out",
			Required: true,
		},
	}),
	Action: func(c *cli.Context) error {
		ctx := c.Context
		appContext := appContextFrom(c)

		w, err := newWiring(ctx, c, appContext)
		if err != nil {
			return err
		}

		channel, err := challenge.ParseChannel(c.String("challenge"))
		if err != nil {
			return err
		}

		svc, ok := w.services[channel]
		if !ok {
			return errors.Errorf("challenge channel %s is not configured", channel)
		}

		domains := append([]string{c.String("host")}, c.StringSlice("alternate-name")...)
		certificate, err := svc.RequestCertificate(ctx, domains)
		if err != nil {
			return err
		}

		if err := os.WriteFile(c.String("out"), certificate.PFX, 0600); err != nil {
			return errors.Wrap(err, "while writing pfx")
		}

		appContext.Logger.With(
			"thumbprint", certificate.Thumbprint,
			"expiration", certificate.Expiration,
			"path", c.String("out"),
		).Info("certificate written")
		return nil
	},
}

var renewCommand = &cli.Command{
	Name:  "renew",
	Usage: "reissue the web app's certificates that expire soon",
	Flags: flags(siteFlags, []cli.Flag{
		&cli.StringFlag{
			Name:  "challenge",
			Value: challenge.KuduHTTP.String(),
			Usage: "kudu, blob or azuredns",
		},
		&cli.IntFlag{
			Name:  "threshold-days",
			Value: certmanager.DefaultRenewalDays,
		},
	}),
	Action: func(c *cli.Context) error {
		ctx := c.Context
		appContext := appContextFrom(c)

		w, err := newWiring(ctx, c, appContext)
		if err != nil {
			return err
		}

		channel, err := challenge.ParseChannel(c.String("challenge"))
		if err != nil {
			return err
		}

		svc, ok := w.services[channel]
		if !ok {
			return errors.Errorf("challenge channel %s is not configured", channel)
		}

		renewed, err := svc.Renew(ctx, siteEnvironment(c), siteSettings(c), c.Int("threshold-days"))
		for _, res := range renewed {
			appContext.Logger.With("certificate", res.CertificateName, "expiration", res.Expiration).Info("certificate renewed")
		}
		return err
	},
}

var removeExpiredCommand = &cli.Command{
	Name:  "remove-expired",
	Usage: "delete unbound certificates issued by this tool that expire soon",
	Flags: flags(siteFlags, []cli.Flag{
		&cli.IntFlag{
			Name:  "threshold-days",
			Value: 0,
		},
	}),
	Action: func(c *cli.Context) error {
		ctx := c.Context
		appContext := appContextFrom(c)

		w, err := newWiring(ctx, c, appContext)
		if err != nil {
			return err
		}

		removed, err := w.manager.RemoveExpired(ctx, siteEnvironment(c), siteSettings(c), c.Int("threshold-days"))
		if err != nil {
			return err
		}

		appContext.Logger.With("removed", removed).Info("expired certificates removed")
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve the certificate API",
	Flags: flags(siteFlags, []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Value:   ":8080",
			EnvVars: []string{"LISTEN_ADDR"},
		},
		&cli.IntFlag{
			Name:  "queue-size",
			Value: 8,
			Usage: "jobs queued per web app",
		},
		&cli.DurationFlag{
			Name:  "sweep-interval",
			Usage: "sweep the configured web app periodically, 0 disables",
		},
		&cli.IntFlag{
			Name: "sweep-threshold-days",
		},
	}),
	Action: func(c *cli.Context) error {
		appContext := appContextFrom(c)

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := newWiring(ctx, c, appContext)
		if err != nil {
			return err
		}

		queue := dispatcher.New(appContext, c.Int("queue-size"))
		go queue.Dispatch(ctx)

		if interval := c.Duration("sweep-interval"); interval > 0 {
			env := siteEnvironment(c)
			if err := env.Validate(); err != nil {
				return errors.Wrap(err, "while configuring the sweep agent")
			}
			go w.manager.RunSweepAgent(ctx, env, siteSettings(c), c.Int("sweep-threshold-days"), interval)
		}

		services := []api.CertificateService{}
		for _, svc := range w.services {
			services = append(services, svc)
		}

		server := &http.Server{
			Addr:              c.String("listen"),
			Handler:           api.NewServer(appContext, w.manager, queue, services...).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				appContext.Logger.With("error", err).Warn("while shutting down")
			}
		}()

		appContext.Logger.With("addr", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "while serving")
		}
		return nil
	},
}

func siteEnvironment(c *cli.Context) appcontext.WebAppEnvironment {
	return appcontext.WebAppEnvironment{
		SubscriptionID:           c.String("subscription-id"),
		ResourceGroup:            c.String("resource-group"),
		ServicePlanResourceGroup: c.String("plan-resource-group"),
		WebAppName:               c.String("webapp"),
		SiteSlotName:             c.String("slot"),
	}
}

func siteSettings(c *cli.Context) appcontext.CertificateSettings {
	return appcontext.CertificateSettings{
		UseIPBasedSSL: c.Bool("use-ip-ssl"),
		IssuerMarkers: c.StringSlice("issuer-marker"),
	}
}

// wiring holds the engine and one certificate service per configured channel.
type wiring struct {
	manager  *certmanager.CertManager
	services map[challenge.Channel]*certservice.Service
}

func newWiring(ctx context.Context, c *cli.Context, appContext appcontext.AppContext) (*wiring, error) {
	s, err := loadSecrets(c)
	if err != nil {
		return nil, err
	}

	cred, err := azidentity.NewClientSecretCredential(c.String("tenant-id"), c.String("client-id"), s.get("client-secret"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "while creating azure credential")
	}

	armClient := arm.NewClient(cred,
		arm.WithBaseURL(c.String("arm-endpoint")),
		arm.WithLogger(appContext.Logger),
	)
	manager := certmanager.New(armClient, appContext)

	ca, err := authority.New(authority.Config{
		Email:        c.String("acme-email"),
		DirectoryURL: c.String("acme-directory"),
		PFXPassword:  s.get("pfx-password"),
	}, appContext)
	if err != nil {
		return nil, errors.Wrap(err, "while configuring the certificate authority")
	}

	strategies, err := newStrategies(ctx, c, s)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, errors.New("no challenge channel configured: set kudu-url, s3-bucket or dns-zone")
	}

	w := &wiring{manager: manager, services: map[challenge.Channel]*certservice.Service{}}
	for _, strategy := range strategies {
		w.services[strategy.Channel()] = certservice.New(ca, manager, strategy, appContext, certservice.WithSink(logEvents(appContext)))
	}
	return w, nil
}

func newStrategies(ctx context.Context, c *cli.Context, s *secrets) ([]challenge.Strategy, error) {
	var strategies []challenge.Strategy

	if u := c.String("kudu-url"); u != "" {
		files := kudu.NewClient(u, c.String("kudu-username"), s.get("kudu-password"))
		strategies = append(strategies, challenge.NewKudu(files, c.String("web-root")))
	}

	if bucket := c.String("s3-bucket"); bucket != "" {
		client, err := challenge.NewS3Client(ctx, challenge.S3Config{
			Bucket:         bucket,
			Region:         c.String("s3-region"),
			AccessKeyID:    c.String("s3-access-key-id"),
			SecretKey:      s.get("s3-secret-key"),
			Endpoint:       c.String("s3-endpoint"),
			ForcePathStyle: c.Bool("s3-path-style"),
		})
		if err != nil {
			return nil, errors.Wrap(err, "while creating s3 client")
		}
		strategies = append(strategies, challenge.NewBlob(client, bucket, c.String("s3-prefix")))
	}

	if zone := c.String("dns-zone"); zone != "" {
		dns, err := challenge.NewAzureDNS(challenge.AzureDNSConfig{
			SubscriptionID: c.String("dns-subscription-id"),
			ResourceGroup:  c.String("dns-resource-group"),
			ZoneName:       zone,
			TenantID:       c.String("tenant-id"),
			ClientID:       c.String("client-id"),
			ClientSecret:   s.get("client-secret"),
		})
		if err != nil {
			return nil, errors.Wrap(err, "while creating azure dns provider")
		}
		strategies = append(strategies, dns)
	}

	return strategies, nil
}

func logEvents(appContext appcontext.AppContext) event.Sink {
	logger := appContext.Logger.With("process", "events")
	return func(e event.Event) {
		l := logger.With(
			"stage", e.Stage.String(),
			"channel", e.Channel.String(),
			"hosts", e.Hosts,
		)
		if e.Thumbprint != "" {
			l = l.With("thumbprint", e.Thumbprint)
		}
		if e.Err != nil {
			l.With("error", e.Err).Warn("certificate event")
			return
		}
		l.Info("certificate event")
	}
}
