package main

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/authority"
)

func main() {

	app := &cli.App{
		Name:  "appservice-cert-wizard",
		Usage: "obtain, install and sweep ACME certificates on App Service web apps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "vaultaddr",
				EnvVars: []string{"VAULT_ADDR"},
			},
			&cli.StringFlag{
				Name:    "vault-username",
				EnvVars: []string{"VAULT_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "vault-password",
				EnvVars: []string{"VAULT_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "vault-path",
				Usage:   "secret holding client-secret, kudu-password, s3-secret-key and pfx-password",
				EnvVars: []string{"VAULT_PATH"},
			},
			&cli.StringFlag{
				Name:    "tenant-id",
				EnvVars: []string{"AZURE_TENANT_ID"},
			},
			&cli.StringFlag{
				Name:    "client-id",
				EnvVars: []string{"AZURE_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:    "client-secret",
				EnvVars: []string{"AZURE_CLIENT_SECRET"},
			},
			&cli.StringFlag{
				Name:    "arm-endpoint",
				Value:   "https://management.azure.com",
				EnvVars: []string{"ARM_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "acme-email",
				EnvVars: []string{"ACME_EMAIL"},
			},
			&cli.StringFlag{
				Name:    "acme-directory",
				Value:   authority.Staging,
				EnvVars: []string{"ACME_DIRECTORY"},
			},
			&cli.StringFlag{
				Name:    "pfx-password",
				EnvVars: []string{"PFX_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "kudu-url",
				Usage:   "SCM site of the web app, e.g. https://myapp.scm.azurewebsites.net",
				EnvVars: []string{"KUDU_URL"},
			},
			&cli.StringFlag{
				Name:    "kudu-username",
				EnvVars: []string{"KUDU_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "kudu-password",
				EnvVars: []string{"KUDU_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "web-root",
				EnvVars: []string{"WEB_ROOT"},
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				EnvVars: []string{"S3_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "s3-region",
				EnvVars: []string{"S3_REGION"},
			},
			&cli.StringFlag{
				Name:    "s3-access-key-id",
				EnvVars: []string{"S3_ACCESS_KEY_ID"},
			},
			&cli.StringFlag{
				Name:    "s3-secret-key",
				EnvVars: []string{"S3_SECRET_KEY"},
			},
			&cli.StringFlag{
				Name:    "s3-endpoint",
				EnvVars: []string{"S3_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "s3-prefix",
				EnvVars: []string{"S3_PREFIX"},
			},
			&cli.BoolFlag{
				Name:    "s3-path-style",
				EnvVars: []string{"S3_PATH_STYLE"},
			},
			&cli.StringFlag{
				Name:    "dns-subscription-id",
				EnvVars: []string{"DNS_SUBSCRIPTION_ID"},
			},
			&cli.StringFlag{
				Name:    "dns-resource-group",
				EnvVars: []string{"DNS_RESOURCE_GROUP"},
			},
			&cli.StringFlag{
				Name:    "dns-zone",
				EnvVars: []string{"DNS_ZONE"},
			},
		},
		Before: func(c *cli.Context) error {
			lc := zap.NewProductionConfig()
			lc.EncoderConfig.TimeKey = "timestamp"
			lc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
			lc.OutputPaths = []string{"stdout"}

			z, err := lc.Build()
			if err != nil {
				return errors.Wrap(err, "while creating logger")
			}

			c.App.Metadata = map[string]interface{}{
				"appContext": appcontext.AppContext{Logger: z.Sugar()},
			}
			return nil
		},
		Commands: []*cli.Command{
			installCommand,
			requestCommand,
			renewCommand,
			removeExpiredCommand,
			serveCommand,
		},
	}
	app.RunAndExitOnError()

}

func appContextFrom(c *cli.Context) appcontext.AppContext {
	return c.App.Metadata["appContext"].(appcontext.AppContext)
}
