package challenge

import (
	"context"
	"path"
	"strings"

	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

const DefaultWebRoot = "site/wwwroot"

// webConfig lets IIS serve the extensionless proof files as text.
const webConfig = `<?xml version="1.0" encoding="UTF-8"?>
<configuration>
  <system.webServer>
    <staticContent>
      <remove fileExtension="." />
      <mimeMap fileExtension="." mimeType="text/plain" />
    </staticContent>
    <handlers>
      <clear />
      <add name="StaticFile" path="*" verb="*" modules="StaticFileModule" resourceType="Either" requireAccess="Read" />
    </handlers>
  </system.webServer>
</configuration>
`

// FileSystem is the deployment host file API. *kudu.Client implements it.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	DeleteFile(ctx context.Context, path string) error
}

type Kudu struct {
	files   FileSystem
	webRoot string
}

// NewKudu places proofs below webRoot on the deployment host. An empty webRoot
// means DefaultWebRoot.
func NewKudu(files FileSystem, webRoot string) *Kudu {
	if webRoot == "" {
		webRoot = DefaultWebRoot
	}
	return &Kudu{files: files, webRoot: strings.Trim(webRoot, "/")}
}

func (k *Kudu) Channel() Channel { return KuduHTTP }

func (k *Kudu) proofPath(token string) string {
	return path.Join(k.webRoot, http01.ChallengePath(token))
}

func (k *Kudu) PlaceProof(ctx context.Context, domain, token, keyAuth string) error {
	configPath := path.Join(path.Dir(k.proofPath(token)), "web.config")

	_, err := k.files.ReadFile(ctx, configPath)
	switch {
	case errs.IsNotFound(err):
		if err := k.files.WriteFile(ctx, configPath, []byte(webConfig)); err != nil {
			return errors.Wrap(err, "while writing challenge web.config")
		}
	case err != nil:
		return errors.Wrap(err, "while checking challenge web.config")
	}

	if err := k.files.WriteFile(ctx, k.proofPath(token), []byte(keyAuth)); err != nil {
		return errors.Wrapf(err, "while writing proof for %s", domain)
	}
	return nil
}

func (k *Kudu) Cleanup(ctx context.Context, domain, token, keyAuth string) error {
	return errors.Wrapf(k.files.DeleteFile(ctx, k.proofPath(token)), "while removing proof for %s", domain)
}
