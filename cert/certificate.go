// Package cert holds the issued certificate as the hosting control plane
// expects it: a password protected PFX plus the metadata used for binding
// and sweeping.
package cert

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"time"

	"github.com/pkg/errors"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

type Certificate struct {
	Name       string
	Thumbprint string
	PFX        []byte
	Password   string
	Issuer     string
	Subject    string
	Expiration time.Time
	DNSNames   []string
}

// ResourceName derives the control plane resource name of a certificate.
// The same host and thumbprint always give the same name.
func ResourceName(host, thumbprint string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.ReplaceAll(host, "*", "wildcard")
	return host + "-" + strings.ToUpper(thumbprint)
}

// Thumbprint is the upper case hex SHA-1 of the DER encoded certificate.
func Thumbprint(c *x509.Certificate) string {
	sum := sha1.Sum(c.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FromPEM builds a Certificate from a PEM bundle (leaf first) and its private
// key. The PFX is encrypted with password.
func FromPEM(host string, bundlePEM, keyPEM []byte, password string) (*Certificate, error) {
	chain, err := parseChain(bundlePEM)
	if err != nil {
		return nil, err
	}
	leaf := chain[0]

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	pfx, err := pkcs12.LegacyDES.Encode(key, leaf, chain[1:], password)
	if err != nil {
		return nil, errors.Wrap(err, "while encoding pfx")
	}

	thumbprint := Thumbprint(leaf)

	return &Certificate{
		Name:       ResourceName(host, thumbprint),
		Thumbprint: thumbprint,
		PFX:        pfx,
		Password:   password,
		Issuer:     issuerName(leaf),
		Subject:    leaf.Subject.String(),
		Expiration: leaf.NotAfter,
		DNSNames:   leaf.DNSNames,
	}, nil
}

func parseChain(bundlePEM []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := bundlePEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "while parsing certificate chain")
		}
		chain = append(chain, c)
	}
	if len(chain) == 0 {
		return nil, errors.New("no certificate found in PEM bundle")
	}
	return chain, nil
}

func parsePrivateKey(keyPEM []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no private key found in PEM")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "while parsing private key")
	}
	return k, nil
}

// issuerName renders the issuer the way the control plane reports it, with
// the organization appended so issuer markers such as "Let's Encrypt" match
// intermediates named only by a short common name.
func issuerName(c *x509.Certificate) string {
	name := c.Issuer.CommonName
	if len(c.Issuer.Organization) > 0 && !strings.Contains(name, c.Issuer.Organization[0]) {
		if name == "" {
			return c.Issuer.Organization[0]
		}
		name += ", " + c.Issuer.Organization[0]
	}
	return name
}
