// Package challenge places ACME challenge proofs where the certificate
// authority can find them.
package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/numtide/appservice-cert-wizard/errs"
)

// Channel is the kind of proof a strategy places.
type Channel int

const (
	// KuduHTTP serves HTTP-01 proofs from the web app's own file system.
	KuduHTTP Channel = iota
	// BlobHTTP stores HTTP-01 proofs in object storage that the web app serves.
	BlobHTTP
	// AzureDNS creates DNS-01 TXT records in an Azure DNS zone.
	AzureDNS
)

var channelNames = map[Channel]string{
	KuduHTTP: "kudu",
	BlobHTTP: "blob",
	AzureDNS: "azuredns",
}

func (c Channel) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return "unknown"
}

// IsDNS reports whether proofs of this channel are DNS records.
func (c Channel) IsDNS() bool {
	return c == AzureDNS
}

// ParseChannel maps a configuration value to a Channel.
func ParseChannel(s string) (Channel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, n := range channelNames {
		if n == s {
			return c, nil
		}
	}
	return 0, errs.Invalid("challenge", "unknown channel "+s)
}

// Strategy places and removes the proof for one domain.
type Strategy interface {
	Channel() Channel
	PlaceProof(ctx context.Context, domain, token, keyAuth string) error
	Cleanup(ctx context.Context, domain, token, keyAuth string) error
}

// Propagator is implemented by strategies whose proofs take time to become
// visible to the authority.
type Propagator interface {
	Timeout() (timeout, interval time.Duration)
}
