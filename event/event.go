package event

import "github.com/numtide/appservice-cert-wizard/challenge"

// Stage is a step of one certificate request.
type Stage int

const (
	Requested Stage = iota
	ProofPlaced
	Issued
	Installed
	IssuanceFailed
	InstallFailed
)

var stageNames = [...]string{"requested", "proof_placed", "issued", "installed", "issuance_failed", "install_failed"}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further stage follows.
func (s Stage) Terminal() bool {
	return s == Installed || s == IssuanceFailed || s == InstallFailed
}

type Event struct {
	Stage      Stage
	Channel    challenge.Channel
	Hosts      []string
	Thumbprint string
	Err        error
}

// Sink receives events. It must not block.
type Sink func(Event)
