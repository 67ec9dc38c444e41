package authority

import (
	"context"
	"time"

	"github.com/numtide/appservice-cert-wizard/challenge"
)

// legoProvider adapts a challenge.Strategy to lego's provider interface,
// which carries no context.
type legoProvider struct {
	ctx      context.Context
	strategy challenge.Strategy
}

func (p *legoProvider) Present(domain, token, keyAuth string) error {
	return p.strategy.PlaceProof(p.ctx, domain, token, keyAuth)
}

func (p *legoProvider) CleanUp(domain, token, keyAuth string) error {
	// cleanup runs even when the request context already ended
	return p.strategy.Cleanup(context.WithoutCancel(p.ctx), domain, token, keyAuth)
}

// propagatingProvider exposes the strategy's propagation timeout to lego.
type propagatingProvider struct {
	*legoProvider
}

func (p *propagatingProvider) Timeout() (timeout, interval time.Duration) {
	return p.strategy.(challenge.Propagator).Timeout()
}
