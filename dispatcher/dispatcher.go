// Package dispatcher runs jobs one at a time per key, with one agent
// goroutine per key that has work queued. Installs use the site as key so
// that two installs never race on the same site's bindings.
package dispatcher

import (
	"context"

	"github.com/numtide/appservice-cert-wizard/appcontext"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

var (
	ErrQueueFull = errors.WithMessage(errs.ErrUnavailable, "too many jobs queued for this key")
	ErrStopped   = errors.WithMessage(errs.ErrUnavailable, "dispatcher stopped")
)

type job struct {
	key    string
	ctx    context.Context
	run    func(ctx context.Context) error
	result chan error
}

type agentHandle struct {
	jobs    chan job
	pending int
}

type Dispatcher struct {
	input      chan job
	stopped    chan struct{}
	queueSize  int
	appContext appcontext.AppContext
}

// New creates a dispatcher that queues up to queueSize jobs per key.
func New(appContext appcontext.AppContext, queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		input:      make(chan job),
		stopped:    make(chan struct{}),
		queueSize:  queueSize,
		appContext: appContext.Named("dispatcher"),
	}
}

// Dispatch routes jobs to agents until ctx ends. It must run exactly once.
func (d *Dispatcher) Dispatch(ctx context.Context) {

	agents := map[string]*agentHandle{}

	finished := make(chan string)

	defer func() {
		close(d.stopped)
		for _, a := range agents {
			close(a.jobs)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.input:
			ag, found := agents[j.key]
			if !found {
				ag = &agentHandle{jobs: make(chan job, d.queueSize)}
				agents[j.key] = ag
				go process(ctx, j.key, ag.jobs, finished)
				d.appContext.Logger.With("key", j.key).Debug("site agent started")
			}
			select {
			case ag.jobs <- j:
				ag.pending++
			default:
				j.result <- ErrQueueFull
			}
		case key := <-finished:
			ag, found := agents[key]
			if !found {
				continue
			}
			ag.pending--
			if ag.pending == 0 {
				close(ag.jobs)
				delete(agents, key)
				d.appContext.Logger.With("key", key).Debug("site agent terminated")
			}
		}
	}
}

// Do runs fn after every earlier job with the same key finished, and returns
// its error. fn receives ctx.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	j := job{key: key, ctx: ctx, run: fn, result: make(chan error, 1)}

	select {
	case d.input <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrStopped
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		select {
		case err := <-j.result:
			return err
		default:
			return ErrStopped
		}
	}
}
