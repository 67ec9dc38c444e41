// Package arm talks to the hosting control plane: sites, their SSL bindings
// and certificate resources.
package arm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/cenkalti/backoff/v4"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://management.azure.com"
	moduleName     = "appservicecertwizard"
	moduleVersion  = "v1.0.0"
	defaultScope   = "https://management.azure.com/.default"

	siteAPIVersion        = "2016-08-01"
	certificateAPIVersion = "2016-03-01"
)

// RetryPolicy bounds the retries of Invoke. A fresh backoff is built from it
// for every call.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy doubles the delay from 1s, five retries at most.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	MaxRetries:      5,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

type Client struct {
	baseURL      string
	scope        string
	transport    policy.Transporter
	pipeline     runtime.Pipeline
	retry        RetryPolicy
	pollInterval time.Duration
	logger       *zap.SugaredLogger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sends requests through hc instead of the SDK's default
// transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.transport = hc
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithPollInterval sets how often an UpdateTask polls while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient builds a control plane client on an azcore pipeline that
// authorizes every request with a bearer token from cred. The pipeline's own
// retries are off: Invoke decides what is retried.
func NewClient(cred azcore.TokenCredential, opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		scope:        defaultScope,
		retry:        DefaultRetryPolicy,
		pollInterval: 5 * time.Second,
		logger:       zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}

	c.pipeline = runtime.NewPipeline(moduleName, moduleVersion,
		runtime.PipelineOptions{
			PerRetry: []policy.Policy{runtime.NewBearerTokenPolicy(cred, []string{c.scope}, nil)},
		},
		&policy.ClientOptions{
			Retry:     policy.RetryOptions{MaxRetries: -1},
			Transport: c.transport,
		},
	)
	return c
}

// Response is a fully read control plane answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFactory builds a fresh request for every attempt, so request bodies
// can be replayed.
type RequestFactory func(ctx context.Context) (*policy.Request, error)

// Invoke sends the request built by newRequest, retrying transport failures,
// 5xx and 429 answers with exponential backoff. Any other non-success status
// stops at once. Failures are returned as *errs.RemoteError; a transport
// failure that outlasts the retries carries status 0.
func (c *Client) Invoke(ctx context.Context, op string, newRequest RequestFactory) (*Response, error) {
	logger := c.logger.With("op", op)

	var resp *Response
	attempt := func() error {
		req, err := newRequest(ctx)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "while building request"))
		}

		r, err := c.send(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var nonRetriable interface{ NonRetriable() }
			if errors.As(err, &nonRetriable) {
				return backoff.Permanent(&errs.RemoteError{Op: op, Body: err.Error()})
			}
			return &errs.TransientError{Err: err}
		}

		resp = r
		if success(r.StatusCode) {
			return nil
		}
		remote := &errs.RemoteError{Op: op, StatusCode: r.StatusCode, Body: string(r.Body)}
		if retryable(r.StatusCode) {
			return &errs.TransientError{Err: remote}
		}
		return backoff.Permanent(remote)
	}

	notify := func(err error, wait time.Duration) {
		logger.With("error", err, "wait", wait).Warn("retrying control plane request")
	}

	if err := backoff.RetryNotify(attempt, c.retry.backOff(ctx), notify); err != nil {
		var transient *errs.TransientError
		if errors.As(err, &transient) {
			var remote *errs.RemoteError
			if errors.As(transient.Err, &remote) {
				return nil, remote
			}
			return nil, &errs.RemoteError{Op: op, Body: transient.Err.Error()}
		}
		return nil, err
	}
	return resp, nil
}

// get performs a single request without retries.
func (c *Client) get(ctx context.Context, url string) (*Response, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) send(req *policy.Request) (*Response, error) {
	req.Raw().Header.Set("Accept", "application/json")

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, err
	}

	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, errors.Wrap(err, "while reading response body")
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func jsonRequest(method, url string, v interface{}) RequestFactory {
	return func(ctx context.Context) (*policy.Request, error) {
		req, err := runtime.NewRequest(ctx, method, url)
		if err != nil {
			return nil, err
		}
		if err := runtime.MarshalAsJSON(req, v); err != nil {
			return nil, err
		}
		return req, nil
	}
}

func emptyRequest(method, url string) RequestFactory {
	return func(ctx context.Context) (*policy.Request, error) {
		return runtime.NewRequest(ctx, method, url)
	}
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}
