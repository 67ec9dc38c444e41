// Package kudu is a client for the deployment host's virtual file system API.
package kudu

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

const (
	moduleName    = "appservicecertwizard"
	moduleVersion = "v1.0.0"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name   string    `json:"name"`
	Size   int64     `json:"size"`
	MTime  time.Time `json:"mtime"`
	CRTime time.Time `json:"crtime"`
	Mime   string    `json:"mime"`
	Href   string    `json:"href"`
	Path   string    `json:"path"`
}

type Client struct {
	baseURL   string
	transport policy.Transporter
	pipeline  runtime.Pipeline
}

type Option func(*Client)

// WithHTTPClient sends requests through hc instead of the SDK's default
// transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.transport = hc
	}
}

// basicAuthPolicy signs every request with the site's publishing
// credentials.
type basicAuthPolicy struct {
	header string
}

func (p basicAuthPolicy) Do(req *policy.Request) (*http.Response, error) {
	req.Raw().Header.Set("Authorization", p.header)
	return req.Next()
}

// NewClient builds a client for the SCM site at baseURL using the site's
// publishing credentials. Requests are never retried.
func NewClient(baseURL, user, password string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, o := range opts {
		o(c)
	}

	auth := basicAuthPolicy{header: "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))}
	c.pipeline = runtime.NewPipeline(moduleName, moduleVersion,
		runtime.PipelineOptions{PerRetry: []policy.Policy{auth}},
		&policy.ClientOptions{
			Retry:     policy.RetryOptions{MaxRetries: -1},
			Transport: c.transport,
		},
	)
	return c
}

// vfsURL escapes every segment of path so that characters like '#' or '?'
// stay part of the file name.
func (c *Client) vfsURL(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/api/vfs/%s", c.baseURL, strings.Join(segments, "/"))
}

// ReadFile returns the content of the file at path. A missing file yields an
// error wrapping errs.ErrNotFound.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.vfsURL(path), nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "while reading %s", path)
	}
	switch {
	case status == http.StatusNotFound:
		return nil, errors.Wrapf(errs.ErrNotFound, "file %s", path)
	case !success(status):
		return nil, &errs.RemoteError{Op: "read " + path, StatusCode: status, Body: string(body)}
	}
	return body, nil
}

// ReadDirectory lists the directory at path.
func (c *Client) ReadDirectory(ctx context.Context, path string) ([]Entry, error) {
	dirURL := c.vfsURL(strings.TrimRight(path, "/")) + "/"
	status, body, err := c.do(ctx, http.MethodGet, dirURL, nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "while listing %s", path)
	}
	if !success(status) {
		return nil, &errs.RemoteError{Op: "list " + path, StatusCode: status, Body: string(body)}
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrapf(err, "while decoding listing of %s", path)
	}
	return entries, nil
}

// WriteFile creates or overwrites the file at path. The write is sent with
// If-Match: * so an existing file never causes a precondition failure.
func (c *Client) WriteFile(ctx context.Context, path string, content []byte) error {
	status, body, err := c.do(ctx, http.MethodPut, c.vfsURL(path), content, http.Header{"If-Match": []string{"*"}})
	if err != nil {
		return errors.Wrapf(err, "while writing %s", path)
	}
	if !success(status) {
		return &errs.RemoteError{Op: "write " + path, StatusCode: status, Body: string(body)}
	}
	return nil
}

// DeleteFile removes the file at path. Deleting a missing file is not an error.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	status, body, err := c.do(ctx, http.MethodDelete, c.vfsURL(path), nil, http.Header{"If-Match": []string{"*"}})
	if err != nil {
		return errors.Wrapf(err, "while deleting %s", path)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if !success(status) {
		return &errs.RemoteError{Op: "delete " + path, StatusCode: status, Body: string(body)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, content []byte, header http.Header) (int, []byte, error) {
	req, err := runtime.NewRequest(ctx, method, target)
	if err != nil {
		return 0, nil, err
	}
	if content != nil {
		if err := req.SetBody(streaming.NopCloser(bytes.NewReader(content)), "application/octet-stream"); err != nil {
			return 0, nil, err
		}
	}
	for k, v := range header {
		req.Raw().Header[k] = v
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return 0, nil, err
	}

	body, err := runtime.Payload(resp)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "while reading response body")
	}
	return resp.StatusCode, body, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
