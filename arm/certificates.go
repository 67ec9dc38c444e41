package arm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

func (c *Client) certificatesURL(subscriptionID, group string) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Web/certificates",
		c.baseURL, url.PathEscape(subscriptionID), url.PathEscape(group))
}

func (c *Client) certificateURL(subscriptionID, group, name string) string {
	return c.certificatesURL(subscriptionID, group) + "/" + url.PathEscape(name) + "?api-version=" + certificateAPIVersion
}

// PutCertificate creates or replaces a certificate resource. The JSON body is
// built by hand instead of going through a typed SDK call: the typed path
// fills the resource's web space from the site's group, which breaks when the
// server farm lives in another resource group.
func (c *Client) PutCertificate(ctx context.Context, subscriptionID, group, name string, upload CertificateUpload) error {
	_, err := c.Invoke(ctx, "put certificate "+name, jsonRequest(http.MethodPut, c.certificateURL(subscriptionID, group, name), upload))
	return err
}

// ListCertificates returns every certificate of a resource group, following
// nextLink pages.
func (c *Client) ListCertificates(ctx context.Context, subscriptionID, group string) ([]Certificate, error) {
	var all []Certificate
	next := c.certificatesURL(subscriptionID, group) + "?api-version=" + certificateAPIVersion
	for next != "" {
		resp, err := c.get(ctx, next)
		if err != nil {
			return nil, errors.Wrapf(err, "while listing certificates of %s", group)
		}
		if !success(resp.StatusCode) {
			return nil, &errs.RemoteError{Op: "list certificates " + group, StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}

		page := certificateList{}
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, errors.Wrapf(err, "while decoding certificates of %s", group)
		}
		all = append(all, page.Value...)
		next = page.NextLink
	}
	return all, nil
}

// DeleteCertificate removes a certificate resource. A resource that is
// already gone counts as deleted.
func (c *Client) DeleteCertificate(ctx context.Context, subscriptionID, group, name string) error {
	url := c.certificateURL(subscriptionID, group, name)
	_, err := c.Invoke(ctx, "delete certificate "+name, emptyRequest(http.MethodDelete, url))
	var remote *errs.RemoteError
	if errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}
