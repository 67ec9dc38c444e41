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

func (c *Client) siteURL(subscriptionID, group, site, slot string) string {
	u := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Web/sites/%s",
		c.baseURL, url.PathEscape(subscriptionID), url.PathEscape(group), url.PathEscape(site))
	if slot != "" {
		u += "/slots/" + url.PathEscape(slot)
	}
	return u + "?api-version=" + siteAPIVersion
}

// GetSiteOrSlot fetches the current manifest of a site, or of one of its
// slots when slot is not empty. Nothing is cached: every call reads the
// control plane.
func (c *Client) GetSiteOrSlot(ctx context.Context, subscriptionID, group, site, slot string) (*Site, error) {
	resp, err := c.get(ctx, c.siteURL(subscriptionID, group, site, slot))
	if err != nil {
		return nil, errors.Wrapf(err, "while getting site %s", site)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(errs.ErrNotFound, "site %s/%s slot %q", group, site, slot)
	case !success(resp.StatusCode):
		return nil, &errs.RemoteError{Op: "get site " + site, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	s := &Site{}
	if err := json.Unmarshal(resp.Body, s); err != nil {
		return nil, errors.Wrapf(err, "while decoding site %s", site)
	}
	return s, nil
}

type sitePatch struct {
	Properties sitePatchProperties `json:"properties"`
}

type sitePatchProperties struct {
	HostNameSslStates []HostNameSslState `json:"hostNameSslStates"`
}

// BeginUpdateSiteOrSlot submits the SSL bindings of a site. Only the bindings
// are sent, other site properties are left alone. The returned task may be
// awaited; callers that do not need propagation to finish can drop it.
func (c *Client) BeginUpdateSiteOrSlot(ctx context.Context, subscriptionID, group, site, slot string, states []HostNameSslState) (*UpdateTask, error) {
	body := sitePatch{Properties: sitePatchProperties{HostNameSslStates: states}}
	resp, err := c.Invoke(ctx, "update site "+site, jsonRequest(http.MethodPatch, c.siteURL(subscriptionID, group, site, slot), body))
	if err != nil {
		return nil, err
	}
	return c.newUpdateTask(resp), nil
}
