package arm_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numtide/appservice-cert-wizard/arm"
	"github.com/numtide/appservice-cert-wizard/errs"
)

type staticToken string

func (s staticToken) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: string(s), ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newTestClient(t *testing.T, h http.Handler) (*arm.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(h)
	t.Cleanup(srv.Close)
	c := arm.NewClient(staticToken("tok"),
		arm.WithBaseURL(srv.URL),
		arm.WithHTTPClient(srv.Client()),
		arm.WithPollInterval(time.Millisecond),
		arm.WithRetryPolicy(arm.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxRetries: 3}),
	)
	return c, srv
}

func getRequest(url string) arm.RequestFactory {
	return func(ctx context.Context) (*policy.Request, error) {
		return runtime.NewRequest(ctx, http.MethodGet, url)
	}
}

func TestGetSiteOrSlot(t *testing.T) {
	var gotPath, gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(arm.Site{
			Name:     "app/staging",
			Location: "West Europe",
			Properties: arm.SiteProperties{
				ServerFarmID:      "/subscriptions/sub/resourceGroups/plan-rg/providers/Microsoft.Web/serverfarms/plan",
				HostNameSslStates: []arm.HostNameSslState{{Name: "a.example.com", SslState: arm.SslStateDisabled}},
			},
		})
	}))

	site, err := c.GetSiteOrSlot(context.Background(), "sub", "rg", "app", "staging")
	require.NoError(t, err)
	assert.Equal(t, "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Web/sites/app/slots/staging", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "West Europe", site.Location)
	require.NotNil(t, site.Binding("A.EXAMPLE.COM"))
}

func TestGetSiteOrSlotNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"ResourceNotFound"}}`, http.StatusNotFound)
	}))

	_, err := c.GetSiteOrSlot(context.Background(), "sub", "rg", "app", "")
	assert.True(t, errs.IsNotFound(err))
}

func TestGetSiteOrSlotIsNotRetried(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.GetSiteOrSlot(context.Background(), "sub", "rg", "app", "")
	var remote *errs.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvokeRetriesServerErrors(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"x":1}`, string(body))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := c.Invoke(context.Background(), "test", func(ctx context.Context) (*policy.Request, error) {
		req, err := runtime.NewRequest(ctx, http.MethodPut, srv.URL+"/x")
		if err != nil {
			return nil, err
		}
		return req, runtime.MarshalAsJSON(req, map[string]int{"x": 1})
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestInvokeExhaustsRetries(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))

	_, err := c.Invoke(context.Background(), "test", getRequest(srv.URL))
	var remote *errs.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusServiceUnavailable, remote.StatusCode)
	assert.Contains(t, remote.Body, "busy")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestInvokeTransportFailureSurfacesAsRemoteError(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok) {
			return
		}
		conn, _, err := hj.Hijack()
		if assert.NoError(t, err) {
			_ = conn.Close()
		}
	}))

	_, err := c.Invoke(context.Background(), "test", getRequest(srv.URL))
	var remote *errs.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 0, remote.StatusCode)
	assert.Equal(t, "test", remote.Op)
	assert.Equal(t, http.StatusBadGateway, errs.StatusCode(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestInvokeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
	}))

	_, err := c.Invoke(context.Background(), "test", getRequest(srv.URL))
	var remote *errs.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusConflict, remote.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPutCertificateBody(t *testing.T) {
	var got map[string]interface{}
	var gotPath, gotVersion string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	err := c.PutCertificate(context.Background(), "sub", "plan-rg", "a.example.com-AA11", arm.CertificateUpload{
		Location: "West Europe",
		Properties: arm.CertificateUploadFields{
			PfxBlob:      []byte("pfx"),
			Password:     "pw",
			ServerFarmID: "/farm",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/subscriptions/sub/resourceGroups/plan-rg/providers/Microsoft.Web/certificates/a.example.com-AA11", gotPath)
	assert.Equal(t, "2016-03-01", gotVersion)
	assert.Equal(t, "West Europe", got["location"])
	props := got["properties"].(map[string]interface{})
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("pfx")), props["pfxBlob"])
	assert.Equal(t, "pw", props["password"])
	assert.Equal(t, "/farm", props["serverFarmId"])
}

func TestListCertificatesFollowsNextLink(t *testing.T) {
	var srvURL string
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = io.WriteString(w, `{"value":[{"name":"b","properties":{"thumbprint":"BB"}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"value":[{"name":"a","properties":{"thumbprint":"AA","expirationDate":"2020-01-01T00:00:00+00:00"}}],"nextLink":"`+srvURL+`/next?page=2"}`)
	}))
	srvURL = srv.URL

	certs, err := c.ListCertificates(context.Background(), "sub", "rg")
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.Equal(t, "AA", certs[0].Properties.Thumbprint)
	assert.Equal(t, 2020, certs[0].Properties.ExpirationDate.Year())
	assert.Equal(t, "BB", certs[1].Properties.Thumbprint)
}

func TestDeleteCertificateMissingIsSuccess(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.NoError(t, c.DeleteCertificate(context.Background(), "sub", "rg", "gone"))
}

func TestBeginUpdateSiteOrSlotAsync(t *testing.T) {
	var polls int32
	var srvURL string
	var patched map[string]interface{}
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			w.Header().Set("Azure-AsyncOperation", srvURL+"/operations/1")
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			if atomic.AddInt32(&polls, 1) < 2 {
				_, _ = io.WriteString(w, `{"status":"InProgress"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"Succeeded"}`)
		}
	}))
	srvURL = srv.URL

	task, err := c.BeginUpdateSiteOrSlot(context.Background(), "sub", "rg", "app", "", []arm.HostNameSslState{
		{Name: "a.example.com", SslState: arm.SslStateSniEnabled, Thumbprint: "AA11", ToUpdate: true},
	})
	require.NoError(t, err)
	assert.False(t, task.Done())

	require.NoError(t, task.Wait(context.Background()))
	assert.True(t, task.Done())
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))

	states := patched["properties"].(map[string]interface{})["hostNameSslStates"].([]interface{})
	require.Len(t, states, 1)
	assert.Equal(t, "AA11", states[0].(map[string]interface{})["thumbprint"])
}

func TestBeginUpdateSiteOrSlotSync(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	task, err := c.BeginUpdateSiteOrSlot(context.Background(), "sub", "rg", "app", "", nil)
	require.NoError(t, err)
	assert.True(t, task.Done())
	assert.NoError(t, task.Wait(context.Background()))
}

func TestServerFarmResourceGroup(t *testing.T) {
	id := "/subscriptions/sub/resourceGroups/Plan-RG/providers/Microsoft.Web/serverfarms/my-plan"
	assert.Equal(t, "Plan-RG", arm.ServerFarmResourceGroup(id))
	assert.Equal(t, "my-plan", arm.ServerFarmName(id))
	assert.Equal(t, "", arm.ServerFarmResourceGroup("not-an-id"))
}

func TestNilUpdateTaskIsDone(t *testing.T) {
	var task *arm.UpdateTask
	assert.True(t, task.Done())
	assert.NoError(t, task.Wait(context.Background()))
}
