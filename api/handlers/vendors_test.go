package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/testutil/fixtures"
	"github.com/BaSui01/campaignflow/testutil/mocks"
	"github.com/BaSui01/campaignflow/types"
)

func newVendorServer(t *testing.T) (*routing.Router, *httptest.Server) {
	t.Helper()
	cheap := fixtures.ImageVendor("img-cheap", 1)
	cheap.CostPerRequest = 0.03
	cheap.Quota.DailyLimit = 10
	pricey := fixtures.ImageVendor("img-pricey", 5)
	pricey.CostPerRequest = 0.08

	router := fixtures.NewRouter(t,
		fixtures.With(cheap, mocks.NewMockAdapter()),
		fixtures.With(pricey, mocks.NewMockAdapter()),
		fixtures.With(fixtures.TextVendor("txt-a", 1), mocks.NewMockAdapter()),
	)

	mux := http.NewServeMux()
	NewVendorHandler(router.Registry(), router, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return router, srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, Response) {
	t.Helper()
	env := &workflowEnv{server: srv}
	return env.do(t, method, path, body)
}

func TestVendorHandler_ListAndGet(t *testing.T) {
	_, srv := newVendorServer(t)

	code, resp := call(t, srv, http.MethodGet, "/api/v1/vendors", "")
	require.Equal(t, http.StatusOK, code)
	all := decodeData[struct {
		Vendors []routing.VendorProfile `json:"vendors"`
		Total   int                     `json:"total"`
	}](t, resp)
	assert.Equal(t, 3, all.Total)

	code, resp = call(t, srv, http.MethodGet, "/api/v1/vendors?capability=image", "")
	require.Equal(t, http.StatusOK, code)
	images := decodeData[struct {
		Vendors []routing.VendorProfile `json:"vendors"`
	}](t, resp)
	require.Len(t, images.Vendors, 2)
	assert.Equal(t, "img-cheap", images.Vendors[0].ID)

	code, resp = call(t, srv, http.MethodGet, "/api/v1/vendors/txt-a", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, routing.CapabilityText, decodeData[routing.VendorProfile](t, resp).Capability)

	code, resp = call(t, srv, http.MethodGet, "/api/v1/vendors/ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(types.ErrVendorNotFound), resp.Error.Code)
}

func TestVendorHandler_UpdateAndResetQuota(t *testing.T) {
	router, srv := newVendorServer(t)
	reg := router.Registry()

	code, resp := call(t, srv, http.MethodPatch, "/api/v1/vendors/img-cheap", `{"priority":9,"current_usage":4}`)
	require.Equal(t, http.StatusOK, code)
	updated := decodeData[routing.VendorProfile](t, resp)
	assert.Equal(t, 9, updated.Priority)
	assert.Equal(t, int64(4), updated.Quota.CurrentUsage)

	code, resp = call(t, srv, http.MethodPost, "/api/v1/vendors/img-cheap/quota/reset", "")
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, decodeData[routing.VendorProfile](t, resp).Quota.CurrentUsage)

	_, err := reg.IncrementUsage(context.Background(), "txt-a")
	require.NoError(t, err)
	code, _ = call(t, srv, http.MethodPost, "/api/v1/vendors/quota/reset", "")
	require.Equal(t, http.StatusOK, code)
	p, err := reg.Get(context.Background(), "txt-a")
	require.NoError(t, err)
	assert.Zero(t, p.Quota.CurrentUsage)

	code, resp = call(t, srv, http.MethodPatch, "/api/v1/vendors/ghost", `{"priority":1}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(types.ErrVendorNotFound), resp.Error.Code)
}

func TestVendorHandler_RoutePreview(t *testing.T) {
	_, srv := newVendorServer(t)

	code, resp := call(t, srv, http.MethodPost, "/api/v1/routing/decisions",
		`{"capability":"image","constraints":{"max_cost":0.04}}`)
	require.Equal(t, http.StatusOK, code)
	d := decodeData[routing.RoutingDecision](t, resp)
	assert.Equal(t, "img-cheap", d.SelectedVendor)
	assert.Empty(t, d.FallbackVendors)

	code, resp = call(t, srv, http.MethodPost, "/api/v1/routing/decisions",
		`{"capability":"image","constraints":{"max_cost":0.01}}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, string(types.ErrNoEligibleVendor), resp.Error.Code)

	code, resp = call(t, srv, http.MethodPost, "/api/v1/routing/decisions", `{"quality_tier":"high"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestVendorHandler_NoPlannerSkipsRoute(t *testing.T) {
	reg := routing.NewRegistry(nil)
	mux := http.NewServeMux()
	NewVendorHandler(reg, nil, nil).Register(mux)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/routing/decisions", strings.NewReader(`{}`))
	mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
