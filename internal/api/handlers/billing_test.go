package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"dirhub/internal/billing"
	"dirhub/internal/core"
	"dirhub/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type startUpgradeCall struct {
	CompanyID string
	Tier      types.Tier
}

// mockUpgradeService implements UpgradeService for testing.
type mockUpgradeService struct {
	startUpgradeFn func(ctx context.Context, companyID string, tier types.Tier) (billing.CheckoutResult, error)
	openPortalFn   func(ctx context.Context, customerRef string) (string, error)

	upgradeCalls []startUpgradeCall
	portalCalls  []string
}

func (m *mockUpgradeService) StartUpgrade(ctx context.Context, companyID string, tier types.Tier) (billing.CheckoutResult, error) {
	m.upgradeCalls = append(m.upgradeCalls, startUpgradeCall{CompanyID: companyID, Tier: tier})
	if m.startUpgradeFn != nil {
		return m.startUpgradeFn(ctx, companyID, tier)
	}
	return billing.CheckoutResult{RedirectURL: "https://checkout.stripe.com/c/pay/cs_test"}, nil
}

func (m *mockUpgradeService) OpenBillingPortal(ctx context.Context, customerRef string) (string, error) {
	m.portalCalls = append(m.portalCalls, customerRef)
	if m.openPortalFn != nil {
		return m.openPortalFn(ctx, customerRef)
	}
	return "https://billing.stripe.com/p/session/test", nil
}

// mockCompanyReader implements billing.CompanyReader for testing.
type mockCompanyReader struct {
	companies map[string]*types.Company
	err       error
}

func (m *mockCompanyReader) GetByID(_ context.Context, id string) (*types.Company, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.companies[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundCompany, "company not found", nil)
	}
	cp := *c
	return &cp, nil
}

var (
	_ UpgradeService        = (*mockUpgradeService)(nil)
	_ billing.CompanyReader = (*mockCompanyReader)(nil)
)

// =============================================================================
// Test Helpers
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCompanies() *mockCompanyReader {
	return &mockCompanyReader{companies: map[string]*types.Company{
		"C":     {ID: "C", Name: "Corner Bakery", Tier: types.TierPremium, StripeCustomerID: "cus_123"},
		"fresh": {ID: "fresh", Name: "Fresh Listing", Tier: types.TierBasic},
	}}
}

func newTestBillingHandler(svc UpgradeService, companies billing.CompanyReader) *BillingHandler {
	logger := discardLogger()
	return NewBillingHandler(svc, companies, core.NewValidator(logger), nil, logger)
}

// contextWithActor creates a context with an authenticated user of companyID.
func contextWithActor(companyID string) context.Context {
	ctx := types.WithRequestID(context.Background(), "req_test_123")
	return types.WithActor(ctx, types.Actor{
		ID:        "user_test_123",
		Type:      types.ActorTypeUser,
		CompanyID: companyID,
		Email:     "owner@example.com",
	})
}

func makeRequest(ctx context.Context, method, path string, body any) *http.Request {
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		data, _ := json.Marshal(b)
		reqBody = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return req
}

func parseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response body: %v\nbody: %s", err, rr.Body.String())
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	parseJSONResponse(t, rr, &resp)
	return resp.Error.Code
}

// =============================================================================
// CreateCheckout Tests
// =============================================================================

func TestCreateCheckout_Anonymous(t *testing.T) {
	svc := &mockUpgradeService{}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(context.Background(), "POST", "/v1/billing/checkout", map[string]string{"tier": "premium", "company_id": "fresh"})
	rr := httptest.NewRecorder()
	h.CreateCheckout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data billing.CheckoutResult `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)
	if resp.Data.RedirectURL != "https://checkout.stripe.com/c/pay/cs_test" || resp.Data.Degraded {
		t.Errorf("unexpected checkout result: %+v", resp.Data)
	}

	if len(svc.upgradeCalls) != 1 {
		t.Fatalf("expected 1 StartUpgrade call, got %d", len(svc.upgradeCalls))
	}
	if got := svc.upgradeCalls[0]; got.CompanyID != "fresh" || got.Tier != types.TierPremium {
		t.Errorf("StartUpgrade called with %+v", got)
	}
}

func TestCreateCheckout_ActorCompanyUsedWhenOmitted(t *testing.T) {
	svc := &mockUpgradeService{}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(contextWithActor("C"), "POST", "/v1/billing/checkout", map[string]string{"tier": "bundle_all"})
	rr := httptest.NewRecorder()
	h.CreateCheckout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.upgradeCalls[0].CompanyID != "C" {
		t.Errorf("expected actor company C, got %q", svc.upgradeCalls[0].CompanyID)
	}
}

func TestCreateCheckout_CompanyMismatch(t *testing.T) {
	svc := &mockUpgradeService{}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(contextWithActor("C"), "POST", "/v1/billing/checkout", map[string]string{"tier": "premium", "company_id": "fresh"})
	rr := httptest.NewRecorder()
	h.CreateCheckout(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != string(types.ErrCodePermissionCompanyMismatch) {
		t.Errorf("expected %s, got %s", types.ErrCodePermissionCompanyMismatch, code)
	}
	if len(svc.upgradeCalls) != 0 {
		t.Error("StartUpgrade must not be called for another company")
	}
}

func TestCreateCheckout_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode types.ErrorCode
	}{
		{"basic tier", map[string]string{"tier": "basic", "company_id": "fresh"}, types.ErrCodeValidationTier},
		{"unknown tier", map[string]string{"tier": "platinum", "company_id": "fresh"}, types.ErrCodeValidationTier},
		{"upper-case tier", map[string]string{"tier": "PREMIUM", "company_id": "fresh"}, types.ErrCodeValidationTier},
		{"padded tier", map[string]string{"tier": " premium", "company_id": "fresh"}, types.ErrCodeValidationTier},
		{"missing tier", map[string]string{"company_id": "fresh"}, types.ErrCodeValidationMissingField},
		{"missing company", map[string]string{"tier": "premium"}, types.ErrCodeValidationMissingField},
		{"invalid json", "{invalid}", types.ErrCodeValidationInvalidJSON},
		{"unknown field", `{"tier":"premium","company_id":"fresh","success_url":"https://evil.example"}`, types.ErrCodeValidationInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUpgradeService{}
			h := newTestBillingHandler(svc, testCompanies())

			req := makeRequest(context.Background(), "POST", "/v1/billing/checkout", tt.body)
			rr := httptest.NewRecorder()
			h.CreateCheckout(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != string(tt.wantCode) {
				t.Errorf("expected %s, got %s", tt.wantCode, code)
			}
			if len(svc.upgradeCalls) != 0 {
				t.Error("StartUpgrade must not be called for an invalid request")
			}
		})
	}
}

func TestCreateCheckout_UnknownCompany(t *testing.T) {
	svc := &mockUpgradeService{
		startUpgradeFn: func(ctx context.Context, companyID string, tier types.Tier) (billing.CheckoutResult, error) {
			return billing.CheckoutResult{}, types.NewAppError(types.ErrCodeNotFoundCompany, "company not found", nil)
		},
	}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(context.Background(), "POST", "/v1/billing/checkout", map[string]string{"tier": "premium", "company_id": "ghost"})
	rr := httptest.NewRecorder()
	h.CreateCheckout(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateCheckout_DegradedFallback(t *testing.T) {
	svc := &mockUpgradeService{
		startUpgradeFn: func(ctx context.Context, companyID string, tier types.Tier) (billing.CheckoutResult, error) {
			return billing.CheckoutResult{RedirectURL: "https://dir.example/dashboard?upgraded=true", Degraded: true}, nil
		},
	}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(context.Background(), "POST", "/v1/billing/checkout", map[string]string{"tier": "featured", "company_id": "fresh"})
	rr := httptest.NewRecorder()
	h.CreateCheckout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"degraded":true`) {
		t.Errorf("expected degraded flag in body: %s", rr.Body.String())
	}
}

// =============================================================================
// CreatePortal Tests
// =============================================================================

func TestCreatePortal_Success(t *testing.T) {
	svc := &mockUpgradeService{}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(contextWithActor("C"), "POST", "/v1/billing/portal", nil)
	rr := httptest.NewRecorder()
	h.CreatePortal(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Data PortalResponse `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)
	if resp.Data.RedirectURL != "https://billing.stripe.com/p/session/test" {
		t.Errorf("unexpected redirect URL %q", resp.Data.RedirectURL)
	}
	if len(svc.portalCalls) != 1 || svc.portalCalls[0] != "cus_123" {
		t.Errorf("expected portal for cus_123, got %v", svc.portalCalls)
	}
}

func TestCreatePortal_NoLinkedCompany(t *testing.T) {
	tests := []struct {
		name      string
		companyID string
	}{
		{"actor without company", ""},
		{"company no longer exists", "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUpgradeService{}
			h := newTestBillingHandler(svc, testCompanies())

			req := makeRequest(contextWithActor(tt.companyID), "POST", "/v1/billing/portal", nil)
			rr := httptest.NewRecorder()
			h.CreatePortal(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != string(types.ErrCodeValidationNoCompany) {
				t.Errorf("expected %s, got %s", types.ErrCodeValidationNoCompany, code)
			}
			if len(svc.portalCalls) != 0 {
				t.Error("portal must not be opened without a company")
			}
		})
	}
}

func TestCreatePortal_NoBillingAccount(t *testing.T) {
	svc := &mockUpgradeService{
		openPortalFn: func(ctx context.Context, customerRef string) (string, error) {
			if customerRef == "" {
				return "", billing.ErrNoBillingAccount
			}
			return "https://billing.stripe.com/p/session/test", nil
		},
	}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(contextWithActor("fresh"), "POST", "/v1/billing/portal", nil)
	rr := httptest.NewRecorder()
	h.CreatePortal(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeValidationNoBillingAccount) {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationNoBillingAccount, code)
	}
}

func TestCreatePortal_ProviderFailure(t *testing.T) {
	svc := &mockUpgradeService{
		openPortalFn: func(ctx context.Context, customerRef string) (string, error) {
			return "", types.NewAppError(types.ErrCodeUpstreamStripe, "Billing portal is temporarily unavailable", nil)
		},
	}
	h := newTestBillingHandler(svc, testCompanies())

	req := makeRequest(contextWithActor("C"), "POST", "/v1/billing/portal", nil)
	rr := httptest.NewRecorder()
	h.CreatePortal(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreatePortal_StoreFailure(t *testing.T) {
	companies := &mockCompanyReader{err: types.NewAppError(types.ErrCodeInternalDB, "failed to load company", nil)}
	h := newTestBillingHandler(&mockUpgradeService{}, companies)

	req := makeRequest(contextWithActor("C"), "POST", "/v1/billing/portal", nil)
	rr := httptest.NewRecorder()
	h.CreatePortal(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d: %s", rr.Code, rr.Body.String())
	}
}

// =============================================================================
// Route Registration Tests
// =============================================================================

func TestBillingHandler_RegisterRoutes(t *testing.T) {
	var limited []string
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited = append(limited, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	logger := discardLogger()
	h := NewBillingHandler(&mockUpgradeService{}, testCompanies(), core.NewValidator(logger), limit, logger)
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)

	// Portal requires an actor; anonymous requests stop at RequireActor.
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, makeRequest(context.Background(), "POST", "/v1/billing/portal", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous portal: expected 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, makeRequest(context.Background(), "POST", "/v1/billing/checkout", map[string]string{"tier": "enhanced", "company_id": "fresh"}))
	if rr.Code != http.StatusOK {
		t.Errorf("checkout: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(limited) != 2 {
		t.Errorf("expected both billing routes to pass the limiter, got %v", limited)
	}
}
