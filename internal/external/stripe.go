package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"dirhub/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient opens hosted checkout and billing portal sessions by calling
// the Stripe REST API through BaseClient.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with its own "stripe" breaker.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "dirhub/1.0")
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient on a pre-configured BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CreateCheckoutSession opens a subscription-mode Checkout Session for intent
// and returns its hosted URL.
//
// The intent metadata is written to the session, to client_reference_id and to
// subscription_data so it reaches both the session and subscription events.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, intent types.CheckoutIntent) (string, error) {
	params := url.Values{}
	params.Set("mode", string(stripe.CheckoutSessionModeSubscription))
	params.Set("client_reference_id", intent.CompanyID)
	params.Set("success_url", intent.URLs.Success)
	params.Set("cancel_url", intent.URLs.Cancel)
	params.Set("line_items[0][price]", intent.PriceID)
	params.Set("line_items[0][quantity]", "1")
	if intent.CustomerRef != "" {
		params.Set("customer", intent.CustomerRef)
	}
	for _, k := range sortedKeys(intent.Metadata) {
		params.Set("metadata["+k+"]", intent.Metadata[k])
		params.Set("subscription_data[metadata]["+k+"]", intent.Metadata[k])
	}

	var session stripe.CheckoutSession
	if err := s.post(ctx, "CreateCheckoutSession", "/v1/checkout/sessions", params, &session); err != nil {
		return "", err
	}
	if session.URL == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"CreateCheckoutSession: Stripe returned a session without a URL",
			nil,
		)
	}

	s.logger.DebugContext(ctx, "checkout session created",
		"session_id", session.ID,
		"company_id", intent.CompanyID,
		"tier", intent.Tier,
	)
	return session.URL, nil
}

// CreatePortalSession opens a billing portal session for customerRef.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerRef)
	params.Set("return_url", returnURL)

	var session stripe.BillingPortalSession
	if err := s.post(ctx, "CreatePortalSession", "/v1/billing_portal/sessions", params, &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

// post sends a form-encoded POST and decodes a 200 response into out.
func (s *StripeClient) post(ctx context.Context, operation, path string, params url.Values, out any) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, operation+": failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapStripeError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		appErr := s.handleErrorResponse(resp, operation)
		s.logger.WarnContext(ctx, "stripe request rejected",
			"operation", operation,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", appErr,
		)
		return appErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: failed to decode Stripe response", operation),
			err,
		)
	}
	return nil
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

// handleErrorResponse reads a non-200 Stripe response and maps it to an
// AppError. Every outcome is an upstream error: a session that Stripe refuses
// is a provider problem from the caller's point of view.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
		nil,
		map[string]any{
			"stripe_type":  stripeErr.Error.Type,
			"stripe_code":  stripeErr.Error.Code,
			"stripe_param": stripeErr.Error.Param,
			"status":       resp.StatusCode,
		},
	)
}

// wrapStripeError wraps a BaseClient transport error. AppErrors from the
// BaseClient already carry the right code and pass through.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if types.CodeOf(err) != "" {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
