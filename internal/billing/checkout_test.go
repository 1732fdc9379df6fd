package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dirhub/internal/db/memstore"
	"dirhub/internal/types"
)

const testBaseURL = "https://directory.test"

func newTestInitiator(t *testing.T, provider CheckoutProvider) (*CheckoutInitiator, *memstore.Store, *recordingMetrics) {
	t.Helper()
	store := memstore.New(nil)
	require.NoError(t, store.Seed(
		types.Company{ID: "C", Name: "Acme"},
		types.Company{ID: "D", Name: "Bolt", Tier: types.TierEnhanced, StripeCustomerID: "cus_d"},
	))
	metrics := &recordingMetrics{}
	ci := NewCheckoutInitiator(provider, store, CheckoutConfig{
		PublicBaseURL: testBaseURL,
		PriceIDs:      testPriceIDs,
		Timeout:       time.Second,
	}, metrics, nil)
	return ci, store, metrics
}

func TestStartUpgradeRejectsBasic(t *testing.T) {
	provider := &mockProvider{}
	ci, _, _ := newTestInitiator(t, provider)

	_, err := ci.StartUpgrade(context.Background(), "C", types.TierBasic)
	assert.Equal(t, types.ErrCodeValidationTier, types.CodeOf(err))
	provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestStartUpgradeRejectsUnknownTier(t *testing.T) {
	ci, _, _ := newTestInitiator(t, &mockProvider{})
	_, err := ci.StartUpgrade(context.Background(), "C", "gold")
	assert.Equal(t, types.ErrCodeValidationTier, types.CodeOf(err))
}

func TestStartUpgradeUnknownCompany(t *testing.T) {
	provider := &mockProvider{}
	ci, _, _ := newTestInitiator(t, provider)

	_, err := ci.StartUpgrade(context.Background(), "nope", types.TierPremium)
	assert.Equal(t, types.ErrCodeNotFoundCompany, types.CodeOf(err))
	provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestStartUpgradeMissingCompanyID(t *testing.T) {
	ci, _, _ := newTestInitiator(t, &mockProvider{})
	_, err := ci.StartUpgrade(context.Background(), "", types.TierPremium)
	assert.Equal(t, types.ErrCodeValidationMissingField, types.CodeOf(err))
}

func TestStartUpgradeTagsMetadata(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(in types.CheckoutIntent) bool {
		return in.CompanyID == "C" &&
			in.Tier == types.TierPremium &&
			in.PriceID == "price_prem" &&
			in.CustomerRef == "" &&
			in.Metadata[MetadataCompanyID] == "C" &&
			in.Metadata[MetadataTier] == "premium" &&
			in.URLs.Success == testBaseURL+"/dashboard/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}" &&
			in.URLs.Cancel == testBaseURL+"/dashboard/billing?checkout=cancelled"
	})).Return("https://checkout.stripe.test/c/pay/cs_1", nil).Once()

	ci, _, metrics := newTestInitiator(t, provider)
	res, err := ci.StartUpgrade(context.Background(), "C", types.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/c/pay/cs_1", res.RedirectURL)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{"session"}, metrics.checkouts)
	provider.AssertExpectations(t)
}

func TestStartUpgradeReusesCustomer(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(in types.CheckoutIntent) bool {
		return in.CustomerRef == "cus_d" && in.PriceID == "price_all"
	})).Return("https://checkout.stripe.test/c/pay/cs_2", nil).Once()

	ci, _, _ := newTestInitiator(t, provider)
	_, err := ci.StartUpgrade(context.Background(), "D", types.TierBundleAll)
	require.NoError(t, err)
	provider.AssertExpectations(t)
}

func TestStartUpgradeProviderFailureFallsBack(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	ci, store, metrics := newTestInitiator(t, provider)
	before, _ := store.GetByID(context.Background(), "C")

	res, err := ci.StartUpgrade(context.Background(), "C", types.TierFeatured)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, testBaseURL+"/dashboard/billing?checkout=unavailable", res.RedirectURL)
	assert.Equal(t, []string{"fallback_error"}, metrics.checkouts)

	after, _ := store.GetByID(context.Background(), "C")
	assert.Equal(t, before, after, "checkout must never write company state")
}

func TestStartUpgradeWithoutProvider(t *testing.T) {
	ci, store, metrics := newTestInitiator(t, nil)

	res, err := ci.StartUpgrade(context.Background(), "C", types.TierPremium)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, testBaseURL+"/dashboard?upgraded=true", res.RedirectURL)
	assert.Equal(t, []string{"fallback_unconfigured"}, metrics.checkouts)

	c, _ := store.GetByID(context.Background(), "C")
	assert.Equal(t, types.TierBasic, c.Tier, "the fallback does not grant the tier")
}

func TestStartUpgradeHonoursTimeout(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, ok := ctx.Deadline()
			assert.True(t, ok, "provider call must carry a deadline")
		}).
		Return("https://checkout.stripe.test/c/pay/cs_3", nil)

	ci, _, _ := newTestInitiator(t, provider)
	_, err := ci.StartUpgrade(context.Background(), "C", types.TierEnhanced)
	require.NoError(t, err)
}

func TestOpenBillingPortal(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreatePortalSession", mock.Anything, "cus_d", testBaseURL+"/dashboard/billing").
		Return("https://billing.stripe.test/p/session_1", nil).Once()

	ci, _, _ := newTestInitiator(t, provider)
	url, err := ci.OpenBillingPortal(context.Background(), "cus_d")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.test/p/session_1", url)
	provider.AssertExpectations(t)
}

func TestOpenBillingPortalNoAccount(t *testing.T) {
	provider := &mockProvider{}
	ci, _, _ := newTestInitiator(t, provider)

	_, err := ci.OpenBillingPortal(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoBillingAccount)
	assert.Equal(t, 400, types.CodeOf(err).HTTPStatus())
	provider.AssertNotCalled(t, "CreatePortalSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenBillingPortalProviderFailure(t *testing.T) {
	provider := &mockProvider{}
	provider.On("CreatePortalSession", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("503"))

	ci, _, _ := newTestInitiator(t, provider)
	_, err := ci.OpenBillingPortal(context.Background(), "cus_d")
	assert.Equal(t, types.ErrCodeUpstreamStripe, types.CodeOf(err))
}

func TestOpenBillingPortalWithoutProvider(t *testing.T) {
	ci, _, _ := newTestInitiator(t, nil)
	_, err := ci.OpenBillingPortal(context.Background(), "cus_d")
	assert.Equal(t, types.ErrCodeUpstreamStripe, types.CodeOf(err))
}
