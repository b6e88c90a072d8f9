package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/zllovesuki/storecheckout/access"
	"github.com/zllovesuki/storecheckout/auth"
	"github.com/zllovesuki/storecheckout/pricing"
	"github.com/zllovesuki/storecheckout/spec"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serve(t *testing.T, h *harness, method, target string, body interface{}) *httptest.ResponseRecorder {
	return serveWith(t, ServiceOptions{Runner: h.runner, Logger: zap.NewNop()}, method, target, body)
}

func serveWith(t *testing.T, option ServiceOptions, method, target string, body interface{}) *httptest.ResponseRecorder {
	svc, err := NewService(option)
	require.NoError(t, err)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	store := testActor.Store
	ctx := context.WithValue(req.Context(), auth.Context, &auth.Claims{Email: testActor.Email})
	ctx = context.WithValue(ctx, access.Context, &store)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

type errorBody struct {
	Message  string          `json:"message"`
	Messages []string        `json:"messages"`
	Result   json.RawMessage `json:"result"`
}

func TestSubmitRedirects(t *testing.T) {
	h := newHarness(t, nil)
	rec := serve(t, h, http.MethodPost, "/submit", map[string]interface{}{
		"plan_id": "P1",
		"cycle":   "monthly",
		"card_id": "card-A",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, Redirecting, result.Phase)
	assert.Contains(t, result.RedirectURL, "total=462.84")
}

func TestSubmitNoChangeConflicts(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))
	rec := serve(t, h, http.MethodPost, "/submit", map[string]interface{}{
		"plan_id": "P1",
		"cycle":   "monthly",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "noop", body.Message)
	assert.Empty(t, h.calls.list())
}

func TestSubmitValidationUnprocessable(t *testing.T) {
	h := newHarness(t, nil)
	rec := serve(t, h, http.MethodPost, "/submit", map[string]interface{}{
		"cycle": "weekly",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	var fields spec.FieldErrors
	require.NoError(t, json.Unmarshal(body.Result, &fields))
	assert.Contains(t, fields, "plan_id")
	assert.Contains(t, fields, "cycle")
}

func TestSubmitInvalidJSON(t *testing.T) {
	h := newHarness(t, nil)
	svc, err := NewService(ServiceOptions{Runner: h.runner, Logger: zap.NewNop()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewBufferString("{"))
	store := testActor.Store
	ctx := context.WithValue(req.Context(), auth.Context, &auth.Claims{Email: testActor.Email})
	ctx = context.WithValue(ctx, access.Context, &store)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitStepFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, nil)
	h.subs.fail["create"] = failure("Tarjeta declinada")
	rec := serve(t, h, http.MethodPost, "/submit", map[string]interface{}{
		"plan_id": "P1",
		"cycle":   "monthly",
		"card_id": "card-A",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, Failed, result.Phase)
	assert.Equal(t, "Tarjeta declinada", result.Error)
}

func TestSubmitUnknownPlanNotFound(t *testing.T) {
	h := newHarness(t, nil)
	rec := serve(t, h, http.MethodPost, "/submit", map[string]interface{}{
		"plan_id": "nope",
		"cycle":   "monthly",
		"card_id": "card-A",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuote(t *testing.T) {
	h := newHarness(t, nil)
	rec := serve(t, h, http.MethodGet, "/quote?planId=P1&cycle=monthly&country=mx", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var q pricing.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.True(t, decimal.RequireFromString("462.84").Equal(q.Total), q.Total.String())
	assert.Equal(t, "MXN", q.Currency)
}

func TestQuoteRequiresPlan(t *testing.T) {
	h := newHarness(t, nil)
	rec := serve(t, h, http.MethodGet, "/quote", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContextSubmitAllowed(t *testing.T) {
	h := newHarness(t, onPlan("P1", spec.Monthly, "card-A"))

	rec := serve(t, h, http.MethodGet, "/context?planId=P1&cycle=monthly&cardId=card-A", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Cards         []json.RawMessage `json:"cards"`
		FiscalExists  bool              `json:"fiscal_exists"`
		SubmitAllowed bool              `json:"submit_allowed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.SubmitAllowed)
	assert.Len(t, body.Cards, len(savedCards))

	rec = serve(t, h, http.MethodGet, "/context?planId=P1&cycle=monthly&cardId=card-B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.SubmitAllowed)
}

func TestMissingStoreIsUnexpected(t *testing.T) {
	h := newHarness(t, nil)
	svc, err := NewService(ServiceOptions{Runner: h.runner, Logger: zap.NewNop()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quote?planId=P1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBuildRedirectKeepsQuery(t *testing.T) {
	resolver, err := pricing.NewResolver(pricing.Options{TaxMode: pricing.TaxExclusive})
	require.NoError(t, err)
	q, err := resolver.Resolve(pricing.Request{Plan: catalog["P1"], Cycle: spec.Annual, Country: "MX"})
	require.NoError(t, err)

	target, err := BuildRedirect("https://store.example.com/success?from=checkout", Targets{
		PlanName:       "Pro",
		Cycle:          spec.Annual,
		SubscriptionID: "sub_1",
		CardBrand:      "visa",
		CardLast4:      "4242",
	}, q)
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	v := u.Query()
	assert.Equal(t, "checkout", v.Get("from"))
	assert.Equal(t, "Pro", v.Get("planName"))
	assert.Equal(t, "true", v.Get("isUpdate"))
	assert.Equal(t, "4242", v.Get("cardLast4"))
	assert.Equal(t, "3990.00", v.Get("subtotal"))
	assert.Equal(t, "638.40", v.Get("tax"))
	assert.Equal(t, "4628.40", v.Get("total"))
	assert.Equal(t, "MXN", v.Get("currency"))
}

func TestBuildRedirectRejectsBadBase(t *testing.T) {
	_, err := BuildRedirect("://nope", Targets{}, nil)
	assert.Error(t, err)
}

func attemptRecords() []AttemptRecord {
	done := testNow.Add(-time.Hour)
	return []AttemptRecord{
		{Attempt: Attempt{ID: "a-stale", ShopID: 42, PlanID: "P1", Decision: CreatingSubscription, StartedAt: testNow.Add(-2 * time.Hour)}},
		{Attempt: Attempt{ID: "a-fresh", ShopID: 42, PlanID: "P1", Decision: CreatingSubscription, StartedAt: testNow.Add(-time.Minute)}},
		{Attempt: Attempt{ID: "a-done", ShopID: 42, PlanID: "P1", Decision: CreatingSubscription, StartedAt: testNow.Add(-2 * time.Hour)}, State: Redirecting, FinishedAt: &done},
		{Attempt: Attempt{ID: "a-other", ShopID: 77, PlanID: "P1", Decision: CreatingSubscription, StartedAt: testNow.Add(-2 * time.Hour)}},
	}
}

func TestAttemptRoutesNeedReconciler(t *testing.T) {
	h := newHarness(t, nil)
	rec := serve(t, h, http.MethodGet, "/attempts/unfinished", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUnfinishedDefaultsToStaleCutoff(t *testing.T) {
	h := newHarness(t, nil)
	rc := &fakeReconciler{records: attemptRecords()}
	rec := serveWith(t, ServiceOptions{Runner: h.runner, Logger: zap.NewNop(), Reconciler: rc}, http.MethodGet, "/attempts/unfinished", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, int64(42), rc.shopID)
	assert.Equal(t, testNow.Add(-StaleAfter), rc.before)

	var records []AttemptRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "a-stale", records[0].ID)
}

func TestListUnfinishedBefore(t *testing.T) {
	h := newHarness(t, nil)
	rc := &fakeReconciler{records: attemptRecords()}
	option := ServiceOptions{Runner: h.runner, Logger: zap.NewNop(), Reconciler: rc}

	rec := serveWith(t, option, http.MethodGet, "/attempts/unfinished?before="+url.QueryEscape(testNow.Format(time.RFC3339)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []AttemptRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	rec = serveWith(t, option, http.MethodGet, "/attempts/unfinished?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUnfinishedStorageError(t *testing.T) {
	h := newHarness(t, nil)
	rc := &fakeReconciler{err: errors.New("connection refused")}
	rec := serveWith(t, ServiceOptions{Runner: h.runner, Logger: zap.NewNop(), Reconciler: rc}, http.MethodGet, "/attempts/unfinished", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetAttempt(t *testing.T) {
	h := newHarness(t, nil)
	option := ServiceOptions{Runner: h.runner, Logger: zap.NewNop(), Reconciler: &fakeReconciler{records: attemptRecords()}}

	rec := serveWith(t, option, http.MethodGet, "/attempts/a-done", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record AttemptRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, Redirecting, record.State)
	assert.NotNil(t, record.FinishedAt)

	rec = serveWith(t, option, http.MethodGet, "/attempts/a-other", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveWith(t, option, http.MethodGet, "/attempts/a-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
