package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/infrastructure/payment"
	"orderflow/internal/service"
	"orderflow/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testKey    = "tripay-private-key"
	testSecret = "cron-secret"
)

var testNow = time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC)

type stubOrders struct {
	calls []domain.Callback
	fn    func(cb domain.Callback) (*service.CallbackOutcome, error)
}

func (s *stubOrders) HandleCallback(ctx context.Context, cb domain.Callback) (*service.CallbackOutcome, error) {
	s.calls = append(s.calls, cb)
	return s.fn(cb)
}

type stubRefunds struct {
	initiate func(req service.RefundRequest) (*domain.Refund, error)
	get      func(orderID, refundID string) (*domain.Refund, error)
}

func (s *stubRefunds) Initiate(ctx context.Context, req service.RefundRequest) (*domain.Refund, error) {
	return s.initiate(req)
}

func (s *stubRefunds) Get(ctx context.Context, orderID, refundID string) (*domain.Refund, error) {
	return s.get(orderID, refundID)
}

type stubSweeper struct {
	calls int
}

func (s *stubSweeper) Sweep(ctx context.Context) (*worker.SweepResult, error) {
	s.calls++
	return &worker.SweepResult{
		ProcessedCount:       3,
		PaymentTimeouts:      2,
		ConfirmationTimeouts: 1,
		RefundsInitiated:     1,
		Errors:               []string{},
	}, nil
}

type stubDB struct {
	status string
}

func (s stubDB) Health(ctx context.Context) map[string]string {
	return map[string]string{"status": s.status}
}

func (s stubDB) Close() error { return nil }

type fixture struct {
	router  *gin.Engine
	orders  *stubOrders
	refunds *stubRefunds
	sweeper *stubSweeper
}

func setupServer(t *testing.T, opts Options) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := fixture{
		orders: &stubOrders{fn: func(cb domain.Callback) (*service.CallbackOutcome, error) {
			return &service.CallbackOutcome{
				Order: &domain.Order{
					ID:            "order-1",
					MerchantRef:   cb.MerchantRef,
					Status:        domain.OrderPending,
					PaymentStatus: domain.PaymentPaid,
				},
				Result:      domain.CallbackResult{Kind: domain.TransitionPaid},
				ProcessedAt: testNow,
			}, nil
		}},
		refunds: &stubRefunds{},
		sweeper: &stubSweeper{},
	}
	if opts.CallbackPrivateKey == "" {
		opts.CallbackPrivateKey = testKey
	}
	if opts.CallbackEvent == "" {
		opts.CallbackEvent = "payment_status"
	}
	srv := New(f.orders, f.refunds, f.sweeper, stubDB{status: "up"}, opts, zaptest.NewLogger(t))
	srv.now = func() time.Time { return testNow }
	f.router = srv.Router()
	return f
}

func callbackRequest(body []byte, signature, event string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/tripay/callback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Callback-Signature", signature)
	req.Header.Set("X-Callback-Event", event)
	return req
}

func signed(body []byte) *http.Request {
	return callbackRequest(body, payment.SignCallback(testKey, body), "payment_status")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestTripayCallback_PaidOrder(t *testing.T) {
	f := setupServer(t, Options{})
	body := []byte(`{"reference":"T-REF-1","merchant_ref":"SKILLNUSA-123","status":"PAID","paid_at":1749808800,"amount_received":148500,"payment_method":"QRIS"}`)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, signed(body))

	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "order-1", data["orderId"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "paid", data["paymentStatus"])

	require.Len(t, f.orders.calls, 1)
	cb := f.orders.calls[0]
	assert.Equal(t, "SKILLNUSA-123", cb.MerchantRef)
	require.NotNil(t, cb.PaidAt)
	assert.Equal(t, time.Unix(1749808800, 0).UTC(), *cb.PaidAt)
	assert.Equal(t, int64(148500), cb.AmountReceived)
}

func TestTripayCallback_BadSignatureRejectedFirst(t *testing.T) {
	f := setupServer(t, Options{})
	body := []byte(`not even json`)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, callbackRequest(body, payment.SignCallback("other-key", body), "unknown_event"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	out := decode(t, w)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "INVALID_SIGNATURE", out["error"].(map[string]any)["code"])
	assert.Empty(t, f.orders.calls)
}

func TestTripayCallback_RequestValidation(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		event string
		code  string
	}{
		{"unknown event", `{"reference":"R","merchant_ref":"M","status":"PAID"}`, "other_event", "INVALID_EVENT"},
		{"invalid json", `{"reference":`, "payment_status", "INVALID_PAYLOAD"},
		{"missing reference", `{"merchant_ref":"M","status":"PAID"}`, "payment_status", "MISSING_FIELD"},
		{"missing status", `{"reference":"R","merchant_ref":"M"}`, "payment_status", "MISSING_FIELD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupServer(t, Options{})
			body := []byte(tc.body)

			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, callbackRequest(body, payment.SignCallback(testKey, body), tc.event))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.code, decode(t, w)["error"].(map[string]any)["code"])
			assert.Empty(t, f.orders.calls)
		})
	}
}

func TestTripayCallback_MissingFieldNamed(t *testing.T) {
	f := setupServer(t, Options{})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, signed([]byte(`{"status":"PAID"}`)))

	assert.Equal(t, "Missing required field: reference", decode(t, w)["error"].(map[string]any)["message"])
}

func TestTripayCallback_ServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		production bool
		status     int
		message    string
	}{
		{"unknown order", domain.NotFound("ORDER_NOT_FOUND", "Order not found"), true, http.StatusNotFound, "Order not found"},
		{"unexpected in production", errors.New("pq: connection reset"), true, http.StatusInternalServerError, "Internal server error"},
		{"unexpected in development", errors.New("pq: connection reset"), false, http.StatusInternalServerError, "pq: connection reset"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupServer(t, Options{Production: tc.production})
			f.orders.fn = func(cb domain.Callback) (*service.CallbackOutcome, error) { return nil, tc.err }

			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, signed([]byte(`{"reference":"R","merchant_ref":"M","status":"PAID"}`)))

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.message, decode(t, w)["error"].(map[string]any)["message"])
		})
	}
}

func TestTripayCallback_GetNotAllowed(t *testing.T) {
	f := setupServer(t, Options{})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tripay/callback", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTimeoutSweep_Auth(t *testing.T) {
	cases := []struct {
		name    string
		secret  string
		headers map[string]string
		status  int
	}{
		{"no secret configured", "", map[string]string{"X-Cron-Secret": "anything"}, http.StatusInternalServerError},
		{"missing credentials", testSecret, nil, http.StatusUnauthorized},
		{"wrong secret", testSecret, map[string]string{"X-Cron-Secret": "guess"}, http.StatusUnauthorized},
		{"cron header", testSecret, map[string]string{"X-Cron-Secret": testSecret}, http.StatusOK},
		{"bearer token", testSecret, map[string]string{"Authorization": "Bearer " + testSecret}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupServer(t, Options{CronSecret: tc.secret})
			req := httptest.NewRequest(http.MethodPost, "/api/cron/timeout-checker", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, 1, f.sweeper.calls)
			} else {
				assert.Zero(t, f.sweeper.calls)
			}
		})
	}
}

func TestTimeoutSweep_ReportsCounts(t *testing.T) {
	f := setupServer(t, Options{CronSecret: testSecret})
	req := httptest.NewRequest(http.MethodPost, "/api/cron/timeout-checker", nil)
	req.Header.Set("X-Cron-Secret", testSecret)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := decode(t, w)
	assert.Equal(t, float64(3), out["processedCount"])
	assert.Equal(t, float64(2), out["paymentTimeouts"])
	assert.Equal(t, float64(1), out["confirmationTimeouts"])
	assert.Equal(t, []any{}, out["errors"])
}

func TestTimeoutCheckerStatus(t *testing.T) {
	f := setupServer(t, Options{})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cron/timeout-checker", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.Zero(t, f.sweeper.calls)
}

func TestCreateRefund(t *testing.T) {
	f := setupServer(t, Options{})
	var got service.RefundRequest
	f.refunds.initiate = func(req service.RefundRequest) (*domain.Refund, error) {
		got = req
		return &domain.Refund{
			ID:           "refund-1",
			OrderID:      req.OrderID,
			RefundAmount: 150000,
			Status:       domain.RefundAwaitingManual,
			Method:       payment.MethodManualProcessing,
		}, nil
	}
	body := []byte(`{"orderId":"order-1","reason":"Client request","refundType":"manual","requestedBy":"admin-1"}`)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/refund", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "refund-1", out["refundId"])
	assert.Equal(t, float64(150000), out["refundAmount"])
	assert.Equal(t, "awaiting_manual", out["status"])
	assert.Equal(t, "manual_processing_required", out["method"])
	assert.Equal(t, domain.RefundManual, got.Type)
	assert.Equal(t, "admin-1", got.RequestedBy)
}

func TestCreateRefund_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", domain.Conflict("REFUND_EXISTS", "Refund already processed for this order"), http.StatusBadRequest},
		{"not found", domain.NotFound("ORDER_NOT_FOUND", "Order not found"), http.StatusNotFound},
		{"provider", domain.Provider("REFUND_PROVIDER_FAILED", "Refund processing failed", errors.New("timeout")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupServer(t, Options{Production: true})
			f.refunds.initiate = func(req service.RefundRequest) (*domain.Refund, error) { return nil, tc.err }

			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/refund", bytes.NewReader([]byte(`{"orderId":"order-1"}`))))

			assert.Equal(t, tc.status, w.Code)
			var de *domain.Error
			require.True(t, errors.As(tc.err, &de))
			assert.Equal(t, de.Message, decode(t, w)["error"].(map[string]any)["message"])
		})
	}
}

func TestGetRefund(t *testing.T) {
	f := setupServer(t, Options{})
	f.refunds.get = func(orderID, refundID string) (*domain.Refund, error) {
		if orderID != "order-1" {
			return nil, domain.NotFound("REFUND_NOT_FOUND", "No refund found for this order")
		}
		return &domain.Refund{ID: "refund-1", OrderID: orderID, Status: domain.RefundPending}, nil
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/refund?orderId=order-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	refund := decode(t, w)["refund"].(map[string]any)
	assert.Equal(t, "refund-1", refund["id"])
	assert.Equal(t, "pending", refund["status"])

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/refund?orderId=order-2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	f := setupServer(t, Options{})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", decode(t, w)["database"].(map[string]any)["status"])
}
