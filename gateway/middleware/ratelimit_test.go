package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"traderchain/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"funds": {RatePerSecond: 1, Burst: 1},
	}, nil)

	handler := limiter.Middleware("funds")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/funds", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"funds":  {RatePerSecond: 1, Burst: 1},
		"orders": {RatePerSecond: 1, Burst: 1},
	}, nil)

	fundsHandler := limiter.Middleware("funds")(okHandler())
	ordersHandler := limiter.Middleware("orders")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/funds/1", nil)
	res := httptest.NewRecorder()
	fundsHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected funds request to succeed, got %d", res.Code)
	}

	orderReq := httptest.NewRequest(http.MethodPost, "/v1/funds/1/orders", nil)
	orderRes := httptest.NewRecorder()
	ordersHandler.ServeHTTP(orderRes, orderReq)
	if orderRes.Code != http.StatusOK {
		t.Fatalf("expected first order request to succeed, got %d", orderRes.Code)
	}

	orderRes = httptest.NewRecorder()
	ordersHandler.ServeHTTP(orderRes, orderReq)
	if orderRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second order request to hit limit, got %d", orderRes.Code)
	}
}

func TestRateLimiterAppliesRouteTokens(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"funds": {
			RatePerSecond: 5,
			Burst:         5,
			DefaultTokens: 1,
			Tokens: map[string]int{
				"POST /v1/funds/1/buy": 3,
			},
		},
	}, nil)

	handler := limiter.Middleware("funds")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/funds/1/buy", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first buy request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second buy request to exhaust the burst, got %d", res.Code)
	}

	// Reads only cost the default token.
	statusReq := httptest.NewRequest(http.MethodGet, "/v1/funds/1", nil)
	statusRes := httptest.NewRecorder()
	handler.ServeHTTP(statusRes, statusReq)
	if statusRes.Code != http.StatusOK {
		t.Fatalf("expected read to succeed with default token cost, got %d", statusRes.Code)
	}
}

func TestRateLimiterPrefersSubjectOverIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"funds": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("funds")(okHandler())

	for _, label := range []string{"alice", "bob"} {
		subject := crypto.DeriveAddress(crypto.TRCPrefix, []byte(label))
		req := httptest.NewRequest(http.MethodGet, "/v1/funds", nil)
		req = req.WithContext(context.WithValue(req.Context(), ContextKeySubject, subject))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s request to succeed, got %d", label, res.Code)
		}
	}
}
