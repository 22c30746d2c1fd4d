package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/phbpx/leadsvc/auth"
	"github.com/phbpx/leadsvc/handler"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const peerAddr = "198.51.100.7:5555"

func newThrottledRouter(t *testing.T, limit int, trustProxy bool) (http.Handler, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	a, err := auth.New(auth.Config{
		AdminUsername: adminUser,
		AdminPassword: adminPass,
		SigningKey:    "test-signing-key",
	})
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	h := handler.NewRouter(handler.Config{
		Log:               otelzap.New(zap.NewNop()).Sugar(),
		Leads:             newMemStore(),
		Auth:              a,
		Throttle:          auth.NewThrottle(rdb, limit, time.Minute),
		TrustProxyHeaders: trustProxy,
	})
	return h, mr
}

func postLogin(h http.Handler, password, forwardedFor string) int {
	body := `{"username":"` + adminUser + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(body))
	req.RemoteAddr = peerAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLoginThrottled(t *testing.T) {
	h, mr := newThrottledRouter(t, 2, false)

	for i := 1; i <= 2; i++ {
		if code := postLogin(h, "wrong", ""); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, code)
		}
	}
	if code := postLogin(h, adminPass, ""); code != http.StatusTooManyRequests {
		t.Fatalf("throttled login status = %d, want 429", code)
	}

	mr.FastForward(time.Minute + time.Second)

	if code := postLogin(h, adminPass, ""); code != http.StatusOK {
		t.Fatalf("login after the window status = %d, want 200", code)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("successful login left counters %v", mr.Keys())
	}
}

func TestLoginThrottleIgnoresForwardedHeaders(t *testing.T) {
	h, mr := newThrottledRouter(t, 2, false)

	for i, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		if code := postLogin(h, "wrong", ip); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, code)
		}
	}
	if code := postLogin(h, "wrong", "3.3.3.3"); code != http.StatusTooManyRequests {
		t.Errorf("spoofed header escaped the throttle: status = %d, want 429", code)
	}

	keys := mr.Keys()
	if len(keys) != 1 || !strings.HasSuffix(keys[0], "198.51.100.7") {
		t.Errorf("throttle keys = %v, want one key for the socket peer", keys)
	}
}

func TestLoginThrottleBehindTrustedProxy(t *testing.T) {
	h, mr := newThrottledRouter(t, 2, true)

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		if code := postLogin(h, "wrong", ip); code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", ip, code)
		}
	}

	if got := len(mr.Keys()); got != 3 {
		t.Errorf("got %d throttle keys, want one per forwarded client", got)
	}
}
