package handler

import (
	"errors"
	"net"
	"net/http"

	"github.com/phbpx/leadsvc/auth"
	"github.com/phbpx/leadsvc/pkg/metrics"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

const (
	loggedInMessage = "تم تسجيل الدخول"
	badLoginMessage = "بيانات الدخول غير صحيحة"
)

type AuthHandler struct {
	auth     *auth.Authenticator
	throttle *auth.Throttle
	metrics  *metrics.Metrics
	log      *otelzap.SugaredLogger
}

// NewAuthHandler builds the login endpoints. throttle may be nil.
func NewAuthHandler(a *auth.Authenticator, throttle *auth.Throttle, m *metrics.Metrics, log *otelzap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		auth:     a,
		throttle: throttle,
		metrics:  m,
		log:      log,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (ah AuthHandler) Login(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decode(rw, r, &req); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("request body is not valid JSON"))
		return
	}

	client := clientKey(r)

	// A throttle outage must not lock the admin out, so errors fail open.
	allowed, err := ah.throttle.Attempt(ctx, client)
	if err != nil {
		ah.log.Ctx(ctx).Errorw("Login", "error", err.Error())
		allowed = true
	}
	if !allowed {
		ah.count("throttled")
		respondErr(ctx, rw, http.StatusTooManyRequests, auth.ErrTooManyAttempts)
		return
	}

	token, err := ah.auth.Login(req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			respondInternal(ctx, rw, ah.log, "Login", err)
			return
		}
		ah.count("invalid")
		ah.log.Ctx(ctx).Infow("Login", "status", "rejected", "client", client)
		respondErr(ctx, rw, http.StatusUnauthorized, errors.New(badLoginMessage))
		return
	}

	ah.count("success")
	if err := ah.throttle.Reset(ctx, client); err != nil {
		ah.log.Ctx(ctx).Errorw("Login", "error", err.Error())
	}

	http.SetCookie(rw, ah.auth.SessionCookie(token))
	respond(ctx, rw, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": loggedInMessage,
	})
}

// Logout clears the session cookie. The token itself stays valid until it
// expires; there is no server-side revocation.
func (ah AuthHandler) Logout(rw http.ResponseWriter, r *http.Request) {
	http.SetCookie(rw, ah.auth.ClearCookie())
	respond(r.Context(), rw, http.StatusOK, map[string]bool{"success": true})
}

func (ah AuthHandler) Me(rw http.ResponseWriter, r *http.Request) {
	username, _ := auth.Username(r.Context())
	respond(r.Context(), rw, http.StatusOK, map[string]string{"username": username})
}

// RequireSession rejects requests without a valid session cookie. Every
// failure looks the same to the client.
func (ah AuthHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		username, err := ah.auth.VerifyRequest(r)
		if err != nil {
			ah.log.Ctx(ctx).Debugw("RequireSession", "error", err.Error())
			respondErr(ctx, rw, http.StatusUnauthorized, errUnauthorized)
			return
		}

		next.ServeHTTP(rw, r.WithContext(auth.WithUsername(ctx, username)))
	})
}

func (ah AuthHandler) count(result string) {
	if ah.metrics != nil {
		ah.metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}

// clientKey identifies the caller for login throttling by the socket peer.
// RemoteAddr only reflects forwarding headers when the router trusts a proxy.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
