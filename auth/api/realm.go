package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/workflo/cmsauth/auth"
	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

type (
	SecurityRealm struct {
		auth           *auth.Service
		cookieName     string
		insecureCookie bool
		trustForwarded bool
	}

	ctxKey byte
)

const (
	DefaultCookieName = "cms_session"

	sessionKey = ctxKey(1)
)

var (
	bearerTokenRE = regexp.MustCompile(`^Bearer ([^\s]+)$`)
)

// NewRealm guards handlers with sessions from svc. allowHTTPCookie drops
// the Secure flag from the session cookie, for local development only.
func NewRealm(svc *auth.Service, cookieName string, allowHTTPCookie bool) *SecurityRealm {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &SecurityRealm{
		auth:           svc,
		cookieName:     cookieName,
		insecureCookie: allowHTTPCookie,
	}
}

// TrustForwardedFor makes the realm take the client address from the
// X-Forwarded-For header. Only enable it behind a proxy that overwrites
// the header.
func (s *SecurityRealm) TrustForwardedFor(trust bool) *SecurityRealm {
	s.trustForwarded = trust
	return s
}

// SessionFrom returns the session attached by Protect or RequirePermission
func SessionFrom(ctx context.Context) *auth.SessionContext {
	sc, _ := ctx.Value(sessionKey).(*auth.SessionContext)
	return sc
}

// Protect only lets requests through when they carry a valid session
// whose user holds one of roles (any role when empty).
func (s *SecurityRealm) Protect(sensitive http.Handler, roles ...store.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.auth.RequireAuth(r.Context(), s.token(r), roles...)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sensitive.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sc)))
	})
}

// RequirePermission is like Protect but checks the permission table.
func (s *SecurityRealm) RequirePermission(action, resource string, sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.auth.RequirePermission(r.Context(), s.token(r), action, resource)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sensitive.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sc)))
	})
}

// token prefers the session cookie and falls back to a bearer token
func (s *SecurityRealm) token(r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	groups := bearerTokenRE.FindStringSubmatch(r.Header.Get("Authorization"))
	if len(groups) == 0 {
		return ""
	}
	return groups[1]
}

func (s *SecurityRealm) setSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   !s.insecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *SecurityRealm) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !s.insecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *SecurityRealm) clientOf(r *http.Request) auth.Client {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); s.trustForwarded && fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return auth.Client{IPAddress: ip, UserAgent: r.UserAgent()}
}

// writeError renders err as a failed response. Invalid sessions also
// clear the cookie so the client logs in again.
func (s *SecurityRealm) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation auth.ValidationFailure
		duplicate  store.DuplicateUser
	)
	res := response{Error: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		res.Field = validation.Field
	case errors.Is(err, auth.InvalidCredentials{}):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.InvalidSession{}):
		status = http.StatusUnauthorized
		s.clearSessionCookie(w)
	case errors.Is(err, auth.InsufficientPermissions{}):
		status = http.StatusForbidden
	case errors.Is(err, store.UserNotFound{}):
		status = http.StatusNotFound
		res.Error = "User not found"
	case errors.As(err, &duplicate):
		status = http.StatusConflict
	default:
		if !errors.Is(err, auth.ServiceFailure{}) {
			log := logutil.GetOrDefault(r.Context())
			log.Error().Err(err).Str("path", r.URL.Path).Msg("Unexpected error")
		}
		res.Error = auth.MsgServiceFailure
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	buf, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"success":false,"error":"unable to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf)
}
