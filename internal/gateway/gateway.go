// Package gateway is the front door of the website: it serves the auth API,
// forwards /admin to the CMS screens for signed in editors and everything
// else to the public site.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/julienschmidt/httprouter"
	"github.com/workflo/cmsauth/auth/api"
	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

type (
	// InvalidUpstream is returned for upstream URLs that are not absolute
	InvalidUpstream struct {
		Name string
		URL  string
	}
)

const (
	HeaderUserID   = "X-Auth-User-Id"
	HeaderUsername = "X-Auth-Username"
	HeaderRole     = "X-Auth-Role"
)

var (
	methods = []string{
		"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD",
	}

	identityHeaders = []string{HeaderUserID, HeaderUsername, HeaderRole}
)

func (i InvalidUpstream) Error() string {
	return fmt.Sprintf("upstream %v must be an absolute url, got %q", i.Name, i.URL)
}

// AsHandler builds the gateway router. A nil admin upstream leaves /admin
// unmapped; a nil site upstream answers unknown paths with 404.
func AsHandler(ctx context.Context, realm *api.SecurityRealm, site *url.URL, admin *url.URL) (http.Handler, error) {
	router := httprouter.New()
	realm.Routes(router)

	if admin != nil {
		if err := checkUpstream("admin", admin); err != nil {
			return nil, err
		}
		adminProxy := newProxy(ctx, admin, true)
		protected := realm.Protect(adminProxy, store.RoleEditor)
		for _, m := range methods {
			router.Handler(m, "/admin/*path", protected)
		}
	}

	if site != nil {
		if err := checkUpstream("site", site); err != nil {
			return nil, err
		}
		// delegate to the public site if not found
		router.NotFound = newProxy(ctx, site, false)
	}

	return router, nil
}

func checkUpstream(name string, u *url.URL) error {
	if !u.IsAbs() || u.Host == "" {
		return InvalidUpstream{Name: name, URL: u.String()}
	}
	return nil
}

// newProxy never forwards identity headers sent by the client, when
// withIdentity is set they are filled from the session attached by the realm.
func newProxy(ctx context.Context, target *url.URL, withIdentity bool) *httputil.ReverseProxy {
	log := logutil.GetOrDefault(ctx).With().Str("upstream", target.String()).Logger()
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		for _, h := range identityHeaders {
			req.Header.Del(h)
		}
		if !withIdentity {
			return
		}
		if sc := api.SessionFrom(req.Context()); sc != nil {
			req.Header.Set(HeaderUserID, sc.User.ID)
			req.Header.Set(HeaderUsername, sc.User.Username)
			req.Header.Set(HeaderRole, string(sc.User.Role))
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Upstream request failed")
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}
