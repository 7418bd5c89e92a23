package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/workflo/cmsauth/auth"
	"github.com/workflo/cmsauth/store"
)

type (
	response struct {
		Success  bool               `json:"success"`
		User     *store.User        `json:"user,omitempty"`
		Session  *store.Session     `json:"session,omitempty"`
		Users    []store.User       `json:"users,omitempty"`
		Sessions []store.Session    `json:"sessions,omitempty"`
		Events   []store.AuditEvent `json:"events,omitempty"`
		Swept    *int64             `json:"swept,omitempty"`
		Error    string             `json:"error,omitempty"`
		Field    string             `json:"field,omitempty"`
	}

	loginRequest struct {
		Login      string `json:"login"`
		Email      string `json:"email"`
		Username   string `json:"username"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}

	changePasswordRequest struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}

	createUserRequest struct {
		Email    string     `json:"email"`
		Username string     `json:"username"`
		Password string     `json:"password"`
		Role     store.Role `json:"role"`
		Inactive bool       `json:"inactive"`
	}
)

const maxBodySize = 64 << 10

// AsHandler exposes the realm's routes on their own router
func AsHandler(s *SecurityRealm) http.Handler {
	router := httprouter.New()
	s.Routes(router)
	return router
}

// Routes registers every /auth endpoint on router
func (s *SecurityRealm) Routes(router *httprouter.Router) {
	router.HandlerFunc("POST", "/auth/login", s.login)
	router.HandlerFunc("POST", "/auth/logout", s.logout)
	router.Handler("GET", "/auth/session", s.Protect(http.HandlerFunc(s.session)))
	router.Handler("POST", "/auth/password", s.Protect(http.HandlerFunc(s.changePassword)))
	router.Handler("GET", "/auth/sessions", s.Protect(http.HandlerFunc(s.listSessions)))
	router.Handler("POST", "/auth/sessions/sweep", s.RequirePermission(auth.PermSweepSessions, "", http.HandlerFunc(s.sweep)))
	router.Handler("GET", "/auth/users", s.RequirePermission(auth.PermManageUsers, "", http.HandlerFunc(s.listUsers)))
	router.Handler("POST", "/auth/users", s.RequirePermission(auth.PermManageUsers, "", http.HandlerFunc(s.createUser)))
	router.Handler("PUT", "/auth/users/:id/role", s.RequirePermission(auth.PermManageUsers, "", http.HandlerFunc(s.updateRole)))
	router.Handler("PUT", "/auth/users/:id/active", s.RequirePermission(auth.PermManageUsers, "", http.HandlerFunc(s.setActive)))
	router.Handler("GET", "/auth/audit", s.RequirePermission(auth.PermReadAudit, "", http.HandlerFunc(s.listAudit)))
}

func (s *SecurityRealm) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(out)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *SecurityRealm) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	login := req.Login
	for _, alt := range []string{req.Email, req.Username} {
		if login == "" {
			login = alt
		}
	}
	res, err := s.auth.Login(r.Context(), auth.Credentials{
		Login:      login,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		Client:     s.clientOf(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, res.Session.Token, res.MaxAge)
	writeJSON(w, http.StatusOK, response{Success: true, User: &res.User, Session: &res.Session})
}

func (s *SecurityRealm) logout(w http.ResponseWriter, r *http.Request) {
	err := s.auth.Logout(r.Context(), s.token(r), s.clientOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, response{Success: true})
}

func (s *SecurityRealm) session(w http.ResponseWriter, r *http.Request) {
	sc := SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, response{Success: true, User: &sc.User, Session: &sc.Session})
}

func (s *SecurityRealm) changePassword(w http.ResponseWriter, r *http.Request) {
	sc := SessionFrom(r.Context())
	var req changePasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.auth.ChangePassword(r.Context(), sc.User.ID, auth.ChangePassword{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
		KeepSessionID:   sc.Session.ID,
		Client:          s.clientOf(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true})
}

func (s *SecurityRealm) listSessions(w http.ResponseWriter, r *http.Request) {
	sc := SessionFrom(r.Context())
	sessions, err := s.auth.ListSessions(r.Context(), sc.User.ID, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Sessions: sessions})
}

func (s *SecurityRealm) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.auth.SweepExpiredSessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Swept: &n})
}

func (s *SecurityRealm) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.ListUsers(r.Context(), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Users: users})
}

func (s *SecurityRealm) createUser(w http.ResponseWriter, r *http.Request) {
	sc := SessionFrom(r.Context())
	var req createUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.auth.CreateUser(r.Context(), &sc.User, auth.NewUser{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
		Inactive: req.Inactive,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, User: u})
}

func (s *SecurityRealm) updateRole(w http.ResponseWriter, r *http.Request) {
	sc := SessionFrom(r.Context())
	var req struct {
		Role store.Role `json:"role"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	id := httprouter.ParamsFromContext(r.Context()).ByName("id")
	if err := s.auth.UpdateRole(r.Context(), &sc.User, id, req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true})
}

func (s *SecurityRealm) setActive(w http.ResponseWriter, r *http.Request) {
	sc := SessionFrom(r.Context())
	var req struct {
		Active *bool `json:"active"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		s.writeError(w, r, auth.ValidationFailure{Field: "active", Reason: "active is required"})
		return
	}
	id := httprouter.ParamsFromContext(r.Context()).ByName("id")
	if err := s.auth.SetUserActive(r.Context(), &sc.User, id, *req.Active); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true})
}

func (s *SecurityRealm) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		UserID:  q.Get("user_id"),
		Actions: q["action"],
	}
	for _, p := range []struct {
		name string
		out  *time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.writeError(w, r, auth.ValidationFailure{Field: p.name, Reason: p.name + " must be an RFC3339 timestamp"})
				return
			}
			*p.out = t
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, r, auth.ValidationFailure{Field: "limit", Reason: "limit must be a non-negative number"})
			return
		}
		filter.Limit = limit
	}
	events, err := s.auth.ListAuditEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Events: events})
}
