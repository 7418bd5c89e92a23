package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

type (
	NewUser struct {
		Email    string
		Username string
		Password string
		Role     store.Role
		// Inactive users are created disabled
		Inactive bool
	}
)

func (n NewUser) validate() error {
	switch {
	case !strings.Contains(strings.TrimSpace(n.Email), "@"):
		return validation("email", "a valid email is required")
	case strings.TrimSpace(n.Username) == "":
		return validation("username", "username is required")
	case strings.Contains(n.Username, "@"):
		return validation("username", "username cannot contain @")
	case len(n.Password) < MinPasswordLength:
		return validation("password", "password must have at least %v characters", MinPasswordLength)
	case !n.Role.Valid():
		return validation("role", "role must be one of admin, editor or viewer")
	}
	return nil
}

func actorID(actor *store.User) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}

// CreateUser registers a new user. actor is nil for administrative
// bootstrap from the command line.
func (s *Service) CreateUser(ctx context.Context, actor *store.User, nu NewUser) (*store.User, error) {
	if err := nu.validate(); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(nu.Password)
	if err != nil {
		return nil, s.fail(ctx, "hash password", err)
	}
	u, err := s.store.CreateUser(ctx, store.User{
		Email:        nu.Email,
		Username:     nu.Username,
		PasswordHash: hash,
		Role:         nu.Role,
		Active:       !nu.Inactive,
	})
	var dup store.DuplicateUser
	if errors.As(err, &dup) {
		return nil, dup
	} else if err != nil {
		return nil, s.fail(ctx, "create user", err)
	}
	s.audit.Record(ctx, store.AuditEvent{
		UserID:       actorID(actor),
		Action:       ActionUserCreated,
		ResourceType: "user",
		ResourceID:   u.ID,
		Data:         map[string]interface{}{"username": u.Username, "role": string(u.Role)},
		CreatedAt:    s.now(),
	})
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("user.id", u.ID).Str("user.role", string(u.Role)).Msg("User created")
	return u, nil
}

// UpdateRole changes the role of userID. Sessions of that user carry the
// old role in their tokens, so all of them are deactivated.
func (s *Service) UpdateRole(ctx context.Context, actor *store.User, userID string, role store.Role) error {
	if !role.Valid() {
		return validation("role", "role must be one of admin, editor or viewer")
	}
	if actor != nil && actor.ID == userID && role != actor.Role {
		return validation("role", "you cannot change your own role")
	}
	before, err := s.lookupUser(ctx, userID)
	if err != nil {
		return err
	}
	err = s.store.UpdateRole(ctx, userID, role)
	if err != nil {
		return s.fail(ctx, "update role", err)
	}
	if before.Role != role {
		_, err = s.store.DeactivateUserSessions(ctx, userID, "")
		if err != nil {
			return s.fail(ctx, "deactivate sessions", err)
		}
	}
	s.audit.Record(ctx, store.AuditEvent{
		UserID:       actorID(actor),
		Action:       ActionRoleChanged,
		ResourceType: "user",
		ResourceID:   userID,
		Data:         map[string]interface{}{"from": string(before.Role), "to": string(role)},
		CreatedAt:    s.now(),
	})
	return nil
}

// SetUserActive soft-(de)activates userID. Deactivating a user also
// deactivates every session the user has.
func (s *Service) SetUserActive(ctx context.Context, actor *store.User, userID string, active bool) error {
	if actor != nil && actor.ID == userID && !active {
		return validation("active", "you cannot deactivate yourself")
	}
	if _, err := s.lookupUser(ctx, userID); err != nil {
		return err
	}
	err := s.store.SetUserActive(ctx, userID, active)
	if err != nil {
		return s.fail(ctx, "set user active", err)
	}
	action := ActionUserActivated
	if !active {
		action = ActionUserDeactivated
		_, err = s.store.DeactivateUserSessions(ctx, userID, "")
		if err != nil {
			return s.fail(ctx, "deactivate sessions", err)
		}
	}
	s.audit.Record(ctx, store.AuditEvent{
		UserID:       actorID(actor),
		Action:       action,
		ResourceType: "user",
		ResourceID:   userID,
		CreatedAt:    s.now(),
	})
	return nil
}

func (s *Service) lookupUser(ctx context.Context, userID string) (*store.User, error) {
	u, err := s.store.FindUserByID(ctx, userID)
	var nf store.UserNotFound
	if errors.As(err, &nf) {
		return nil, nf
	} else if err != nil {
		return nil, s.fail(ctx, "lookup user", err)
	}
	return u, nil
}

// FindUser looks a user up by id, email or username.
func (s *Service) FindUser(ctx context.Context, idOrLogin string) (*store.User, error) {
	u, err := s.store.FindUserByID(ctx, idOrLogin)
	if errors.Is(err, store.UserNotFound{}) {
		u, err = s.store.FindUserByLogin(ctx, idOrLogin)
	}
	var nf store.UserNotFound
	if errors.As(err, &nf) {
		return nil, nf
	} else if err != nil {
		return nil, s.fail(ctx, "lookup user", err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, limit int) ([]store.User, error) {
	users, err := s.store.ListUsers(ctx, limit)
	if err != nil {
		return nil, s.fail(ctx, "list users", err)
	}
	return users, nil
}

func (s *Service) ListSessions(ctx context.Context, userID string, activeOnly bool) ([]store.Session, error) {
	sessions, err := s.store.ListUserSessions(ctx, userID, activeOnly, 100)
	if err != nil {
		return nil, s.fail(ctx, "list sessions", err)
	}
	return sessions, nil
}

func (s *Service) ListAuditEvents(ctx context.Context, filter store.AuditFilter) ([]store.AuditEvent, error) {
	events, err := s.store.ListAuditEvents(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, "list audit events", err)
	}
	return events, nil
}
