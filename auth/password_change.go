package auth

import (
	"context"
	"errors"

	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

type (
	ChangePassword struct {
		CurrentPassword string
		NewPassword     string
		ConfirmPassword string
		// KeepSessionID survives the change, every other session of the
		// user is deactivated. Empty means deactivate all of them.
		KeepSessionID string
		Client        Client
	}
)

func (c ChangePassword) validate() error {
	switch {
	case c.CurrentPassword == "":
		return validation("current_password", "current password is required")
	case c.NewPassword == "":
		return validation("new_password", "new password is required")
	case c.ConfirmPassword != c.NewPassword:
		return validation("confirm_password", "new password and confirmation do not match")
	case len(c.NewPassword) < MinPasswordLength:
		return validation("new_password", "new password must have at least %v characters", MinPasswordLength)
	case c.NewPassword == c.CurrentPassword:
		return validation("new_password", "new password must differ from the current one")
	}
	return nil
}

// ChangePassword replaces the password of userID after verifying the
// current one and deactivates all other sessions of that user.
func (s *Service) ChangePassword(ctx context.Context, userID string, req ChangePassword) error {
	if err := req.validate(); err != nil {
		return err
	}
	user, err := s.store.FindUserByID(ctx, userID)
	if errors.Is(err, store.UserNotFound{}) {
		return InvalidCredentials{}
	} else if err != nil {
		return s.fail(ctx, "lookup user", err)
	}
	ok, err := s.hasher.Verify(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		return s.fail(ctx, "verify password", err)
	}
	if !ok || !user.Active {
		return InvalidCredentials{}
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return s.fail(ctx, "hash password", err)
	}
	now := s.now()
	err = s.store.UpdatePassword(ctx, user.ID, hash, now)
	if err != nil {
		return s.fail(ctx, "update password", err)
	}
	revoked, err := s.store.DeactivateUserSessions(ctx, user.ID, req.KeepSessionID)
	if err != nil {
		return s.fail(ctx, "deactivate sessions", err)
	}
	s.audit.Record(ctx, store.AuditEvent{
		UserID:       user.ID,
		Action:       ActionPasswordChange,
		ResourceType: "user",
		ResourceID:   user.ID,
		Data:         map[string]interface{}{"revoked_sessions": revoked},
		IPAddress:    req.Client.IPAddress,
		UserAgent:    req.Client.UserAgent,
		CreatedAt:    now,
	})
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("user.id", user.ID).Int64("revoked_sessions", revoked).Msg("Password changed")
	return nil
}
