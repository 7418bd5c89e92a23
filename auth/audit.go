package auth

import (
	"context"
	"sync"
	"time"

	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

type (
	AuditStore interface {
		AppendAuditEvent(ctx context.Context, ev store.AuditEvent) (int64, error)
	}

	// Auditor writes audit events in the background. Write failures are
	// logged and dropped, they never reach the caller.
	Auditor struct {
		store   AuditStore
		timeout time.Duration
		pending sync.WaitGroup
	}
)

const (
	ActionLogin           = "login"
	ActionFailedLogin     = "failed_login"
	ActionLogout          = "logout"
	ActionPasswordChange  = "password_change"
	ActionUserCreated     = "user_created"
	ActionRoleChanged     = "role_changed"
	ActionUserActivated   = "user_activated"
	ActionUserDeactivated = "user_deactivated"
	ActionSessionsSwept   = "sessions_swept"
)

func NewAuditor(st AuditStore) *Auditor {
	return &Auditor{store: st, timeout: 10 * time.Second}
}

// Record schedules ev to be written. The write outlives ctx's
// cancellation but keeps its logger.
func (a *Auditor) Record(ctx context.Context, ev store.AuditEvent) {
	log := logutil.GetOrDefault(ctx)
	ctx = context.WithoutCancel(ctx)
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		_, err := a.store.AppendAuditEvent(ctx, ev)
		if err != nil {
			log.Error().Err(err).
				Str("audit.action", ev.Action).
				Str("audit.user_id", ev.UserID).
				Msg("Unable to record audit event")
		}
	}()
}

// Wait blocks until every scheduled write has finished.
func (a *Auditor) Wait() {
	a.pending.Wait()
}
