package easyauth

import (
	"context"
	"fmt"
)

// ExtendSession pushes a live session's expiry to SessionTTL from now. It is
// the hook for hosts that want rolling sessions; GetCurrentUser never extends
// on its own. Expired or unknown sessions are not revived.
func (a *Auth) ExtendSession(ctx context.Context, sessionID string) (*Session, error) {
	extender, ok := a.Adapter.(SessionExtender)
	if !ok {
		return nil, NewError(KindInvalidArgument, "ExtendSession", "adapter does not support rolling sessions", nil)
	}
	session, err := a.Adapter.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	now := a.now()
	if session == nil || !session.Valid(now) {
		return nil, NewError(KindNotFound, "ExtendSession", "session not found", nil)
	}
	extended, err := extender.ExtendSession(ctx, sessionID, now.Add(a.sessionTTL()))
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	a.audit(ctx, AuditEvent{Type: AuditSessionExtended, UserID: session.UserID})
	return extended, nil
}

// ReapSessions deletes expired sessions when the Adapter supports it.
func (a *Auth) ReapSessions(ctx context.Context) (int, error) {
	reaper, ok := a.Adapter.(SessionReaper)
	if !ok {
		return 0, NewError(KindInvalidArgument, "ReapSessions", "adapter does not support session reaping", nil)
	}
	n, err := reaper.DeleteExpiredSessions(ctx, a.now())
	if err != nil {
		return n, fmt.Errorf("failed to reap sessions: %w", err)
	}
	if n > 0 {
		a.audit(ctx, AuditEvent{Type: AuditSessionsReaped, Meta: map[string]any{"count": n}})
	}
	return n, nil
}
