package easyauth

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Audit event types emitted by the engine
const (
	AuditRegister         = "user.register"
	AuditRegisterOrphaned = "user.register_orphaned"
	AuditLogin            = "user.login"
	AuditLoginFailed      = "user.login_failed"
	AuditLogout           = "user.logout"
	AuditOAuthLogin       = "oauth.login"
	AuditAccountLinked    = "account.linked"
	AuditEmailVerified    = "email.verified"
	AuditPasswordReset    = "password.reset"
	AuditPasswordChanged  = "password.changed"
	AuditSessionExtended  = "session.extended"
	AuditSessionsReaped   = "session.reaped"
	AuditResetRequested   = "password.reset_requested"
	AuditVerifyRequested  = "email.verification_requested"
	AuditEmailChanged     = "email.changed"
)

// AuditDispatcherConfig controls buffering of an AuditDispatcher.
type AuditDispatcherConfig struct {
	// BufferSize defaults to 256
	BufferSize int

	// BlockWhenFull makes Emit wait for room, bounded by the caller's
	// context. By default an event that finds the buffer full is dropped and
	// counted.
	BlockWhenFull bool

	Logger *slog.Logger
}

// AuditDispatcher forwards audit events to a sink from a background goroutine
// so that recording an event never blocks the flow that produced it.
type AuditDispatcher struct {
	cfg       AuditDispatcherConfig
	sink      AuditSink
	ch        chan AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewAuditDispatcher starts a dispatcher draining into sink. Call Close to
// flush pending events on shutdown.
func NewAuditDispatcher(sink AuditSink, cfg AuditDispatcherConfig) *AuditDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &AuditDispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan AuditEvent, cfg.BufferSize),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *AuditDispatcher) deliver(event AuditEvent) {
	if err := d.sink.AppendAudit(context.Background(), event); err != nil {
		d.failed.Add(1)
		d.cfg.Logger.Warn("failed to append audit event", "type", event.Type, "error", err)
	}
}

// Emit queues event. It never returns an error.
func (d *AuditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if !d.cfg.BlockWhenFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *AuditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the buffer was full.
func (d *AuditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns how many events the sink rejected.
func (d *AuditDispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
