// Package audit records security-relevant credential operations: every use
// of a master key, whether it verified or not.
package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/passvault/internal/api/middleware"
	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/auth"
)

const (
	StatusSuccess = "success"
	// StatusDenied means the master key was missing or wrong.
	StatusDenied  = "denied"
	StatusFailure = "failure"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp  time.Time
	Action     string
	Actor      string
	ResourceID string
	ClientIP   string
	RequestID  string
	Status     string
	Details    map[string]string
}

// Logger writes audit entries as structured log lines tagged audit=true so
// they can be routed separately. A nil *Logger discards everything.
type Logger struct {
	out zerolog.Logger
	now func() time.Time
}

func NewLogger(base zerolog.Logger) *Logger {
	return &Logger{
		out: base.With().Str("component", "audit").Bool("audit", true).Logger(),
		now: time.Now,
	}
}

func (l *Logger) Log(entry Entry) {
	if l == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}

	event := l.out.Info()
	if entry.Status != StatusSuccess {
		event = l.out.Warn()
	}
	event = event.
		Time("at", entry.Timestamp).
		Str("action", entry.Action).
		Str("actor", entry.Actor).
		Str("resource_id", entry.ResourceID).
		Str("client_ip", entry.ClientIP).
		Str("status", entry.Status)
	if entry.RequestID != "" {
		event = event.Str("request_id", entry.RequestID)
	}
	if len(entry.Details) > 0 {
		event = event.Interface("details", entry.Details)
	}
	event.Msg("audit")
}

// Record logs the outcome of action on resourceID for request r. err is the
// operation's result; master-key rejections are recorded as denied.
func (l *Logger) Record(r *http.Request, action, resourceID string, err error) {
	if l == nil {
		return
	}
	entry := Entry{
		Action:     action,
		Actor:      actor(r.Context()),
		ResourceID: resourceID,
		ClientIP:   clientIP(r),
		RequestID:  requestID(r),
		Status:     statusOf(err),
	}
	if err != nil {
		entry.Details = map[string]string{"code": apperror.From(err).Code}
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if entry.Details == nil {
			entry.Details = map[string]string{}
		}
		entry.Details["forwarded_for"] = fwd
	}
	l.Log(entry)
}

func requestID(r *http.Request) string {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func statusOf(err error) string {
	if err == nil {
		return StatusSuccess
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperror.CodeMissingMasterKey, apperror.CodeInvalidMasterKey:
			return StatusDenied
		}
	}
	return StatusFailure
}

func actor(ctx context.Context) string {
	if p := auth.PrincipalFromContext(ctx); p != nil && p.ClientID != "" {
		return p.ClientID
	}
	return "anonymous"
}

// clientIP is the direct peer. Forwarded headers are recorded separately
// since they are client-controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
