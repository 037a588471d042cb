// Package audit is the append-only audit log (SPEC_FULL §4.Q): each
// secret mutation (put, rotate, delete) gets one record; OAuth client and
// token issuance, ledger credits and tool-server changes are not audited.
// Grounded on the teacher's internal/audit/service.go,
// trimmed of its tenant-store lookup (this gateway has one store, not
// one per tenant) down to a thin wrapper over domain.AuditRepository.
package audit

import (
	"context"
	"log/slog"
	"net/http"

	"gateway/internal/domain"
)

// Actor identifies who performed the mutation.
type Actor struct {
	ID   string
	Kind string // "user", "service", "anonymous"
}

// Entry is one audit log entry to be recorded.
type Entry struct {
	Action   domain.AuditAction
	Resource string
	Actor    Actor
	Details  map[string]any
}

// Service records audit entries, logging failures but never returning
// them to the caller — an audit-log write failure must not break the
// mutation it is recording (grounded on the teacher's Log swallowing
// CreateAuditLog errors after logging them).
type Service struct {
	repo   domain.AuditRepository
	logger *slog.Logger
}

func NewService(repo domain.AuditRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) LogSuccess(ctx context.Context, entry Entry) {
	s.log(ctx, entry, "success", "")
}

func (s *Service) LogFailure(ctx context.Context, entry Entry, errMsg string) {
	s.log(ctx, entry, "failure", errMsg)
}

func (s *Service) log(ctx context.Context, entry Entry, status, errMsg string) {
	if s.repo == nil {
		return
	}
	rec := &domain.AuditLog{
		Action:    entry.Action,
		Resource:  entry.Resource,
		ActorID:   entry.Actor.ID,
		ActorKind: entry.Actor.Kind,
		Status:    status,
		Details:   entry.Details,
		Error:     errMsg,
	}
	if rec.ActorKind == "" {
		rec.ActorKind = "user"
	}
	if err := s.repo.AppendAudit(ctx, rec); err != nil {
		s.logger.Error("audit log write failed", "action", entry.Action, "error", err)
	}
}

// List returns the most recent entries, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.AuditLog, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListAudit(ctx, limit)
}

// ActorFromPrincipal derives an Actor from the calling principal, the
// way every audited operation identifies who acted.
func ActorFromPrincipal(p domain.Principal) Actor {
	switch p.Kind {
	case domain.PrincipalService:
		return Actor{ID: p.KeyID, Kind: "service"}
	case domain.PrincipalOAuth:
		return Actor{ID: p.UserID, Kind: "user"}
	default:
		return Actor{ID: "", Kind: "anonymous"}
	}
}

// ExtractRequestInfo pulls the caller's IP and User-Agent off an HTTP
// request for inclusion in an entry's Details.
func ExtractRequestInfo(r *http.Request) (ip, userAgent string) {
	if r == nil {
		return "", ""
	}
	ip = r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip, r.Header.Get("User-Agent")
}
