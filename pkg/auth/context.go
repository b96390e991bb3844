package auth

import (
	"context"

	"github.com/platinummonkey/coursehub/pkg/contextkeys"
	"github.com/platinummonkey/coursehub/pkg/domain"
)

// WithSubject stores the authenticated subject in ctx
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	return contextkeys.WithSubject(ctx, subject)
}

// SubjectFromContext returns the subject placed by the auth middleware
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	subject, ok := ctx.Value(contextkeys.SubjectKey).(*Subject)
	return subject, ok && subject != nil
}

// RequireSubject returns the subject in ctx or an Unauthorized error
func RequireSubject(ctx context.Context, op string) (*Subject, error) {
	subject, ok := SubjectFromContext(ctx)
	if !ok {
		return nil, domain.E(domain.KindUnauthorized, op, "authentication required")
	}
	return subject, nil
}

// RequireOwner checks that the subject is the seller owning a resource
func RequireOwner(subject *Subject, sellerID int64, op string) error {
	if subject == nil {
		return domain.E(domain.KindUnauthorized, op, "authentication required")
	}
	if !subject.IsSeller() || subject.UserID != sellerID {
		return domain.E(domain.KindForbidden, op, "only the course owner may do this")
	}
	return nil
}
