package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

func TestSubjectContext(t *testing.T) {
	_, ok := SubjectFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSubject(context.Background(), &Subject{UserID: 7, Role: domain.RoleSeller})
	subject, ok := SubjectFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), subject.UserID)
	assert.True(t, subject.IsSeller())

	_, ok = SubjectFromContext(WithSubject(context.Background(), nil))
	assert.False(t, ok)
}

func TestRequireSubject(t *testing.T) {
	_, err := RequireSubject(context.Background(), "op")
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	ctx := WithSubject(context.Background(), &Subject{UserID: 1, Role: domain.RoleUser})
	subject, err := RequireSubject(ctx, "op")
	require.NoError(t, err)
	assert.Equal(t, int64(1), subject.UserID)
}

func TestRequireOwner(t *testing.T) {
	seller := &Subject{UserID: 5, Role: domain.RoleSeller}

	assert.NoError(t, RequireOwner(seller, 5, "op"))
	assert.Equal(t, domain.KindForbidden, domain.KindOf(RequireOwner(seller, 6, "op")))
	assert.Equal(t, domain.KindForbidden, domain.KindOf(RequireOwner(&Subject{UserID: 5, Role: domain.RoleUser}, 5, "op")))
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(RequireOwner(nil, 5, "op")))
}
