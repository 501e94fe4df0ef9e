package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyStoreError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"record not found", gorm.ErrRecordNotFound, KindNotFound, false},
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"wrapped cancel", fmt.Errorf("query: %w", context.Canceled), KindTimeout, true},
		{"duplicate key", gorm.ErrDuplicatedKey, KindConflict, false},
		{"pg unique", &pgconn.PgError{Code: "23505"}, KindConflict, false},
		{"pg canceled", &pgconn.PgError{Code: "57014"}, KindTimeout, true},
		{"pg policy recursion", &pgconn.PgError{Code: "42P17"}, KindStoreUnavailable, true},
		{"pg connection", &pgconn.PgError{Code: "08006"}, KindStoreUnavailable, true},
		{"unknown driver error", errors.New("disk I/O error"), KindStoreUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStoreError("test.op", tt.err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.ErrorIs(t, err, tt.err, "the cause stays reachable")
		})
	}
}

func TestClassifyStoreError_PassesTypedErrors(t *testing.T) {
	typed := conflictf("inner", "already there")
	assert.Same(t, typed, classifyStoreError("outer", typed))
	assert.Nil(t, classifyStoreError("op", nil))
}

func TestClassifyStoreError_CountsTransientFailures(t *testing.T) {
	before := testutil.ToFloat64(storeErrorsTotal.WithLabelValues("metrics.op", "store_unavailable"))
	classifyStoreError("metrics.op", errors.New("connection reset"))
	classifyStoreError("metrics.op", gorm.ErrRecordNotFound)
	after := testutil.ToFloat64(storeErrorsTotal.WithLabelValues("metrics.op", "store_unavailable"))
	assert.Equal(t, before+1, after)
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", forbiddenf("project.update", "requires admin role"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "project.update: requires admin role", errors.Unwrap(err).Error())
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "store_unavailable", KindStoreUnavailable.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestAsCollaboratorNotFound(t *testing.T) {
	err := asCollaboratorNotFound("op", projectNotFound("op", true))
	assert.Equal(t, "op: collaborator not found", err.Error())
	assert.True(t, IsConcealed(err))

	forbidden := forbiddenf("op", "no")
	assert.Same(t, forbidden, asCollaboratorNotFound("op", forbidden))
}
