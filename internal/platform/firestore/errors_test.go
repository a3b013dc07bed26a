package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

func TestWrapErrorNil(t *testing.T) {
	require.NoError(t, WrapError("orders.find", nil))
}

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name  string
		code  codes.Code
		check func(repositories.RepositoryError) bool
	}{
		{"not found", codes.NotFound, repositories.RepositoryError.IsNotFound},
		{"already exists", codes.AlreadyExists, repositories.RepositoryError.IsConflict},
		{"aborted transaction", codes.Aborted, repositories.RepositoryError.IsConflict},
		{"failed precondition", codes.FailedPrecondition, repositories.RepositoryError.IsConflict},
		{"unavailable", codes.Unavailable, repositories.RepositoryError.IsUnavailable},
		{"resource exhausted", codes.ResourceExhausted, repositories.RepositoryError.IsUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("orders.find", status.Error(tc.code, "backend says no"))

			var repoErr repositories.RepositoryError
			require.ErrorAs(t, wrapped, &repoErr)
			require.True(t, tc.check(repoErr))
			require.Contains(t, wrapped.Error(), "orders.find")
		})
	}
}

func TestWrapErrorPassesThroughCancellation(t *testing.T) {
	require.ErrorIs(t, WrapError("orders.find", context.Canceled), context.Canceled)
	require.ErrorIs(t, WrapError("orders.find", context.DeadlineExceeded), context.DeadlineExceeded)

	// gRPC-level cancellations collapse to the context sentinels too.
	require.ErrorIs(t, WrapError("orders.find", status.Error(codes.Canceled, "rpc cancelled")), context.Canceled)
	require.ErrorIs(t, WrapError("orders.find", status.Error(codes.DeadlineExceeded, "rpc timed out")), context.DeadlineExceeded)
}

func TestWrapErrorKeepsExistingRepositoryError(t *testing.T) {
	conflict := NewConflict("", errors.New("stock would go negative"))

	wrapped := WrapError("stock.decrement", conflict)

	var repoErr *Error
	require.ErrorAs(t, wrapped, &repoErr)
	require.True(t, repoErr.IsConflict())
	require.Contains(t, wrapped.Error(), "stock.decrement")
}

func TestWrapErrorUnknownCodeIsOpaque(t *testing.T) {
	wrapped := WrapError("orders.find", errors.New("mapping failure"))

	var repoErr *Error
	require.ErrorAs(t, wrapped, &repoErr)
	require.False(t, repoErr.IsNotFound())
	require.False(t, repoErr.IsConflict())
	require.False(t, repoErr.IsUnavailable())
}

func TestNewNotFoundUnwraps(t *testing.T) {
	cause := errors.New("no current payment")
	err := NewNotFound("payments.findCurrent", cause)

	require.True(t, err.IsNotFound())
	require.ErrorIs(t, err, cause)
}
