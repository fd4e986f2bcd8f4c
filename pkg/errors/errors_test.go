package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCode(t *testing.T) {
	original := errors.NotFound("tenant missing", stderrors.New("redis: nil"))

	wrapped := errors.Wrap(original, "loading tenant config")

	var appErr *errors.AppError
	require.True(t, errors.As(wrapped, &appErr))
	require.Equal(t, errors.CodeNotFound, appErr.Code)
}

func TestWrapDefaultsToInternal(t *testing.T) {
	wrapped := errors.Wrap(stderrors.New("boom"), "calling downstream")

	var appErr *errors.AppError
	require.True(t, errors.As(wrapped, &appErr))
	require.Equal(t, errors.CodeInternal, appErr.Code)
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, errors.Wrap(nil, "noop"))
}
