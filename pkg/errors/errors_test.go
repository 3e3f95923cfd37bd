package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessageIncludesInternal(t *testing.T) {
	base := New("TEST", "something broke", http.StatusTeapot)
	require.Equal(t, "something broke", base.Error())

	wrapped := base.WithInternal(errors.New("disk on fire"))
	require.Equal(t, "something broke: disk on fire", wrapped.Error())
	require.Equal(t, http.StatusTeapot, wrapped.StatusCode)

	// The original sentinel must stay untouched.
	require.Nil(t, base.Internal)
}

func TestFromErrorRecognisesAppErrors(t *testing.T) {
	err := fmt.Errorf("handler: %w", ErrSignatureVerification)

	appErr := FromError(err)
	require.Equal(t, ErrSignatureVerification.Code, appErr.Code)
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, appErr.Code)
	require.EqualError(t, appErr.Internal, "boom")

	require.Nil(t, FromError(nil))
}

func TestNewUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	appErr := NewUpstream(cause)

	require.Equal(t, ErrUpstreamProvider.Code, appErr.Code)
	require.True(t, errors.Is(appErr, cause))
}
