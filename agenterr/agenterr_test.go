package agenterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsMessageToKindWhenEmpty(t *testing.T) {
	t.Parallel()
	err := New(KindSystem, "")
	require.Equal(t, string(KindSystem), err.Error())
}

func TestNewf_FormatsMessage(t *testing.T) {
	t.Parallel()
	err := Newf(KindNetwork, "dial %s failed", "example.com")
	require.Equal(t, "dial example.com failed", err.Error())
	require.Equal(t, KindNetwork, err.Kind)
}

func TestWrap_PreservesCauseChain(t *testing.T) {
	t.Parallel()
	cause := errors.New("underlying failure")
	wrapped := Wrap(KindWorkspace, "", cause)
	require.Equal(t, "underlying failure", wrapped.Message)
	require.Equal(t, KindWorkspace, wrapped.Kind)
	require.Equal(t, "underlying failure", wrapped.Unwrap().Error())
}

func TestFromError_PassesThroughExistingError(t *testing.T) {
	t.Parallel()
	original := New(KindGitHub, "rate limited")
	got := FromError(original)
	require.Same(t, original, got)
}

func TestFromError_TagsUnknownErrorsAsSystem(t *testing.T) {
	t.Parallel()
	got := FromError(errors.New("plain error"))
	require.Equal(t, KindSystem, got.Kind)
	require.Equal(t, "plain error", got.Message)
}

func TestFromError_NilReturnsNil(t *testing.T) {
	t.Parallel()
	require.Nil(t, FromError(nil))
}

func TestErrorsAs_UnwrapsThroughWrappedStdlibError(t *testing.T) {
	t.Parallel()
	inner := New(KindAgentCrash, "child died")
	outer := fmt.Errorf("phase failed: %w", inner)

	var e *Error
	require.ErrorAs(t, outer, &e)
	require.Equal(t, KindAgentCrash, e.Kind)
}

func TestKind_RetryableClassifiesKnownKinds(t *testing.T) {
	t.Parallel()
	require.True(t, KindSystem.Retryable())
	require.True(t, KindGitHub.Retryable())
	require.True(t, KindNetwork.Retryable())
	require.True(t, KindAgentTimeout.Retryable())
	require.False(t, KindPolicyViolation.Retryable())
	require.False(t, KindIllegalTransition.Retryable())
	require.False(t, KindCancelled.Retryable())
}

func TestError_NilReceiverErrorIsEmpty(t *testing.T) {
	t.Parallel()
	var e *Error
	require.Equal(t, "", e.Error())
	require.Nil(t, e.Unwrap())
}
