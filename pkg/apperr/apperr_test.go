package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	req := require.New(t)

	err := New(Conflict, "session %s is full", "abc")
	req.Equal(Conflict, KindOf(err))
	req.True(IsKind(err, Conflict))
	req.False(IsKind(err, NotFound))

	req.Equal(Kind(""), KindOf(errors.New("plain")))
	req.Equal(Kind(""), KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	req := require.New(t)

	cause := errors.New("connection refused")
	err := Wrap(ExternalService, cause, "credential issuer unreachable")

	req.True(errors.Is(err, cause))
	req.Equal(ExternalService, KindOf(err))
	req.Contains(err.Error(), "credential issuer unreachable")
	req.Contains(err.Error(), "connection refused")
}

func TestKindOfWrappedDeep(t *testing.T) {
	req := require.New(t)

	inner := New(InvalidState, "session ended")
	outer := fmt.Errorf("apply moderation: %w", inner)
	req.Equal(InvalidState, KindOf(outer))
}
