package cos

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrfWrapsCauseAndKind(t *testing.T) {
	cause := errors.New("disk yanked")
	err := Errf(IoError, cause, "reading mdc[%d]", 3)

	require.Equal(t, IoError, KindOf(err))
	require.Contains(t, err.Error(), "reading mdc[3]")
	require.Contains(t, err.Error(), "disk yanked")
	require.ErrorIs(t, err, cause)
}

func TestKindOfDefaultsToIoErrorForForeignErrors(t *testing.T) {
	require.Equal(t, IoError, KindOf(errors.New("some external failure")))
}

func TestIsKindMatchesByKindNotIdentity(t *testing.T) {
	a := Errf(NotFound, nil, "objid missing")
	b := Errf(NotFound, nil, "a different objid missing")

	require.True(t, IsKind(a, NotFound))
	require.True(t, errors.Is(a, b), "two *Error values of the same Kind must compare equal via errors.Is")
	require.False(t, errors.Is(a, Errf(Exists, nil, "wrong kind")))
}

func TestAssertPanicsWithCriticalOnFalseCondition(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*Error)
		require.True(t, ok)
		require.Equal(t, Critical, err.Kind)
	}()
	Assert(false, "invariant broken")
}

func TestAssertNoopOnTrueCondition(t *testing.T) {
	require.NotPanics(t, func() { Assert(true, "fine") })
}

func TestAssertNoErrPanicsOnNonNilError(t *testing.T) {
	require.Panics(t, func() { AssertNoErr(errors.New("boom")) })
	require.NotPanics(t, func() { AssertNoErr(nil) })
}
