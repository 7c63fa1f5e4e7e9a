package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/scriptengine/internal/value"
)

func TestGetWalksOuterChain(t *testing.T) {
	t.Parallel()

	outer := New(nil, 4, true)
	outer.Declare("x", true, false)
	outer.Initialize("x", value.Num(1))

	inner := New(outer, 4, false)

	v, kind := inner.Get("x")
	require.Equal(t, ErrNone, kind)
	assert.Equal(t, float64(1), v.Num())
}

func TestGetReportsTDZBeforeInitialize(t *testing.T) {
	t.Parallel()

	e := New(nil, 1, true)
	e.Declare("x", true, true)

	_, kind := e.Get("x")
	assert.Equal(t, ErrTDZ, kind)

	e.Initialize("x", value.Num(2))
	v, kind := e.Get("x")
	assert.Equal(t, ErrNone, kind)
	assert.Equal(t, float64(2), v.Num())
}

func TestGetReportsUnresolvedForUnknownName(t *testing.T) {
	t.Parallel()

	e := New(nil, 1, true)
	_, kind := e.Get("missing")
	assert.Equal(t, ErrUnresolved, kind)
}

func TestSetRejectsImmutableBinding(t *testing.T) {
	t.Parallel()

	e := New(nil, 1, true)
	e.Declare("x", false, false)
	e.Initialize("x", value.Num(1))

	kind := e.Set("x", value.Num(2))
	assert.Equal(t, ErrNotMutable, kind)

	v, _ := e.Get("x")
	assert.Equal(t, float64(1), v.Num(), "a rejected Set must not mutate the slot")
}

func TestSetOnInnerScopeMutatesOuterBinding(t *testing.T) {
	t.Parallel()

	outer := New(nil, 1, true)
	outer.Declare("x", true, false)
	outer.Initialize("x", value.Num(1))
	inner := New(outer, 1, false)

	kind := inner.Set("x", value.Num(9))
	require.Equal(t, ErrNone, kind)

	v, _ := outer.Get("x")
	assert.Equal(t, float64(9), v.Num())
}

func TestHasOwnDoesNotWalkOuterChain(t *testing.T) {
	t.Parallel()

	outer := New(nil, 1, true)
	outer.Declare("x", true, false)
	inner := New(outer, 1, false)

	assert.True(t, outer.HasOwn("x"))
	assert.False(t, inner.HasOwn("x"))
	assert.True(t, inner.Has("x"), "Has should still walk outward")
}

func TestOwnNamesListsOnlyDirectBindings(t *testing.T) {
	t.Parallel()

	outer := New(nil, 1, true)
	outer.Declare("fromOuter", true, false)
	inner := New(outer, 2, false)
	inner.Declare("a", true, false)
	inner.Declare("b", true, false)

	names := inner.OwnNames()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
