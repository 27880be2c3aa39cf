package atom

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchid-lang/corex/internal/proto"
)

type stringVal string

func (s stringVal) String() string { return string(s) }

func TestRegistryDispatchesByKind(t *testing.T) {
	reg := NewRegistry()
	reg.Register(1, Descriptor{
		Decode: func(data []byte) (fmt.Stringer, error) {
			return stringVal(data), nil
		},
		Same: func(a, b []byte) bool { return string(a) == string(b) },
	})

	d, ok := reg.Lookup(1)
	require.True(t, ok)
	v, err := d.Decode([]byte("hi"))
	require.NoError(t, err)
	require.Equal(t, "hi", v.String())
	require.True(t, d.Same([]byte("x"), []byte("x")))

	_, ok = reg.Lookup(2)
	require.False(t, ok)
}

func TestRegisterTwiceForSameKindPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(1, Descriptor{})
	require.Panics(t, func() { reg.Register(1, Descriptor{}) })
}

func TestThinDescriptorHasNoDropAndIsNotTracked(t *testing.T) {
	d := Descriptor{
		Call: func(ctx context.Context, data []byte, arg proto.ExprTicket) (proto.Expression, error) {
			return proto.Expression{}, nil
		},
	}
	require.False(t, d.Tracked())
}

func TestOwnedDescriptorIsTracked(t *testing.T) {
	d := Descriptor{Drop: func(data []byte) {}}
	require.True(t, d.Tracked())
}

func TestRegistryDropInvokesKindHook(t *testing.T) {
	reg := NewRegistry()
	var dropped []byte
	reg.Register(7, Descriptor{Drop: func(data []byte) { dropped = data }})

	ok := reg.Drop(7, []byte("gone"))
	require.True(t, ok)
	require.Equal(t, []byte("gone"), dropped)

	require.False(t, reg.Drop(99, nil), "unknown kind")
}

func TestOwnedStoreInsertGetTakeDrop(t *testing.T) {
	store := NewOwnedStore[string]()

	id1 := store.Insert("first")
	id2 := store.Insert("second")
	require.NotEqual(t, id1, id2)
	require.Equal(t, 2, store.Len())

	v, ok := store.Get(id1)
	require.True(t, ok)
	require.Equal(t, "first", v)

	taken, ok := store.Take(id1)
	require.True(t, ok)
	require.Equal(t, "first", taken)
	require.Equal(t, 1, store.Len())

	_, ok = store.Get(id1)
	require.False(t, ok, "Take must remove the entry")

	require.True(t, store.Drop(id2))
	require.False(t, store.Drop(id2), "double drop reports absence, does not panic")
	require.Equal(t, 0, store.Len())
}
