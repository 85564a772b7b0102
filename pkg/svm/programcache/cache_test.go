package programcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

func key(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	return k
}

func TestDelayVisibility(t *testing.T) {
	p := NewLoaded(10, 64, []byte{0x95})
	require.Equal(t, uint64(11), p.EffectiveSlot)

	c := NewCache(10, DefaultEnvironments())
	c.StoreModified(key(1), p)

	got, ok := c.Find(key(1))
	require.True(t, ok)
	require.Equal(t, KindDelayVisibility, got.Kind)
	require.True(t, got.IsTombstone())
	require.Nil(t, got.Bytecode)

	next := NewCache(11, DefaultEnvironments())
	next.Merge(c)
	got, ok = next.Find(key(1))
	require.True(t, ok)
	require.Equal(t, KindLoaded, got.Kind)
	require.Equal(t, []byte{0x95}, got.Bytecode)
}

func TestBuiltinsVisibleImmediately(t *testing.T) {
	c := NewCache(0, Environments{})
	c.StoreModified(key(1), NewBuiltin("system_program", 0))
	got, ok := c.Find(key(1))
	require.True(t, ok)
	require.Equal(t, KindBuiltin, got.Kind)
	require.False(t, got.IsTombstone())
}

func TestReplenish(t *testing.T) {
	c := NewCache(5, Environments{})
	inserted, p := c.Replenish(key(1), NewBuiltin("a", 0))
	require.True(t, inserted)
	require.Equal(t, "a", p.Name)

	inserted, p = c.Replenish(key(1), NewBuiltin("b", 0))
	require.False(t, inserted)
	require.Equal(t, "a", p.Name)
	require.Equal(t, 1, c.Len())
}

func TestOverlayShadowsBase(t *testing.T) {
	base := NewCache(20, DefaultEnvironments())
	base.StoreModified(key(1), NewLoaded(5, 10, []byte{1}))
	base.StoreModified(key(2), NewBuiltin("two", 0))

	delta := NewCache(20, DefaultEnvironments())
	o := NewOverlay(base, delta)

	got, ok := o.Find(key(1))
	require.True(t, ok)
	require.Equal(t, KindLoaded, got.Kind)

	o.Store(key(1), NewTombstone(20, KindClosed))
	got, ok = o.Find(key(1))
	require.True(t, ok)
	require.Equal(t, KindClosed, got.Kind)

	// The base is untouched.
	got, ok = base.Find(key(1))
	require.True(t, ok)
	require.Equal(t, KindLoaded, got.Kind)
	require.Equal(t, 1, o.Delta().Len())

	_, ok = o.Find(key(3))
	require.False(t, ok)
	require.Equal(t, uint64(20), o.Slot())
}

func TestOverlayNilBase(t *testing.T) {
	o := NewOverlay(nil, NewCache(1, Environments{}))
	_, ok := o.Find(key(1))
	require.False(t, ok)
}

func TestKeysSorted(t *testing.T) {
	c := NewCache(0, Environments{})
	for _, b := range []byte{9, 3, 7, 1} {
		c.StoreModified(key(b), NewBuiltin("x", 0))
	}
	require.Equal(t, []types.Pubkey{key(1), key(3), key(7), key(9)}, c.Keys())
}

func TestCacheWire(t *testing.T) {
	c := NewCache(42, DefaultEnvironments())
	c.StoreModified(key(2), NewLoaded(40, 100, []byte{1, 2, 3}))
	c.StoreModified(key(1), NewBuiltin("system_program", 0))
	c.StoreModified(key(3), NewTombstone(41, KindFailedVerification))

	var out Cache
	require.NoError(t, wire.Unmarshal(wire.Marshal(c), "program cache", &out))
	require.Equal(t, c.Slot(), out.Slot())
	require.Equal(t, c.Environments().Digest(), out.Environments().Digest())
	require.Equal(t, c.Keys(), out.Keys())
	for _, k := range c.Keys() {
		want, _ := c.Find(k)
		got, _ := out.Find(k)
		require.Equal(t, want, got)
	}

	// Encoding is independent of insertion order.
	d := NewCache(42, DefaultEnvironments())
	d.StoreModified(key(3), NewTombstone(41, KindFailedVerification))
	d.StoreModified(key(1), NewBuiltin("system_program", 0))
	d.StoreModified(key(2), NewLoaded(40, 100, []byte{1, 2, 3}))
	require.Equal(t, wire.Marshal(c), wire.Marshal(d))
}

func TestDecodeInvalidKind(t *testing.T) {
	data := wire.Marshal(LoadedProgram{Kind: numKinds})
	var p LoadedProgram
	err := wire.Unmarshal(data, "program", &p)
	require.ErrorIs(t, err, wire.ErrInvalidTag)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "delay-visibility", KindDelayVisibility.String())
	require.Equal(t, "kind(200)", Kind(200).String())
}
