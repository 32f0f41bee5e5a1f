package probing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kho/kenlm/packed"
)

func TestInsertAndFind(t *testing.T) {
	cap := Capacity(4, 2.0)
	buf := make([]byte, Size(cap, packed.ProbBackoffCodec{}))
	b := NewBuilder[packed.ProbBackoff](buf, packed.ProbBackoffCodec{})

	entries := map[uint64]packed.ProbBackoff{
		0:   {Prob: -1, Backoff: 0},
		17:  {Prob: -2, Backoff: -0.5},
		101: {Prob: -3, Backoff: -0.25},
		999: {Prob: -4, Backoff: 0},
	}
	for k, v := range entries {
		require.NoError(t, b.Insert(k, v))
	}

	view := b.Table()
	for k, v := range entries {
		got, ok := view.Find(k)
		require.True(t, ok, "key %d should be found", k)
		require.Equal(t, v, got)
	}
	_, ok := view.Find(12345)
	require.False(t, ok)
}

func TestInsertFullTable(t *testing.T) {
	buf := make([]byte, Size(2, packed.ProbCodec{}))
	b := NewBuilder[packed.Prob](buf, packed.ProbCodec{})
	require.NoError(t, b.Insert(1, packed.Prob{Prob: -1}))
	require.NoError(t, b.Insert(2, packed.Prob{Prob: -2}))
	require.ErrorIs(t, b.Insert(3, packed.Prob{Prob: -3}), ErrFull)
}

func TestZeroKeyIsNotConfusedWithEmpty(t *testing.T) {
	buf := make([]byte, Size(8, packed.ProbCodec{}))
	b := NewBuilder[packed.Prob](buf, packed.ProbCodec{})
	require.NoError(t, b.Insert(0, packed.Prob{Prob: -5}))
	got, ok := b.Table().Find(0)
	require.True(t, ok)
	require.Equal(t, packed.Prob{Prob: -5}, got)
	_, ok = b.Table().Find(1)
	require.False(t, ok)
}

func TestCollisionProbesLinearly(t *testing.T) {
	// Capacity 4: keys 0 and 4 collide on the same starting slot.
	buf := make([]byte, Size(4, packed.ProbCodec{}))
	b := NewBuilder[packed.Prob](buf, packed.ProbCodec{})
	require.NoError(t, b.Insert(0, packed.Prob{Prob: -1}))
	require.NoError(t, b.Insert(4, packed.Prob{Prob: -2}))
	got0, ok0 := b.Table().Find(0)
	got4, ok4 := b.Table().Find(4)
	require.True(t, ok0)
	require.True(t, ok4)
	require.Equal(t, packed.Prob{Prob: -1}, got0)
	require.Equal(t, packed.Prob{Prob: -2}, got4)
}
