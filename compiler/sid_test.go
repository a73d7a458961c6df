package compiler

import (
	"context"
	"errors"
	"testing"

	"sigforge/catalog"
	"sigforge/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocator(t *testing.T, store SIDStore, opts ...SIDOption) *SIDAllocator {
	t.Helper()
	a, err := NewSIDAllocator(context.Background(), store, opts...)
	require.NoError(t, err)
	return a
}

func TestSIDAllocator_RangesPerCategory(t *testing.T) {
	a := newAllocator(t, nil)
	ctx := context.Background()

	tests := []struct {
		cat  SIDCategory
		want int
	}{
		{SIDMalware, 1000000},
		{SIDMalware, 1000001},
		{SIDNetwork, 1100000},
		{SIDWeb, 1200000},
		{SIDCustom, 1900000},
		{SIDCategory("unheard-of"), 1900001},
	}
	for _, tt := range tests {
		sid, err := a.Allocate(ctx, tt.cat)
		require.NoError(t, err)
		assert.Equal(t, tt.want, sid, tt.cat)
	}
	assert.Equal(t, len(tests), a.UsedCount())
}

func TestSIDAllocator_FallbackWhenExhausted(t *testing.T) {
	a := newAllocator(t, nil, WithSIDRanges(map[SIDCategory]SIDRange{SIDCustom: {Start: 10, End: 11}}))
	ctx := context.Background()

	var got []int
	for i := 0; i < 4; i++ {
		sid, err := a.Allocate(ctx, SIDCustom)
		require.NoError(t, err)
		got = append(got, sid)
	}
	assert.Equal(t, []int{10, 11, DefaultFallbackStart, DefaultFallbackStart + 1}, got)
}

func TestSIDAllocator_NeverReusesAcrossInstances(t *testing.T) {
	store := NewMemorySIDStore()
	ctx := context.Background()

	first := newAllocator(t, store)
	sid, err := first.Allocate(ctx, SIDMalware)
	require.NoError(t, err)
	require.Equal(t, 1000000, sid)

	second := newAllocator(t, store)
	assert.True(t, second.IsUsed(1000000))
	sid, err = second.Allocate(ctx, SIDMalware)
	require.NoError(t, err)
	assert.Equal(t, 1000001, sid)
}

func TestSIDAllocator_PeekDoesNotConsume(t *testing.T) {
	a := newAllocator(t, nil)
	peeked := a.Peek(SIDWeb)
	assert.Equal(t, peeked, a.Peek(SIDWeb))
	assert.Equal(t, 0, a.UsedCount())

	sid, err := a.Allocate(context.Background(), SIDWeb)
	require.NoError(t, err)
	assert.Equal(t, peeked, sid)
}

func TestSIDAllocator_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := newAllocator(t, nil)
	for i := 0; i < 2; i++ {
		_, err := src.Allocate(ctx, SIDNetwork)
		require.NoError(t, err)
	}
	data, err := src.Snapshot()
	require.NoError(t, err)

	store := NewMemorySIDStore()
	dst := newAllocator(t, store)
	require.NoError(t, dst.Restore(ctx, data))

	assert.True(t, dst.IsUsed(1100000))
	assert.True(t, dst.IsUsed(1100001))
	persisted, err := store.LoadUsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1100000, 1100001}, persisted)

	sid, err := dst.Allocate(ctx, SIDNetwork)
	require.NoError(t, err)
	assert.Equal(t, 1100002, sid)

	assert.Error(t, dst.Restore(ctx, []byte("not msgpack")))
}

func TestNewSIDAllocator_RejectsBadConfig(t *testing.T) {
	_, err := NewSIDAllocator(context.Background(), nil,
		WithSIDRanges(map[SIDCategory]SIDRange{SIDWeb: {Start: 5, End: 1}}))
	assert.Error(t, err)

	_, err = NewSIDAllocator(context.Background(), nil, WithFallbackStart(100))
	assert.Error(t, err)
}

type failingStore struct{ MemorySIDStore }

func (*failingStore) MarkUsed(context.Context, int, string) error {
	return errors.New("disk full")
}

func TestSIDAllocator_StoreFailure(t *testing.T) {
	a := newAllocator(t, &failingStore{MemorySIDStore: MemorySIDStore{used: map[int]string{}}})
	_, err := a.Allocate(context.Background(), SIDCustom)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, a.UsedCount())
}

func TestInferSIDCategory(t *testing.T) {
	network := core.Ref{Category: catalog.CategoryNetwork}
	content := core.Ref{Category: catalog.CategoryContent}

	tests := []struct {
		name       string
		meta       core.Metadata
		indicators []core.Indicator
		want       SIDCategory
	}{
		{"explicit category", core.Metadata{Category: "web"}, []core.Indicator{core.HashIndicator{}}, SIDWeb},
		{"hash means malware", core.Metadata{}, []core.Indicator{core.IPIndicator{Ref: network}, core.HashIndicator{}}, SIDMalware},
		{"bytes mean malware", core.Metadata{}, []core.Indicator{core.BytesIndicator{Ref: content}}, SIDMalware},
		{"header means web", core.Metadata{}, []core.Indicator{core.HeaderIndicator{Ref: content}}, SIDWeb},
		{"network only", core.Metadata{}, []core.Indicator{core.IPIndicator{Ref: network}, core.PortIndicator{Ref: network}}, SIDNetwork},
		{"mixed is custom", core.Metadata{}, []core.Indicator{core.IPIndicator{Ref: network}, core.StringIndicator{Ref: content}}, SIDCustom},
		{"empty is custom", core.Metadata{Category: "bogus"}, nil, SIDCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferSIDCategory(tt.meta, tt.indicators))
		})
	}
}
