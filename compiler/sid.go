package compiler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sigforge/catalog"
	"sigforge/core"
	"sigforge/metrics"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// SIDCategory selects the reserved range a SID is drawn from.
type SIDCategory string

const (
	SIDMalware  SIDCategory = "malware"
	SIDNetwork  SIDCategory = "network"
	SIDWeb      SIDCategory = "web"
	SIDCustom   SIDCategory = "custom"
	SIDFallback SIDCategory = "fallback"
)

// SIDRange is an inclusive range of SIDs.
type SIDRange struct {
	Start int `json:"start" mapstructure:"start" msgpack:"start"`
	End   int `json:"end" mapstructure:"end" msgpack:"end"`
}

// DefaultSIDRanges are the reserved ranges per category.
func DefaultSIDRanges() map[SIDCategory]SIDRange {
	return map[SIDCategory]SIDRange{
		SIDMalware: {Start: 1000000, End: 1099999},
		SIDNetwork: {Start: 1100000, End: 1199999},
		SIDWeb:     {Start: 1200000, End: 1299999},
		SIDCustom:  {Start: 1900000, End: 1999999},
	}
}

// DefaultFallbackStart is where allocation continues once a range is
// exhausted. It sits above every reserved range.
const DefaultFallbackStart = 2000000

// SIDStore persists used SIDs so they are never handed out twice, even
// across processes.
type SIDStore interface {
	// LoadUsed returns every SID ever marked used.
	LoadUsed(ctx context.Context) ([]int, error)
	// MarkUsed records sid. Marking an already used SID is not an error.
	MarkUsed(ctx context.Context, sid int, category string) error
}

// MemorySIDStore keeps used SIDs in process memory.
type MemorySIDStore struct {
	mu   sync.Mutex
	used map[int]string
}

// NewMemorySIDStore creates an empty in-memory store.
func NewMemorySIDStore() *MemorySIDStore {
	return &MemorySIDStore{used: make(map[int]string)}
}

func (s *MemorySIDStore) LoadUsed(context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.used))
	for sid := range s.used {
		out = append(out, sid)
	}
	sort.Ints(out)
	return out, nil
}

func (s *MemorySIDStore) MarkUsed(_ context.Context, sid int, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.used[sid]; !ok {
		s.used[sid] = category
	}
	return nil
}

// SIDAllocator hands out unique Snort/Suricata rule ids.
type SIDAllocator struct {
	mu       sync.Mutex
	ranges   map[SIDCategory]SIDRange
	next     map[SIDCategory]int
	used     map[int]struct{}
	fallback int
	store    SIDStore
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// SIDOption configures a SIDAllocator.
type SIDOption func(*SIDAllocator)

// WithSIDRanges replaces the reserved ranges. Categories not present keep
// their defaults.
func WithSIDRanges(ranges map[SIDCategory]SIDRange) SIDOption {
	return func(a *SIDAllocator) {
		for cat, r := range ranges {
			a.ranges[cat] = r
		}
	}
}

// WithFallbackStart sets the first SID used after a range is exhausted.
func WithFallbackStart(start int) SIDOption {
	return func(a *SIDAllocator) { a.fallback = start }
}

// WithSIDLogger sets the logger.
func WithSIDLogger(logger *zap.SugaredLogger) SIDOption {
	return func(a *SIDAllocator) { a.logger = logger }
}

// WithSIDMetrics records allocations on m.
func WithSIDMetrics(m *metrics.Metrics) SIDOption {
	return func(a *SIDAllocator) { a.metrics = m }
}

// NewSIDAllocator creates an allocator backed by store and loads the SIDs
// it already knows about. A nil store keeps state in memory only.
func NewSIDAllocator(ctx context.Context, store SIDStore, opts ...SIDOption) (*SIDAllocator, error) {
	if store == nil {
		store = NewMemorySIDStore()
	}
	a := &SIDAllocator{
		ranges:   DefaultSIDRanges(),
		next:     make(map[SIDCategory]int),
		used:     make(map[int]struct{}),
		fallback: DefaultFallbackStart,
		store:    store,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(a)
	}

	for cat, r := range a.ranges {
		if r.Start <= 0 || r.End < r.Start {
			return nil, fmt.Errorf("invalid SID range for %s: %d-%d", cat, r.Start, r.End)
		}
		if a.fallback <= r.End {
			return nil, fmt.Errorf("fallback start %d must be above the %s range end %d", a.fallback, cat, r.End)
		}
	}

	used, err := store.LoadUsed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load used SIDs: %w", err)
	}
	for _, sid := range used {
		a.used[sid] = struct{}{}
	}
	a.logger.Debugw("SID allocator ready", "used", len(used))
	return a, nil
}

// Allocate consumes and returns the next free SID for cat. Unknown
// categories allocate from the custom range.
func (a *SIDAllocator) Allocate(ctx context.Context, cat SIDCategory) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sid, source := a.findFree(cat)
	if err := a.store.MarkUsed(ctx, sid, string(source)); err != nil {
		return 0, fmt.Errorf("failed to persist SID %d: %w", sid, err)
	}
	a.used[sid] = struct{}{}
	if source == SIDFallback {
		a.fallback = sid + 1
		a.logger.Warnw("SID range exhausted, using fallback counter",
			"category", cat,
			"sid", sid)
	} else {
		a.next[source] = sid + 1
	}
	a.metrics.RecordSIDAllocation(string(source))
	return sid, nil
}

// Peek returns the SID Allocate would return without consuming it.
func (a *SIDAllocator) Peek(cat SIDCategory) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	sid, _ := a.findFree(cat)
	return sid
}

// IsUsed reports whether sid has been handed out.
func (a *SIDAllocator) IsUsed(sid int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.used[sid]
	return ok
}

// UsedCount returns the number of SIDs handed out.
func (a *SIDAllocator) UsedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// findFree must be called with a.mu held.
func (a *SIDAllocator) findFree(cat SIDCategory) (int, SIDCategory) {
	r, ok := a.ranges[cat]
	if !ok {
		cat = SIDCustom
		r = a.ranges[cat]
	}
	start := a.next[cat]
	if start < r.Start {
		start = r.Start
	}
	for sid := start; sid <= r.End; sid++ {
		if _, taken := a.used[sid]; !taken {
			return sid, cat
		}
	}

	sid := a.fallback
	for {
		if _, taken := a.used[sid]; !taken {
			return sid, SIDFallback
		}
		sid++
	}
}

type sidSnapshot struct {
	Used     []int               `msgpack:"used"`
	Next     map[string]int      `msgpack:"next"`
	Ranges   map[string]SIDRange `msgpack:"ranges"`
	Fallback int                 `msgpack:"fallback"`
}

// Snapshot serializes the allocator state with msgpack.
func (a *SIDAllocator) Snapshot() ([]byte, error) {
	a.mu.Lock()
	snap := sidSnapshot{
		Used:     make([]int, 0, len(a.used)),
		Next:     make(map[string]int, len(a.next)),
		Ranges:   make(map[string]SIDRange, len(a.ranges)),
		Fallback: a.fallback,
	}
	for sid := range a.used {
		snap.Used = append(snap.Used, sid)
	}
	for cat, n := range a.next {
		snap.Next[string(cat)] = n
	}
	for cat, r := range a.ranges {
		snap.Ranges[string(cat)] = r
	}
	a.mu.Unlock()

	sort.Ints(snap.Used)
	return msgpack.Marshal(&snap)
}

// Restore merges a snapshot into the allocator. SIDs already used stay
// used; restored SIDs are persisted to the store.
func (a *SIDAllocator) Restore(ctx context.Context, data []byte) error {
	var snap sidSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode SID snapshot: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sid := range snap.Used {
		if _, ok := a.used[sid]; ok {
			continue
		}
		if err := a.store.MarkUsed(ctx, sid, "restored"); err != nil {
			return fmt.Errorf("failed to persist restored SID %d: %w", sid, err)
		}
		a.used[sid] = struct{}{}
	}
	for cat, n := range snap.Next {
		if n > a.next[SIDCategory(cat)] {
			a.next[SIDCategory(cat)] = n
		}
	}
	if snap.Fallback > a.fallback {
		a.fallback = snap.Fallback
	}
	return nil
}

// InferSIDCategory picks the range for a rule. An explicit metadata
// category wins; otherwise hashes or byte patterns mean malware, HTTP
// headers mean web, an all-network rule means network, anything else is
// custom.
func InferSIDCategory(meta core.Metadata, indicators []core.Indicator) SIDCategory {
	switch SIDCategory(meta.Category) {
	case SIDMalware, SIDNetwork, SIDWeb, SIDCustom:
		return SIDCategory(meta.Category)
	}

	allNetwork := len(indicators) > 0
	web := false
	for _, ind := range indicators {
		switch ind.(type) {
		case core.HashIndicator, core.BytesIndicator:
			return SIDMalware
		case core.HeaderIndicator:
			web = true
		}
		if ind.NodeRef().Category != catalog.CategoryNetwork {
			allNetwork = false
		}
	}
	switch {
	case web:
		return SIDWeb
	case allNetwork:
		return SIDNetwork
	}
	return SIDCustom
}
