package compiler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sigforge/core"
	"sigforge/metrics"

	"go.uber.org/zap"
)

// CompiledRule is the output of one compilation.
type CompiledRule struct {
	Format Format `json:"format"`
	Text   string `json:"text"`
	// SID is set for Snort and Suricata output.
	SID int `json:"sid,omitempty"`
	// Hash is the graph content hash the rule was generated from.
	Hash        string    `json:"hash"`
	Expression  string    `json:"expression"`
	Warnings    []string  `json:"warnings,omitempty"`
	Cached      bool      `json:"cached"`
	GeneratedAt time.Time `json:"generatedAt"`
}

func (r CompiledRule) clone() *CompiledRule {
	r.Warnings = append([]string(nil), r.Warnings...)
	return &r
}

// Compiler translates signature graphs into rule text. It owns the SID
// allocator and the compile cache; nothing is process global.
type Compiler struct {
	sids    *SIDAllocator
	cache   *resultCache
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
	bucket  time.Duration

	cacheSize int
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Compiler) { c.logger = logger }
}

// WithMetrics records compilations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Compiler) { c.metrics = m }
}

// WithSIDAllocator shares an allocator, typically one backed by a
// persistent store.
func WithSIDAllocator(a *SIDAllocator) Option {
	return func(c *Compiler) { c.sids = a }
}

// WithCacheSize bounds the compile cache.
func WithCacheSize(n int) Option {
	return func(c *Compiler) { c.cacheSize = n }
}

// WithTimeBucket sets the width of the time slot in cache keys.
func WithTimeBucket(d time.Duration) Option {
	return func(c *Compiler) {
		if d > 0 {
			c.bucket = d
		}
	}
}

// WithClock replaces time.Now, for dates in generated rules and cache
// buckets.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// New creates a Compiler. Without WithSIDAllocator the compiler uses an
// in-memory allocator.
func New(opts ...Option) (*Compiler, error) {
	c := &Compiler{
		logger:    zap.NewNop().Sugar(),
		now:       time.Now,
		bucket:    DefaultTimeBucket,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sids == nil {
		sids, err := NewSIDAllocator(context.Background(), nil,
			WithSIDLogger(c.logger), WithSIDMetrics(c.metrics))
		if err != nil {
			return nil, err
		}
		c.sids = sids
	}
	cache, err := newResultCache(c.cacheSize)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// SIDs returns the allocator used for Snort and Suricata rules.
func (c *Compiler) SIDs() *SIDAllocator { return c.sids }

// CacheStats reports compile cache counters.
func (c *Compiler) CacheStats() CacheStats { return c.cache.stats() }

// Invalidate drops every cached rule. Call it on any graph mutation.
func (c *Compiler) Invalidate() {
	c.cache.purge()
	c.metrics.RecordCachePurge()
}

// Compile translates g into format. The graph is assumed to be valid;
// only emptiness is checked here.
func (c *Compiler) Compile(ctx context.Context, g *core.Graph, format Format, opts Options) (*CompiledRule, error) {
	start := time.Now()
	rule, err := c.compile(ctx, g, format, opts)
	if err != nil {
		c.metrics.RecordCompilation(string(format), false, err, 0)
		return nil, err
	}
	c.metrics.RecordCompilation(string(format), rule.Cached, nil, time.Since(start).Seconds())
	return rule, nil
}

func (c *Compiler) compile(ctx context.Context, g *core.Graph, format Format, opts Options) (*CompiledRule, error) {
	if !format.Supported() {
		return nil, &core.GraphError{Op: "compile", ID: string(format), Err: core.ErrUnsupportedFormat}
	}
	if g == nil || g.NodeCount() == 0 {
		id := ""
		if g != nil {
			id = g.ID
		}
		return nil, &core.GraphError{Op: "compile", ID: id, Err: core.ErrEmptyGraph}
	}
	if opts.Lookback != "" && !validLookback(opts.Lookback) {
		return nil, fmt.Errorf("invalid lookback %q: expected a number followed by s, m, h, d or w", opts.Lookback)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now()
	hash := g.ContentHash()
	key := cacheKey(format, opts, hash, now.UnixNano()/int64(c.bucket))
	cacheable := !opts.DryRun

	if cacheable {
		if cached, ok := c.cache.get(key); ok {
			out := cached.clone()
			out.Cached = true
			c.logger.Debugw("Compile cache hit",
				"graph_id", g.ID,
				"format", format)
			return out, nil
		}
	}

	b := newBuild(g, format, opts, now)
	text, err := c.generate(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s rule: %w", format, err)
	}

	rule := CompiledRule{
		Format:      format,
		Text:        text,
		SID:         b.sid,
		Hash:        hash,
		Expression:  b.expr.String(),
		Warnings:    b.warnings,
		GeneratedAt: now,
	}
	if cacheable {
		c.cache.add(key, rule)
	}

	c.logger.Infow("Compiled signature",
		"graph_id", g.ID,
		"format", format,
		"sid", rule.SID,
		"warnings", len(rule.Warnings))
	return rule.clone(), nil
}

func (c *Compiler) generate(ctx context.Context, b *build) (string, error) {
	switch b.format {
	case FormatSnort:
		return c.generateIDS(ctx, b, false)
	case FormatSuricata:
		return c.generateIDS(ctx, b, true)
	case FormatYARA:
		return generateYARA(b)
	case FormatSigma:
		return generateSigma(b)
	case FormatJSON:
		return generateJSON(b)
	case FormatXML:
		return generateXML(b)
	case FormatElastic:
		return generateElastic(b)
	case FormatSplunk:
		return generateSplunk(b)
	}
	return "", core.ErrUnsupportedFormat
}

// build carries everything the generators read for one compilation.
type build struct {
	format Format
	graph  *core.Graph
	meta   core.Metadata
	nodes  []core.Node
	edges  []core.Edge
	expr   Expression
	opts   Options
	now    time.Time

	indicators []core.Indicator
	byNode     map[string]core.Indicator

	sid      int
	warnings []string
}

func newBuild(g *core.Graph, format Format, opts Options, now time.Time) *build {
	b := &build{
		format: format,
		graph:  g,
		meta:   g.Metadata(),
		nodes:  g.Nodes(),
		edges:  g.Edges(),
		expr:   Linearize(g),
		opts:   opts,
		now:    now,
		byNode: make(map[string]core.Indicator),
	}
	if strings.TrimSpace(b.meta.Name) == "" {
		b.meta.Name = core.DefaultMetadata().Name
	}

	indicators, warnings := core.DecodeAll(g)
	b.warnings = append(b.warnings, warnings...)
	for _, ind := range indicators {
		b.byNode[ind.NodeRef().NodeID] = ind
		if ext, ok := ind.(core.ExtensionIndicator); ok {
			b.warn("component %s (%s) is not recognized and was omitted from the generated rule",
				ext.NodeID, ext.ComponentID)
			continue
		}
		b.indicators = append(b.indicators, ind)
	}
	return b
}

func (b *build) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// warnXOR notes that the target has no exclusive-or and XOR edges were
// rendered as OR.
func (b *build) warnXOR() {
	for _, e := range b.edges {
		if e.Operator == core.OpXOR {
			b.warn("%s has no exclusive-or; XOR edges were rendered as OR", b.format)
			return
		}
	}
}

// indicator returns the decoded, recognized indicator for a node.
func (b *build) indicator(nodeID string) (core.Indicator, bool) {
	ind, ok := b.byNode[nodeID]
	if !ok {
		return nil, false
	}
	if _, ext := ind.(core.ExtensionIndicator); ext {
		return nil, false
	}
	return ind, true
}

func validLookback(s string) bool {
	if len(s) < 2 || !strings.ContainsRune("smhdw", rune(s[len(s)-1])) {
		return false
	}
	for _, r := range s[:len(s)-1] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
