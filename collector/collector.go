// ABOUTME: Public cycle collector API: runtime registration, suspect/forget and collect
// ABOUTME: One Collector instance owns its candidate buffer, graph table and adapters

// Package collector implements a trial-deletion cycle collector for
// reference-counted objects owned by one or more runtimes.
//
// Runtimes call Suspect whenever an object's refcount drops to a non-zero
// value and Forget when the object is destroyed or its refcount rises
// again. Collect ages the candidates, marks the graph they reach, scans it
// and asks the owning runtimes to unlink every object that is only kept
// alive by references from inside the graph.
//
// A Collector is not safe for concurrent use. It must be driven from a
// single goroutine while the participating runtimes do not mutate the
// object graph.
package collector

import (
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/jonboulle/clockwork"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/prateek/cyclecollector/config"
	"github.com/prateek/cyclecollector/graph"
	"github.com/prateek/cyclecollector/participant"
	"github.com/prateek/cyclecollector/purple"
)

// Phase is the state of the collection driver
type Phase int

const (
	Idle Phase = iota
	CollectingPurple
	Marking
	Scanning
	CollectingWhite
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case CollectingPurple:
		return "collecting-purple"
	case Marking:
		return "marking"
	case Scanning:
		return "scanning"
	case CollectingWhite:
		return "collecting-white"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Listener observes the graph built during each pass. It is meant for
// diagnostics and must not call back into the collector.
type Listener interface {
	BeginPass(pass uint64)
	NoteNode(n *graph.Node)
	NoteEdge(from, to *graph.Node, edge string)
	EndPass(pass uint64, t *graph.Table, err error)
}

// Result summarises one Collect call
type Result struct {
	Passes    int           // Passes run
	Roots     int           // Candidates scanned
	Visited   int           // Nodes visited while marking
	Collected int           // Objects unlinked
	Duration  time.Duration // Wall time spent in passes
}

// Stats are cumulative counters over the collector's lifetime
type Stats struct {
	Passes        uint64
	AbortedPasses uint64
	Collected     uint64
	Suspects      uint64
	Forgets       uint64
	Ignored       uint64
	Faults        uint64
}

// Option configures a Collector
type Option func(*Collector)

// WithConfig sets the collector configuration
func WithConfig(cfg config.Config) Option {
	return func(c *Collector) {
		c.cfg = cfg
	}
}

// WithLogger sets the logger used for faults and adapter failures
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Collector) {
		c.log = l
	}
}

// WithClock sets the clock used to time passes
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) {
		c.clock = clock
	}
}

// WithMetrics registers the collector metrics in r
func WithMetrics(r metrics.Registry) Option {
	return func(c *Collector) {
		c.registry = r
	}
}

// WithListener installs a diagnostics listener
func WithListener(l Listener) Option {
	return func(c *Collector) {
		c.listener = l
	}
}

// Collector is a trial-deletion cycle collector
type Collector struct {
	cfg      config.Config
	log      logrus.FieldLogger
	clock    clockwork.Clock
	registry metrics.Registry
	metrics  *collectorMetrics
	listener Listener

	runtimes *participant.Registry
	active   map[graph.RuntimeTag]participant.Runtime
	buffer   *purple.Buffer
	table    *graph.Table
	marker   *graph.Walker
	scanner  *graph.Walker
	current  []graph.ObjRef

	phase      Phase
	collecting bool
	scanning   bool
	disabled   bool
	shutdown   bool
	fault      *Fault
	pass       uint64
	stats      Stats
}

// New creates a collector. It fails with an errdefs invalid-argument error
// when the configuration does not validate.
func New(opts ...Option) (*Collector, error) {
	c := &Collector{
		cfg:   config.Default(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collector configuration: %w: %w", errdefs.ErrInvalidArgument, err)
	}

	if c.log == nil {
		l := logrus.New()
		lvl, _ := c.cfg.Level()
		l.SetLevel(lvl)
		c.log = l
	}
	c.log = c.log.WithField("component", "cyclecollector")

	if c.registry == nil {
		c.registry = metrics.NewRegistry()
	}
	c.metrics = newCollectorMetrics(c.registry)

	c.runtimes = participant.NewRegistry()
	c.buffer = purple.New(c.cfg.CacheSets, c.cfg.CacheWays)
	c.table = graph.NewTable(c.cfg.MaxGraphNodes)
	c.marker = graph.NewWalker(graph.ExpanderFunc(c.expandThroughRuntime))
	c.scanner = graph.NewWalker(graph.RecordedEdges)
	return c, nil
}

// RegisterRuntime adds the adapter for tag
func (c *Collector) RegisterRuntime(tag graph.RuntimeTag, rt participant.Runtime) error {
	if err := c.runtimes.Register(tag, rt); err != nil {
		return err
	}
	c.log.WithField("runtime", tag).Debug("runtime registered")
	return nil
}

// DeregisterRuntime removes the adapter for tag. Candidates it owned are
// dropped by the next pass.
func (c *Collector) DeregisterRuntime(tag graph.RuntimeTag) error {
	if err := c.runtimes.Deregister(tag); err != nil {
		return err
	}
	c.log.WithField("runtime", tag).Debug("runtime deregistered")
	return nil
}

// Suspect records that ref may be part of a garbage cycle. Calls made
// while the graph is being marked or scanned are ignored.
func (c *Collector) Suspect(ref graph.ObjRef) {
	if c.disabled {
		return
	}
	if c.scanning {
		c.ignore("suspect", ref)
		return
	}
	c.buffer.Put(ref)
	c.stats.Suspects++
	c.metrics.suspects.Inc(1)
}

// SuspectCurrent adds ref straight to the root set of the next pass,
// skipping the aging done by the candidate buffer. Repeated calls for the
// same ref add it once.
func (c *Collector) SuspectCurrent(ref graph.ObjRef) {
	if c.disabled {
		return
	}
	if c.scanning {
		c.ignore("suspect-current", ref)
		return
	}
	for _, cur := range c.current {
		if cur == ref {
			return
		}
	}
	c.current = append(c.current, ref)
	c.stats.Suspects++
	c.metrics.suspects.Inc(1)
}

// Forget withdraws a previous Suspect. Forgetting a non-member is a no-op.
func (c *Collector) Forget(ref graph.ObjRef) {
	if c.disabled {
		return
	}
	if c.scanning {
		c.ignore("forget", ref)
		return
	}
	c.buffer.Remove(ref)
	kept := c.current[:0]
	for _, cur := range c.current {
		if cur != ref {
			kept = append(kept, cur)
		}
	}
	c.current = kept
	c.stats.Forgets++
	c.metrics.forgets.Inc(1)
}

func (c *Collector) ignore(op string, ref graph.ObjRef) {
	c.stats.Ignored++
	c.metrics.ignored.Inc(1)
	c.log.WithField("object", ref).WithField("phase", c.phase).Debugf("ignoring re-entrant %s", op)
}

// BumpGeneration ages every candidate by one generation without scanning
func (c *Collector) BumpGeneration() error {
	if c.collecting {
		return ErrCollectionInProgress
	}
	c.buffer.BumpGeneration()
	return nil
}

// Collect runs up to tryCollections passes, stopping after the first pass
// that collects nothing. Every registered runtime sees BeginCollection and
// EndCollection exactly once per call, even when no pass runs.
func (c *Collector) Collect(tryCollections uint32) (Result, error) {
	if c.collecting {
		c.log.WithField("phase", c.phase).Error("Collect called from within a collection")
		return Result{}, ErrCollectionInProgress
	}

	c.collecting = true
	c.runtimes.Seal()
	tags := c.runtimes.Tags()
	c.active = make(map[graph.RuntimeTag]participant.Runtime, len(tags))
	for _, tag := range tags {
		if rt, ok := c.runtimes.Lookup(tag); ok {
			c.active[tag] = rt
		}
	}
	defer func() {
		c.active = nil
		c.runtimes.Unseal()
		c.collecting = false
	}()

	for _, tag := range tags {
		c.active[tag].BeginCollection()
	}
	defer func() {
		for _, tag := range tags {
			c.active[tag].EndCollection()
		}
	}()

	var res Result
	if c.disabled {
		return res, ErrDisabled
	}

	start := c.clock.Now()
	for i := uint32(0); i < tryCollections; i++ {
		pr, err := c.runPass()
		res.Passes++
		res.Roots += pr.roots
		res.Visited += pr.visited
		res.Collected += pr.collected
		if err != nil {
			res.Duration = c.clock.Since(start)
			return res, err
		}
		if pr.collected == 0 {
			break
		}
	}
	res.Duration = c.clock.Since(start)
	return res, nil
}

// Shutdown collects everything reachable from the candidates with no
// aging, then disables the collector for good
func (c *Collector) Shutdown() (Result, error) {
	if c.collecting {
		return Result{}, ErrCollectionInProgress
	}
	if c.disabled {
		return Result{}, ErrDisabled
	}

	c.cfg.ScanDelay = 0
	res, err := c.Collect(uint32(c.cfg.ShutdownCollections))

	c.disabled = true
	c.shutdown = true
	c.buffer.Reset()
	c.current = nil
	c.metrics.candidates.Update(0)
	c.log.WithField("passes", res.Passes).WithField("collected", res.Collected).Info("cycle collector shut down")
	return res, err
}

// Disabled reports whether the collector has stopped collecting
func (c *Collector) Disabled() bool {
	return c.disabled
}

// Fault returns the invariant fault that disabled the collector, if any
func (c *Collector) Fault() error {
	if c.fault == nil {
		return nil
	}
	return c.fault
}

// Phase returns the current driver phase
func (c *Collector) Phase() Phase {
	return c.phase
}

// Stats returns the cumulative counters
func (c *Collector) Stats() Stats {
	return c.stats
}

// Candidates returns the references currently buffered
func (c *Collector) Candidates() []graph.ObjRef {
	entries := c.buffer.Entries()
	refs := make([]graph.ObjRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, e.Ref)
	}
	return refs
}

// IsCandidate reports whether ref is buffered
func (c *Collector) IsCandidate(ref graph.ObjRef) bool {
	return c.buffer.Contains(ref)
}

// Generation returns the candidate buffer generation
func (c *Collector) Generation() uint32 {
	return c.buffer.Generation()
}
