package bitemporal

import "time"

// Config holds Engine tuning knobs. NewConfig fills every field with its
// default before applying options; a Config constructed directly gets no
// defaults, so callers normally build one with NewConfig and functional
// options.
type Config struct {
	// MaxConcurrentQueries bounds the Executor's relationship-filter fan-out
	// width (§5).
	MaxConcurrentQueries int

	// RelationshipBatchSize bounds how many relationship filters a single
	// Executor worker processes sequentially before another worker picks up
	// the next chunk; MaxConcurrentQueries then bounds how many chunks run
	// concurrently (§4.7, §5).
	RelationshipBatchSize int

	// EnableParallel toggles the Executor's fan-out path; when false,
	// relationship filters are evaluated sequentially. Tests that want
	// deterministic ordering set this false.
	EnableParallel bool

	// RetryBaseDelay, RetryMaxDelay, and RetryMaxAttempts parameterize the
	// backend retry policy (§5): exponential backoff from RetryBaseDelay,
	// capped at RetryMaxDelay, up to RetryMaxAttempts attempts.
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int

	// TableName is the persisted table/collection name a Storage backend
	// addresses.
	TableName string

	// GapEnforcedDefault is the per-entity I3 gap-enforcement default: off,
	// per §9 Open Question 2 ("gap enforcement is opt-in per entity,
	// default off").
	GapEnforcedDefault bool

	// gapEnforcedOverrides records explicit per-entity-type opt-ins set via
	// WithGapEnforced.
	gapEnforcedOverrides map[EntityType]bool

	// Clock supplies "now" for transaction-time stamping; defaults to
	// DefaultClock.
	Clock Clock
}

// Option configures a Config.
type Option func(*Config)

// NewConfig builds a Config with the spec's defaults, then applies opts in
// order.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		MaxConcurrentQueries:  defaultMaxConcurrentQueries,
		RelationshipBatchSize: 100,
		EnableParallel:        true,
		RetryBaseDelay:        100 * time.Millisecond,
		RetryMaxDelay:         5 * time.Second,
		RetryMaxAttempts:      3,
		TableName:             defaultTableName,
		GapEnforcedDefault:    false,
		gapEnforcedOverrides:  map[EntityType]bool{},
		Clock:                 DefaultClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithMaxConcurrentQueries overrides the executor fan-out width.
func WithMaxConcurrentQueries(n int) Option {
	return func(c *Config) { c.MaxConcurrentQueries = n }
}

// WithRelationshipBatchSize overrides the relationship subquery batch size.
func WithRelationshipBatchSize(n int) Option {
	return func(c *Config) { c.RelationshipBatchSize = n }
}

// WithParallelExecution toggles the Executor's fan-out path.
func WithParallelExecution(enabled bool) Option {
	return func(c *Config) { c.EnableParallel = enabled }
}

// WithRetryPolicy overrides the backend retry policy.
func WithRetryPolicy(base, max time.Duration, attempts int) Option {
	return func(c *Config) {
		c.RetryBaseDelay = base
		c.RetryMaxDelay = max
		c.RetryMaxAttempts = attempts
	}
}

// WithTableName overrides the persisted table/collection name.
func WithTableName(name string) Option {
	return func(c *Config) { c.TableName = name }
}

// WithGapEnforced opts entityType in (or out) of I3 gap enforcement,
// overriding GapEnforcedDefault for that type only.
func WithGapEnforced(entityType EntityType, enforced bool) Option {
	return func(c *Config) {
		if c.gapEnforcedOverrides == nil {
			c.gapEnforcedOverrides = map[EntityType]bool{}
		}
		c.gapEnforcedOverrides[entityType] = enforced
	}
}

// WithClock overrides the injected Clock, primarily for tests.
func WithClock(clock Clock) Option {
	return func(c *Config) { c.Clock = clock }
}

// gapEnforced reports whether I3 gap enforcement applies to id, honoring any
// per-entity-type override before falling back to GapEnforcedDefault.
func (c *Config) gapEnforced(id EntityID) bool {
	if enforced, ok := c.gapEnforcedOverrides[id.Type]; ok {
		return enforced
	}
	return c.GapEnforcedDefault
}
