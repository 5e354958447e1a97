package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/policy/deps"
	"mercator-hq/arbiter/pkg/rules"
)

// RuleSource provides rules and rate limit configs to the engine.
type RuleSource interface {
	// LoadRules loads every rule and rate limit config from the source.
	LoadRules(ctx context.Context) ([]*rules.Rule, []ratelimit.Config, error)
}

// Options wires optional collaborators into an Engine.
type Options struct {
	Logger *slog.Logger

	// Limiter is the rate limiter consulted before rules run. A limiter
	// without configs is created when nil.
	Limiter *ratelimit.Limiter

	Audit    AuditSink
	Notifier RateLimitNotifier
	Observer Observer

	// Custom holds custom operator predicates. An empty registry is created
	// when nil.
	Custom *CustomRegistry
}

// snapshot is an immutable view of the rule set. Evaluations read the
// current snapshot without locking; mutations publish a new one.
type snapshot struct {
	generation uint64

	// rules holds every registered rule by ID.
	rules map[string]*rules.Rule

	// ordered holds the active rules in execution order.
	ordered []*compiledRule

	// position maps an active rule ID to its index in ordered.
	position map[string]int

	// fields lists every condition field referenced by an active rule.
	fields []string

	// usesCustom is set when an active rule has a custom condition.
	usesCustom bool

	strict          bool
	dependencyAware bool
}

// Engine evaluates actions against the registered rules.
type Engine struct {
	config *EngineConfig
	logger *slog.Logger

	evaluator *Evaluator
	matcher   *Matcher
	cache     *DecisionCache
	limiter   *ratelimit.Limiter

	audit    AuditSink
	notifier RateLimitNotifier
	observer Observer

	// mu serializes mutations. Readers use snap.
	mu              sync.Mutex
	snap            atomic.Pointer[snapshot]
	generation      uint64
	dependencyAware bool

	// sourceLimits holds the rate limit IDs the last Reload installed. The
	// next Reload retires those its source no longer defines.
	sourceLimits map[string]bool

	now       func() time.Time
	closeOnce sync.Once
}

// New creates an engine with no rules.
func New(config *EngineConfig, opts Options) (*Engine, error) {
	if config == nil {
		config = DefaultEngineConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter, _ = ratelimit.NewLimiter()
	}

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	evaluator := NewEvaluator(opts.Custom)

	e := &Engine{
		config:          config,
		logger:          logger.With("component", "engine"),
		evaluator:       evaluator,
		matcher:         NewMatcher(evaluator),
		limiter:         limiter,
		audit:           opts.Audit,
		notifier:        opts.Notifier,
		observer:        observer,
		dependencyAware: config.DependencyAware,
		now:             time.Now,
	}
	if config.CacheEnabled {
		e.cache = NewDecisionCache(config.CacheTTL, config.CacheMaxEntries, config.CacheCleanupInterval)
	}

	e.snap.Store(e.buildSnapshot(map[string]*rules.Rule{}))
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *EngineConfig {
	return e.config
}

// Limiter returns the engine's rate limiter.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// Close releases background resources.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.cache != nil {
			e.cache.Close()
		}
	})
	return nil
}

// RegisterRule validates and adds a rule.
func (e *Engine) RegisterRule(rule *rules.Rule) error {
	if err := rules.Validate(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.snap.Load()
	if _, exists := current.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}

	next := copyRules(current.rules)
	next[rule.ID] = rule.Clone()
	if err := checkCycles(next); err != nil {
		return err
	}

	e.lint(rule)
	e.publishLocked(next)
	e.logger.Info("rule registered", "rule_id", rule.ID, "enabled", rule.Enabled, "priority", rule.Priority)
	return nil
}

// UpdateRule replaces an existing rule with the same ID.
func (e *Engine) UpdateRule(rule *rules.Rule) error {
	if err := rules.Validate(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.snap.Load()
	if _, exists := current.rules[rule.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}

	next := copyRules(current.rules)
	next[rule.ID] = rule.Clone()
	if err := checkCycles(next); err != nil {
		return err
	}

	e.lint(rule)
	e.publishLocked(next)
	e.logger.Info("rule updated", "rule_id", rule.ID)
	return nil
}

// UnregisterRule removes a rule. It reports whether the rule existed.
func (e *Engine) UnregisterRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.snap.Load()
	if _, exists := current.rules[id]; !exists {
		return false
	}

	next := copyRules(current.rules)
	delete(next, id)
	e.publishLocked(next)
	e.logger.Info("rule unregistered", "rule_id", id)
	return true
}

// SetRuleEnabled enables or disables a rule. Enabling a rule that would
// close a dependency cycle among enabled rules fails with *deps.CycleError.
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.snap.Load()
	existing, ok := current.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if existing.Enabled == enabled {
		return nil
	}

	updated := existing.Clone()
	updated.Enabled = enabled

	next := copyRules(current.rules)
	next[id] = updated
	if enabled {
		if err := checkCycles(next); err != nil {
			return err
		}
	}

	e.publishLocked(next)
	e.logger.Info("rule enabled state changed", "rule_id", id, "enabled", enabled)
	return nil
}

// ReplaceRules swaps the whole rule set. The set is validated as a unit;
// on error the current rules stay in place.
func (e *Engine) ReplaceRules(set []*rules.Rule) error {
	next, err := prepareRuleSet(set)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range set {
		e.lint(rule)
	}
	e.publishLocked(next)
	e.logger.Info("rule set replaced", "rules", len(next))
	return nil
}

// Reload loads rules and rate limit configs from src and installs both as
// one step. The source owns the limits it defines: a limit dropped from the
// source is removed on the next reload, while limits registered through
// RegisterRateLimitConfig are left alone. Counters of limits whose window
// and scope are unchanged carry over. Nothing changes when any rule or limit
// is invalid.
func (e *Engine) Reload(ctx context.Context, src RuleSource) error {
	set, limits, err := src.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	next, err := prepareRuleSet(set)
	if err != nil {
		return err
	}
	if err := ratelimit.ValidateConfigs(limits); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	retire := make([]string, 0, len(e.sourceLimits))
	for id := range e.sourceLimits {
		retire = append(retire, id)
	}
	if err := e.limiter.SwapConfigs(limits, retire); err != nil {
		return err
	}
	owned := make(map[string]bool, len(limits))
	for _, cfg := range limits {
		owned[cfg.ID] = true
	}
	e.sourceLimits = owned

	for _, rule := range set {
		e.lint(rule)
	}
	e.publishLocked(next)
	e.logger.Info("rules reloaded", "rules", len(next), "rate_limits", len(limits))
	return nil
}

// prepareRuleSet validates set and copies it into a map keyed by rule ID.
func prepareRuleSet(set []*rules.Rule) (map[string]*rules.Rule, error) {
	if err := rules.ValidateSet(set); err != nil {
		return nil, err
	}
	next := make(map[string]*rules.Rule, len(set))
	for _, rule := range set {
		next[rule.ID] = rule.Clone()
	}
	if err := checkCycles(next); err != nil {
		return nil, err
	}
	return next, nil
}

// GetRule returns a copy of the rule with the given ID.
func (e *Engine) GetRule(id string) (*rules.Rule, bool) {
	rule, ok := e.snap.Load().rules[id]
	if !ok {
		return nil, false
	}
	return rule.Clone(), true
}

// ListRules returns copies of every registered rule, sorted by ID.
func (e *Engine) ListRules() []*rules.Rule {
	snap := e.snap.Load()
	out := make([]*rules.Rule, 0, len(snap.rules))
	for _, rule := range snap.rules {
		out = append(out, rule.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActiveRules returns copies of the rules that take part in evaluation
// under the given strictness, highest priority first.
func (e *Engine) ListActiveRules(strict bool) []*rules.Rule {
	var out []*rules.Rule
	for _, rule := range e.snap.Load().rules {
		if rule.IsActive(strict) {
			out = append(out, rule.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ExecutionOrder returns the IDs of the active rules in the order they run.
func (e *Engine) ExecutionOrder() []string {
	snap := e.snap.Load()
	ids := make([]string, len(snap.ordered))
	for i, cr := range snap.ordered {
		ids[i] = cr.rule.ID
	}
	return ids
}

// RegisterRateLimitConfig adds or replaces a rate limit config.
func (e *Engine) RegisterRateLimitConfig(cfg ratelimit.Config) error {
	if err := e.limiter.SetConfig(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.publishLocked(e.snap.Load().rules)
	e.logger.Info("rate limit registered", "limit_id", cfg.ID, "scope", cfg.Scope, "window", cfg.Window, "max_requests", cfg.MaxRequests)
	return nil
}

// RemoveRateLimitConfig removes a rate limit config. It reports whether the
// config existed.
func (e *Engine) RemoveRateLimitConfig(id string) bool {
	if !e.limiter.RemoveConfig(id) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.sourceLimits, id)

	e.publishLocked(e.snap.Load().rules)
	e.logger.Info("rate limit removed", "limit_id", id)
	return true
}

// ListRateLimitConfigs returns every rate limit config, sorted by ID.
func (e *Engine) ListRateLimitConfigs() []ratelimit.Config {
	return e.limiter.Configs()
}

// ValidateDependencies checks the dependency graph of every registered rule.
func (e *Engine) ValidateDependencies() deps.Report {
	return deps.Validate(ruleList(e.snap.Load().rules))
}

// SetDependencyAwareOrdering switches between dependency-aware and pure
// priority ordering.
func (e *Engine) SetDependencyAwareOrdering(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dependencyAware == enabled {
		return
	}
	e.dependencyAware = enabled
	e.publishLocked(e.snap.Load().rules)
	e.logger.Info("dependency ordering changed", "dependency_aware", enabled)
}

// DependencyAwareOrdering reports whether dependency-aware ordering is on.
func (e *Engine) DependencyAwareOrdering() bool {
	return e.snap.Load().dependencyAware
}

// DependencyInfo describes a rule's dependencies and dependents.
func (e *Engine) DependencyInfo(id string) (*DependencyInfo, error) {
	snap := e.snap.Load()
	rule, ok := snap.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	graph := deps.NewGraph(ruleList(snap.rules))
	info := &DependencyInfo{
		RuleID:            id,
		DependsOn:         append([]string{}, rule.DependsOn...),
		Dependencies:      append([]string{}, graph.Dependencies(id)...),
		Dependents:        append([]string{}, graph.Dependents(id)...),
		AffectedByDisable: append([]string{}, graph.AffectedByDisable(id)...),
		Position:          -1,
	}
	if pos, ok := snap.position[id]; ok {
		info.Position = pos
	}
	return info, nil
}

// RegisterCustomEvaluator adds a predicate for the custom operator.
// Cached verdicts are dropped because a predicate change can change them.
func (e *Engine) RegisterCustomEvaluator(name string, fn CustomEvaluatorFunc) error {
	if err := e.evaluator.Custom().Register(name, fn); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.publishLocked(e.snap.Load().rules)
	e.logger.Info("custom evaluator registered", "evaluator", name)
	return nil
}

// ClearCache drops every cached verdict.
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
		e.observer.ObserveCacheSize(0)
	}
}

// SetCacheTTL changes the decision cache TTL and returns the effective
// value. TTLs below one second are raised to one second.
func (e *Engine) SetCacheTTL(ttl time.Duration) time.Duration {
	if e.cache == nil {
		return 0
	}
	effective := e.cache.SetTTL(ttl)
	if effective != ttl {
		e.logger.Warn("cache ttl adjusted", "requested", ttl, "effective", effective)
	}
	return effective
}

// CacheStats returns decision cache statistics. A disabled cache reports
// zero values.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}

// publishLocked builds and publishes a snapshot for the given rules. Derived
// caches are invalidated before the snapshot becomes visible.
// Must be called with e.mu held.
func (e *Engine) publishLocked(next map[string]*rules.Rule) {
	e.generation++
	snap := e.buildSnapshot(next)

	e.evaluator.Reset()
	if e.cache != nil {
		e.cache.Invalidate(snap.generation)
		e.observer.ObserveCacheSize(0)
	}
	e.snap.Store(snap)
}

// buildSnapshot orders the active rules and collects the fields the
// fingerprint needs.
func (e *Engine) buildSnapshot(all map[string]*rules.Rule) *snapshot {
	snap := &snapshot{
		generation:      e.generation,
		rules:           all,
		position:        make(map[string]int),
		strict:          e.config.StrictMode,
		dependencyAware: e.dependencyAware,
	}

	var active []*rules.Rule
	for _, rule := range all {
		if rule.IsActive(snap.strict) {
			active = append(active, rule)
		}
	}

	graph := deps.NewGraph(active)
	order, err := graph.Order(snap.dependencyAware)
	if err != nil {
		e.logger.Error("dependency cycle in active rules, falling back to priority order", "error", err)
		order, _ = graph.Order(false)
	}

	fields := make(map[string]bool)
	for i, id := range order {
		rule := all[id]
		snap.ordered = append(snap.ordered, compileRule(rule))
		snap.position[id] = i
		for _, cond := range rule.Conditions {
			if cond.Operator == rules.OperatorCustom {
				snap.usesCustom = true
			}
			fields[cond.Field] = true
		}
	}
	for field := range fields {
		snap.fields = append(snap.fields, field)
	}
	sort.Strings(snap.fields)

	return snap
}

// lint logs authoring warnings for a rule.
func (e *Engine) lint(rule *rules.Rule) {
	for _, w := range rules.Lint(rule, e.config.EngineVersion) {
		e.logger.Warn("rule lint warning", "rule_id", rule.ID, "warning", w)
	}
}

// checkCycles rejects rule sets whose enabled rules form a dependency cycle.
func checkCycles(set map[string]*rules.Rule) error {
	var enabled []*rules.Rule
	for _, rule := range set {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	if cycles := deps.NewGraph(enabled).Cycles(); len(cycles) > 0 {
		return &deps.CycleError{Cycles: cycles}
	}
	return nil
}

func copyRules(src map[string]*rules.Rule) map[string]*rules.Rule {
	dst := make(map[string]*rules.Rule, len(src)+1)
	for id, rule := range src {
		dst[id] = rule
	}
	return dst
}

func ruleList(m map[string]*rules.Rule) []*rules.Rule {
	out := make([]*rules.Rule, 0, len(m))
	for _, rule := range m {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsCycle reports whether err is a dependency cycle rejection.
func IsCycle(err error) bool {
	var ce *deps.CycleError
	return errors.As(err, &ce)
}
