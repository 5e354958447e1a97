package engine

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"mercator-hq/arbiter/pkg/rules"
)

var (
	errNoEvaluator    = errors.New("custom evaluator not registered")
	errPatternNotText = errors.New("pattern is not a string")
)

// CustomEvaluatorFunc is a user-supplied predicate for the custom operator.
// It receives the condition and the flattened evaluation context.
type CustomEvaluatorFunc func(cond rules.Condition, ctx map[string]interface{}) (bool, error)

// CustomRegistry maps evaluator names to predicates.
type CustomRegistry struct {
	mu    sync.RWMutex
	funcs map[string]CustomEvaluatorFunc
}

// NewCustomRegistry creates an empty registry.
func NewCustomRegistry() *CustomRegistry {
	return &CustomRegistry{funcs: make(map[string]CustomEvaluatorFunc)}
}

// Register adds or replaces a named predicate.
func (r *CustomRegistry) Register(name string, fn CustomEvaluatorFunc) error {
	if name == "" {
		return fmt.Errorf("%w: custom evaluator name is required", ErrInvalidConfig)
	}
	if fn == nil {
		return fmt.Errorf("%w: custom evaluator %q is nil", ErrInvalidConfig, name)
	}
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
	return nil
}

// Lookup returns the predicate registered under name.
func (r *CustomRegistry) Lookup(name string) (CustomEvaluatorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered evaluator names, sorted.
func (r *CustomRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compiledPattern caches either a compiled regex or its compile error.
type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// Evaluator evaluates single conditions. Compiled patterns and membership
// sets are cached by content and survive until Reset.
type Evaluator struct {
	custom *CustomRegistry

	mu       sync.RWMutex
	patterns map[string]compiledPattern
	sets     map[string]map[string]struct{}
}

// NewEvaluator creates an evaluator. A nil registry gets an empty one.
func NewEvaluator(custom *CustomRegistry) *Evaluator {
	if custom == nil {
		custom = NewCustomRegistry()
	}
	return &Evaluator{
		custom:   custom,
		patterns: make(map[string]compiledPattern),
		sets:     make(map[string]map[string]struct{}),
	}
}

// Custom returns the evaluator's custom registry.
func (e *Evaluator) Custom() *CustomRegistry {
	return e.custom
}

// Reset drops every cached pattern and set.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.patterns = make(map[string]compiledPattern)
	e.sets = make(map[string]map[string]struct{})
	e.mu.Unlock()
}

// CacheSizes returns the number of cached patterns and sets.
func (e *Evaluator) CacheSizes() (patterns, sets int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.patterns), len(e.sets)
}

// Evaluate tests one condition against a flattened context. A non-nil
// Fault means the condition could not be evaluated; the result is then
// false.
func (e *Evaluator) Evaluate(cond rules.Condition, ctx map[string]interface{}) (bool, *Fault) {
	if cond.Operator == rules.OperatorCustom {
		return e.evaluateCustom(cond, ctx)
	}

	actual, present := ResolveField(ctx, cond.Field)

	switch cond.Operator {
	case rules.OperatorExists:
		return present && actual != nil, nil
	case rules.OperatorNotExists:
		return !present || actual == nil, nil
	case rules.OperatorEquals:
		return evaluateEqual(actual, cond.Value), nil
	case rules.OperatorNotEquals:
		return !evaluateEqual(actual, cond.Value), nil
	case rules.OperatorGreaterThan:
		return evaluateGreaterThan(actual, cond.Value), nil
	case rules.OperatorLessThan:
		return evaluateLessThan(actual, cond.Value), nil
	case rules.OperatorContains:
		return evaluateContains(actual, cond.Value), nil
	case rules.OperatorNotContains:
		if !isContainer(actual) {
			return false, nil
		}
		return !evaluateContains(actual, cond.Value), nil
	case rules.OperatorIn:
		return e.member(actual, cond.Value), nil
	case rules.OperatorNotIn:
		return !e.member(actual, cond.Value), nil
	case rules.OperatorMatchRegex:
		return e.evaluateRegex(cond, actual)
	default:
		return false, nil
	}
}

func (e *Evaluator) evaluateRegex(cond rules.Condition, actual interface{}) (bool, *Fault) {
	pattern, ok := cond.Value.(string)
	if !ok {
		return false, &Fault{Kind: FaultRegex, Field: cond.Field, Operator: cond.Operator, Cause: errPatternNotText}
	}
	re, err := e.compile(pattern)
	if err != nil {
		return false, &Fault{Kind: FaultRegex, Field: cond.Field, Operator: cond.Operator, Cause: err}
	}
	s, ok := actual.(string)
	if !ok {
		return false, nil
	}
	return re.MatchString(s), nil
}

// compile returns the cached regex for pattern, compiling it on first use.
// Compile failures are cached too.
func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	cp, ok := e.patterns[pattern]
	e.mu.RUnlock()
	if ok {
		return cp.re, cp.err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		err = fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}

	e.mu.Lock()
	e.patterns[pattern] = compiledPattern{re: re, err: err}
	e.mu.Unlock()
	return re, err
}

// member reports whether actual is an element of the expected array.
func (e *Evaluator) member(actual, expected interface{}) bool {
	set := e.set(expected)
	if set == nil {
		return false
	}
	_, ok := set[memberKey(actual)]
	return ok
}

// set returns the membership set for an array value, building it once per
// distinct array. Non-array values have no set.
func (e *Evaluator) set(expected interface{}) map[string]struct{} {
	if !isSlice(expected) {
		return nil
	}
	key, ok := canonicalJSON(expected)
	if !ok {
		return buildSet(expected)
	}

	e.mu.RLock()
	set, ok := e.sets[key]
	e.mu.RUnlock()
	if ok {
		return set
	}

	set = buildSet(expected)
	e.mu.Lock()
	e.sets[key] = set
	e.mu.Unlock()
	return set
}

func buildSet(expected interface{}) map[string]struct{} {
	rv := reflect.ValueOf(expected)
	set := make(map[string]struct{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		set[memberKey(rv.Index(i).Interface())] = struct{}{}
	}
	return set
}

// evaluateCustom dispatches to a registered predicate. Errors and panics are
// turned into faults.
func (e *Evaluator) evaluateCustom(cond rules.Condition, ctx map[string]interface{}) (result bool, fault *Fault) {
	newFault := func(cause error) *Fault {
		return &Fault{
			Kind:      FaultCustom,
			Field:     cond.Field,
			Operator:  cond.Operator,
			Evaluator: cond.CustomEvaluator,
			Cause:     cause,
		}
	}

	fn, ok := e.custom.Lookup(cond.CustomEvaluator)
	if !ok {
		return false, newFault(errNoEvaluator)
	}

	defer func() {
		if r := recover(); r != nil {
			result = false
			fault = newFault(fmt.Errorf("panic: %v", r))
		}
	}()

	matched, err := fn(cond, ctx)
	if err != nil {
		return false, newFault(err)
	}
	return matched, nil
}
