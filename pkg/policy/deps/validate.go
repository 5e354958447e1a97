package deps

import (
	"fmt"
	"sort"
	"strings"

	"mercator-hq/arbiter/pkg/rules"
)

// Report is the result of validating the dependency structure of a rule set.
type Report struct {
	// Errors block evaluation in dependency-aware mode (cycles among
	// enabled rules).
	Errors []string `json:"errors"`

	// Warnings are informational.
	Warnings []string `json:"warnings"`

	// Cycles lists every cycle among enabled rules.
	Cycles [][]string `json:"cycles,omitempty"`
}

// Valid returns true when the report carries no errors.
func (r Report) Valid() bool {
	return len(r.Errors) == 0
}

// Validate inspects all registered rules, enabled or not.
//
// Cycles among enabled rules are errors. Cycles that involve only disabled
// rules, dependencies on unknown rules, and dependencies on disabled or
// deprecated rules are warnings.
func Validate(all []*rules.Rule) Report {
	report := Report{Errors: []string{}, Warnings: []string{}}

	byID := make(map[string]*rules.Rule, len(all))
	var enabled []*rules.Rule
	for _, r := range all {
		if r == nil {
			continue
		}
		byID[r.ID] = r
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	enabledCycles := NewGraph(enabled).Cycles()
	inEnabledCycle := make(map[string]bool)
	for _, cycle := range enabledCycles {
		report.Errors = append(report.Errors, "dependency cycle among enabled rules: "+formatCycle(cycle))
		for _, id := range cycle {
			inEnabledCycle[id] = true
		}
	}
	report.Cycles = enabledCycles

	for _, cycle := range NewGraph(all).Cycles() {
		if containsAny(cycle, inEnabledCycle) {
			continue
		}
		report.Warnings = append(report.Warnings, "dependency cycle among rules not all enabled: "+formatCycle(cycle))
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := byID[id]
		for _, dep := range r.DependsOn {
			target, ok := byID[dep]
			switch {
			case !ok:
				report.Warnings = append(report.Warnings, fmt.Sprintf("rule %q depends on unknown rule %q", id, dep))
			case !target.Enabled && r.Enabled:
				report.Warnings = append(report.Warnings, fmt.Sprintf("rule %q depends on disabled rule %q", id, dep))
			case target.Deprecated:
				report.Warnings = append(report.Warnings, fmt.Sprintf("rule %q depends on deprecated rule %q", id, dep))
			}
		}
	}

	return report
}

func formatCycle(cycle []string) string {
	return strings.Join(append(append([]string(nil), cycle...), cycle[0]), " -> ")
}

func containsAny(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}
