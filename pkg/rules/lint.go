package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Lint returns authoring warnings for a rule. Warnings never block
// registration. engineVersion is compared against MinVersion; pass an empty
// string to skip the version check.
func Lint(rule *Rule, engineVersion string) []string {
	if rule == nil {
		return nil
	}

	var warnings []string

	if !rule.HasConditions() {
		warnings = append(warnings, fmt.Sprintf("rule %q has no conditions and matches every action", rule.ID))
	}

	if rule.Deprecated {
		warnings = append(warnings, DeprecationNotice(rule))
	}

	if rule.MinVersion != "" && engineVersion != "" && CompareVersions(rule.MinVersion, engineVersion) > 0 {
		warnings = append(warnings, fmt.Sprintf("rule %q requires engine version %s (running %s)", rule.ID, rule.MinVersion, engineVersion))
	}

	seen := make(map[string]bool, len(rule.DependsOn))
	for _, dep := range rule.DependsOn {
		if seen[dep] {
			warnings = append(warnings, fmt.Sprintf("rule %q lists dependency %q more than once", rule.ID, dep))
		}
		seen[dep] = true
	}

	if len(rule.Actions) == 0 {
		warnings = append(warnings, fmt.Sprintf("rule %q has no actions", rule.ID))
	}

	return warnings
}

// DeprecationNotice formats the lifecycle message surfaced for a deprecated rule.
func DeprecationNotice(rule *Rule) string {
	msg := fmt.Sprintf("rule %q is deprecated", rule.ID)
	if rule.DeprecatedMessage != "" {
		msg += ": " + rule.DeprecatedMessage
	}
	if rule.ReplacedBy != "" {
		msg += fmt.Sprintf(" (replaced by %q)", rule.ReplacedBy)
	}
	return msg
}

// CompareVersions compares two dotted numeric versions ("1.4", "v2.0.1").
// It returns -1, 0 or 1. Non-numeric segments compare as zero and
// pre-release suffixes are ignored.
func CompareVersions(a, b string) int {
	pa := versionParts(a)
	pb := versionParts(b)
	for len(pa) < len(pb) {
		pa = append(pa, 0)
	}
	for len(pb) < len(pa) {
		pb = append(pb, 0)
	}
	for i := range pa {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

func versionParts(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if idx := strings.IndexAny(v, "-+"); idx >= 0 {
		v = v[:idx]
	}
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err == nil {
			parts[i] = n
		}
	}
	return parts
}
