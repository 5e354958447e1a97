package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/arbiter/pkg/cli"
	"mercator-hq/arbiter/pkg/policy/deps"
	"mercator-hq/arbiter/pkg/rules"
	"mercator-hq/arbiter/pkg/rules/source"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect rule files",
}

var lintFlags struct {
	strict        bool
	format        string
	engineVersion string
}

var lintCmd = &cobra.Command{
	Use:   "lint [path...]",
	Short: "Validate rule files",
	Long: `Validate rule files for syntax, field and set-level errors.

Each path is a rule file or a directory walked recursively for .yaml, .yml
and .json files. The checks are:
  - YAML/JSON syntax and document shape
  - Rule fields (id, type, priority, risk weight, conditions, actions)
  - Rate limit configs declared in rule files
  - Duplicate rule ids across all files
  - Dependency cycles and dependencies on unknown, disabled or deprecated rules
  - Deprecation and min_version warnings

The exit code is 2 when any error is found, or any warning with --strict.

Examples:
  # Lint a directory
  arbiter rules lint ./rules

  # Treat warnings as errors
  arbiter rules lint ./rules --strict

  # JSON output for CI
  arbiter rules lint ./rules --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: lintRules,
}

var depsFlags struct {
	format string
}

var depsCmd = &cobra.Command{
	Use:   "deps [path]",
	Short: "Show rule execution order and dependency problems",
	Long: `Load the rules under path and print both execution orders (priority
and dependency-aware) together with the dependency validation report.

The exit code is 2 when the report has errors.`,
	Args: cobra.ExactArgs(1),
	RunE: showDeps,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(lintCmd, depsCmd)

	lintCmd.Flags().BoolVar(&lintFlags.strict, "strict", false, "treat warnings as errors")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json")
	lintCmd.Flags().StringVar(&lintFlags.engineVersion, "engine-version", "", "version compared with rule min_version (default: build version)")

	depsCmd.Flags().StringVar(&depsFlags.format, "format", "text", "output format: text, json")
}

// LintReport is the result of linting a set of rule files.
type LintReport struct {
	Valid bool         `json:"valid"`
	Files []FileReport `json:"files"`

	// Set holds problems that span files: duplicate ids and dependencies.
	Set SetReport `json:"set"`
}

// FileReport holds the problems found in one file.
type FileReport struct {
	File       string   `json:"file"`
	Rules      int      `json:"rules"`
	RateLimits int      `json:"rate_limits"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// SetReport holds cross-file problems.
type SetReport struct {
	Errors   []string   `json:"errors,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
	Cycles   [][]string `json:"cycles,omitempty"`
}

func (r *LintReport) counts() (errs, warns int) {
	for _, f := range r.Files {
		errs += len(f.Errors)
		warns += len(f.Warnings)
	}
	return errs + len(r.Set.Errors), warns + len(r.Set.Warnings)
}

func lintRules(cmd *cobra.Command, args []string) error {
	formatter, err := formatterFor(cmd, lintFlags.format)
	if err != nil {
		return err
	}
	version := lintFlags.engineVersion
	if version == "" {
		version = Version
	}

	report, err := lintPaths(args, version)
	if err != nil {
		return err
	}
	errs, warns := report.counts()
	report.Valid = errs == 0 && (!lintFlags.strict || warns == 0)

	if _, ok := formatter.(*cli.TextFormatter); ok {
		printLintReport(printerFor(cmd), report)
	} else if err := formatter.FormatTo(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	if !report.Valid {
		return cli.Exit(cli.ExitPolicy)
	}
	return nil
}

// lintPaths checks every rule file under paths. Only a path that cannot be
// listed is returned as an error; problems in files land in the report.
func lintPaths(paths []string, engineVersion string) (*LintReport, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	report := &LintReport{Files: []FileReport{}}

	var all []*rules.Rule
	for _, path := range paths {
		src := source.NewFileSource(path, nil, logger)
		files, err := src.Files()
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no rule files found under %s", path)
		}

		for _, file := range files {
			fr := FileReport{File: file}
			doc, err := src.LoadFile(file)
			if err != nil {
				fr.Errors = append(fr.Errors, loadErrorMessage(err))
				report.Files = append(report.Files, fr)
				continue
			}
			fr.Rules = len(doc.Rules)
			fr.RateLimits = len(doc.RateLimits)

			for i, rule := range doc.Rules {
				if err := rules.Validate(rule); err != nil {
					fr.Errors = append(fr.Errors, ruleErrors(i, rule, err)...)
					continue
				}
				fr.Warnings = append(fr.Warnings, rules.Lint(rule, engineVersion)...)
				all = append(all, rule)
			}
			for _, cfg := range doc.RateLimits {
				if err := cfg.Validate(); err != nil {
					fr.Errors = append(fr.Errors, fmt.Sprintf("rate limit %q: %v", cfg.ID, err))
				}
			}
			report.Files = append(report.Files, fr)
		}
	}

	seen := make(map[string]bool, len(all))
	for _, rule := range all {
		if seen[rule.ID] {
			report.Set.Errors = append(report.Set.Errors, fmt.Sprintf("duplicate rule id %q", rule.ID))
		}
		seen[rule.ID] = true
	}

	depReport := deps.Validate(all)
	report.Set.Errors = append(report.Set.Errors, depReport.Errors...)
	report.Set.Warnings = append(report.Set.Warnings, depReport.Warnings...)
	report.Set.Cycles = depReport.Cycles
	return report, nil
}

func loadErrorMessage(err error) string {
	var loadErr *source.LoadError
	if errors.As(err, &loadErr) {
		if loadErr.Cause != nil {
			return fmt.Sprintf("%s: %v", loadErr.Message, loadErr.Cause)
		}
		return loadErr.Message
	}
	return err.Error()
}

func ruleErrors(index int, rule *rules.Rule, err error) []string {
	label := fmt.Sprintf("rules[%d]", index)
	if rule != nil && rule.ID != "" {
		label = fmt.Sprintf("rule %q", rule.ID)
	}
	var verr *rules.ValidationError
	if !errors.As(err, &verr) {
		return []string{fmt.Sprintf("%s: %v", label, err)}
	}
	out := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		out = append(out, fmt.Sprintf("%s: %s", label, fe.Error()))
	}
	return out
}

func printLintReport(p *cli.Printer, report *LintReport) {
	for _, f := range report.Files {
		switch {
		case len(f.Errors) > 0:
			p.Fail("%s", f.File)
		case len(f.Warnings) > 0:
			p.Warn("%s (%d rules)", f.File, f.Rules)
		default:
			p.Success("%s (%d rules)", f.File, f.Rules)
		}
		for _, e := range f.Errors {
			p.Detail("error: %s", e)
		}
		for _, w := range f.Warnings {
			p.Detail("warning: %s", w)
		}
	}
	for _, e := range report.Set.Errors {
		p.Fail("%s", e)
	}
	for _, w := range report.Set.Warnings {
		p.Warn("%s", w)
	}

	errs, warns := report.counts()
	summary := fmt.Sprintf("%d files, %d errors, %d warnings", len(report.Files), errs, warns)
	if report.Valid {
		p.Success("%s", summary)
	} else {
		p.Fail("%s", summary)
	}
}

// DepsReport describes rule ordering for a rule set.
type DepsReport struct {
	Rules           int         `json:"rules"`
	PriorityOrder   []string    `json:"priority_order"`
	DependencyOrder []string    `json:"dependency_order,omitempty"`
	Report          deps.Report `json:"report"`
}

func showDeps(cmd *cobra.Command, args []string) error {
	formatter, err := formatterFor(cmd, depsFlags.format)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	set, _, err := source.NewFileSource(args[0], nil, logger).LoadRules(context.Background())
	if err != nil {
		return err
	}
	if err := rules.ValidateSet(set); err != nil {
		return err
	}

	var enabled []*rules.Rule
	for _, r := range set {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	graph := deps.NewGraph(enabled)
	result := DepsReport{Rules: len(set), Report: deps.Validate(set)}
	result.PriorityOrder, _ = graph.Order(false)
	// A cycle leaves DependencyOrder empty; the report carries the cycle.
	result.DependencyOrder, _ = graph.Order(true)

	if _, ok := formatter.(*cli.TextFormatter); ok {
		printDepsReport(printerFor(cmd), result)
	} else if err := formatter.FormatTo(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if !result.Report.Valid() {
		return cli.Exit(cli.ExitPolicy)
	}
	return nil
}

func printDepsReport(p *cli.Printer, r DepsReport) {
	p.Field("rules", r.Rules)
	p.Field("priority", strings.Join(r.PriorityOrder, " → "))
	if len(r.DependencyOrder) > 0 {
		p.Field("dependency", strings.Join(r.DependencyOrder, " → "))
	}
	for _, e := range r.Report.Errors {
		p.Fail("%s", e)
	}
	for _, w := range r.Report.Warnings {
		p.Warn("%s", w)
	}
	if r.Report.Valid() {
		p.Success("dependency graph valid")
	}
}
