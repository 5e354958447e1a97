package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/arbiter/pkg/cli"
	"mercator-hq/arbiter/pkg/policy/engine"
	"mercator-hq/arbiter/pkg/rules/source"
	"mercator-hq/arbiter/pkg/server"
)

var evaluateFlags struct {
	rules          string
	input          string
	action         string
	category       string
	description    string
	params         map[string]string
	agent          string
	session        string
	environment    string
	userRole       string
	userID         string
	classification string
	strict         bool
	format         string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one action against a rule set",
	Long: `Evaluate one action offline against the rules under --rules and print
the verdict. No server, audit trail or approval workflow is involved.

The action is described with flags, or read as JSON from --input using the
same body as POST /v1/evaluate ("-" reads standard input).

The exit code is 0 when the action is allowed and 2 when it is denied or
rate limited.

Examples:
  # Evaluate from flags
  arbiter evaluate --rules ./rules --action drop_table --category database --env production

  # Pass parameters
  arbiter evaluate --rules ./rules --action transfer --category payment --param amount=2500

  # Read a request body
  arbiter evaluate --rules ./rules --input request.json --format json`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	f := evaluateCmd.Flags()
	f.StringVarP(&evaluateFlags.rules, "rules", "r", "./rules", "rule file or directory")
	f.StringVarP(&evaluateFlags.input, "input", "i", "", "JSON request file, or - for stdin")
	f.StringVarP(&evaluateFlags.action, "action", "a", "", "action name")
	f.StringVar(&evaluateFlags.category, "category", "", "action category")
	f.StringVar(&evaluateFlags.description, "description", "", "action description")
	f.StringToStringVarP(&evaluateFlags.params, "param", "p", nil, "action parameter as key=value (repeatable)")
	f.StringVar(&evaluateFlags.agent, "agent", "", "agent id")
	f.StringVar(&evaluateFlags.session, "session", "", "session id")
	f.StringVar(&evaluateFlags.environment, "env", "", "environment")
	f.StringVar(&evaluateFlags.userRole, "role", "", "user role")
	f.StringVar(&evaluateFlags.userID, "user", "", "user id")
	f.StringVar(&evaluateFlags.classification, "classification", "", "data classification")
	f.BoolVar(&evaluateFlags.strict, "strict", false, "exclude deprecated rules")
	f.StringVar(&evaluateFlags.format, "format", "text", "output format: text, json")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	formatter, err := formatterFor(cmd, evaluateFlags.format)
	if err != nil {
		return err
	}

	action, reqCtx, err := evaluationRequest(cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	cfg := engine.DefaultEngineConfig().
		WithStrictMode(evaluateFlags.strict).
		WithCache(false, 0, 0)
	eng, err := engine.New(cfg, engine.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := eng.Reload(ctx, source.NewFileSource(evaluateFlags.rules, nil, logger)); err != nil {
		return err
	}

	verdict := eng.Evaluate(ctx, action, reqCtx)

	if _, ok := formatter.(*cli.TextFormatter); ok {
		printVerdict(printerFor(cmd), verdict)
	} else if err := formatter.FormatTo(cmd.OutOrStdout(), verdict); err != nil {
		return err
	}

	if !verdict.Allowed {
		return cli.Exit(cli.ExitPolicy)
	}
	return nil
}

// evaluationRequest builds the request from --input or from flags.
func evaluationRequest(stdin io.Reader) (*engine.ActionRequest, *engine.RequestContext, error) {
	if evaluateFlags.input != "" {
		var r io.Reader = stdin
		if evaluateFlags.input != "-" {
			f, err := os.Open(evaluateFlags.input)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open input: %w", err)
			}
			defer f.Close()
			r = f
		}
		var req server.EvaluateRequest
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return nil, nil, fmt.Errorf("failed to decode input: %w", err)
		}
		if req.Action == nil || req.Action.Name == "" {
			return nil, nil, fmt.Errorf("input has no action name")
		}
		return req.Action, req.Context, nil
	}

	if evaluateFlags.action == "" {
		return nil, nil, fmt.Errorf("either --action or --input must be specified")
	}
	action := &engine.ActionRequest{
		Name:        evaluateFlags.action,
		Category:    evaluateFlags.category,
		Description: evaluateFlags.description,
		AgentID:     evaluateFlags.agent,
		SessionID:   evaluateFlags.session,
	}
	if len(evaluateFlags.params) > 0 {
		action.Parameters = make(map[string]interface{}, len(evaluateFlags.params))
		for k, v := range evaluateFlags.params {
			action.Parameters[k] = parseParam(v)
		}
	}
	reqCtx := &engine.RequestContext{
		Environment:        evaluateFlags.environment,
		UserRole:           evaluateFlags.userRole,
		UserID:             evaluateFlags.userID,
		DataClassification: evaluateFlags.classification,
		AgentID:            evaluateFlags.agent,
		SessionID:          evaluateFlags.session,
	}
	return action, reqCtx, nil
}

// parseParam reads numbers, booleans, arrays and objects as JSON. Anything
// else is kept as a string.
func parseParam(v string) interface{} {
	var decoded interface{}
	if err := json.Unmarshal([]byte(v), &decoded); err == nil {
		return decoded
	}
	return v
}

func printVerdict(p *cli.Printer, v *engine.Verdict) {
	p.Outcome(strings.ToUpper(string(v.Status)), severityOf(v.Status))
	p.Field("risk", fmt.Sprintf("%.1f (%s)", v.RiskScore, v.RiskLevel))
	if len(v.AppliedRuleIDs) > 0 {
		p.Field("rules", strings.Join(v.AppliedRuleIDs, ", "))
	}
	if v.ApprovalReason != "" {
		p.Field("approval", v.ApprovalReason)
	}
	if info := v.RateLimitInfo; info != nil {
		p.Field("rate limit", fmt.Sprintf("%s %d/%d, retry after %s", info.LimitID, info.Count, info.Limit, info.RetryAfter))
	}
	for _, violation := range v.Violations {
		p.Fail("%s: %s", violation.RuleID, violation.Message)
	}
	for _, w := range v.Warnings {
		p.Warn("%s", w)
	}
	for _, n := range v.Notices {
		p.Detail("%s", n)
	}
}

func severityOf(s engine.Status) cli.Severity {
	switch s {
	case engine.StatusApproved:
		return cli.SeverityOK
	case engine.StatusPendingApproval, engine.StatusRequiresReview:
		return cli.SeverityWarn
	case engine.StatusDenied, engine.StatusRateLimited:
		return cli.SeverityFail
	default:
		return cli.SeverityInfo
	}
}
