package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"mercator-hq/arbiter/pkg/cli"
	"mercator-hq/arbiter/pkg/policy/engine"
)

func resetEvaluateFlags() {
	evaluateFlags.rules = "testdata/rules"
	evaluateFlags.input = ""
	evaluateFlags.action = ""
	evaluateFlags.category = ""
	evaluateFlags.description = ""
	evaluateFlags.params = nil
	evaluateFlags.agent = ""
	evaluateFlags.session = ""
	evaluateFlags.environment = ""
	evaluateFlags.userRole = ""
	evaluateFlags.userID = ""
	evaluateFlags.classification = ""
	evaluateFlags.strict = false
	evaluateFlags.format = "text"
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return cmd, &buf
}

func TestRunEvaluate_Text(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		wantCode int
		want     []string
	}{
		{
			name: "denied in production",
			setup: func() {
				evaluateFlags.action = "drop_table"
				evaluateFlags.category = "database"
				evaluateFlags.environment = "production"
			},
			wantCode: cli.ExitPolicy,
			want:     []string{"DENIED", "no-prod-deletes", "blocked in production"},
		},
		{
			name: "approved in staging",
			setup: func() {
				evaluateFlags.action = "drop_table"
				evaluateFlags.category = "database"
				evaluateFlags.environment = "staging"
			},
			wantCode: cli.ExitOK,
			want:     []string{"APPROVED"},
		},
		{
			name: "large payment needs approval",
			setup: func() {
				evaluateFlags.action = "transfer"
				evaluateFlags.category = "payment"
				evaluateFlags.params = map[string]string{"amount": "2500"}
			},
			wantCode: cli.ExitOK,
			want:     []string{"PENDING_APPROVAL", "large-payments"},
		},
		{
			name: "small payment approved",
			setup: func() {
				evaluateFlags.action = "transfer"
				evaluateFlags.category = "payment"
				evaluateFlags.params = map[string]string{"amount": "20"}
			},
			wantCode: cli.ExitOK,
			want:     []string{"APPROVED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEvaluateFlags()
			tt.setup()
			cmd, buf := testCommand()

			err := runEvaluate(cmd, nil)
			if got := cli.ExitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err %v)", got, tt.wantCode, err)
			}
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %q:\n%s", want, buf.String())
				}
			}
		})
	}
}

func TestRunEvaluate_InputJSON(t *testing.T) {
	resetEvaluateFlags()
	path := filepath.Join(t.TempDir(), "request.json")
	body := `{"action":{"name":"drop_table","category":"database"},"context":{"environment":"production"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	evaluateFlags.input = path
	evaluateFlags.format = "json"
	cmd, buf := testCommand()

	err := runEvaluate(cmd, nil)
	if cli.ExitCode(err) != cli.ExitPolicy {
		t.Fatalf("err = %v, want policy exit", err)
	}
	var v engine.Verdict
	if err := json.Unmarshal(buf.Bytes(), &v); err != nil {
		t.Fatalf("output is not a verdict: %v\n%s", err, buf.String())
	}
	if v.Status != engine.StatusDenied || len(v.Violations) != 1 {
		t.Errorf("verdict = %+v", v)
	}
}

func TestRunEvaluate_Stdin(t *testing.T) {
	resetEvaluateFlags()
	evaluateFlags.input = "-"
	cmd, buf := testCommand()
	cmd.SetIn(strings.NewReader(`{"action":{"name":"read","category":"database"}}`))

	if err := runEvaluate(cmd, nil); err != nil {
		t.Fatalf("runEvaluate() error = %v", err)
	}
	if !strings.Contains(buf.String(), "APPROVED") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestRunEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
	}{
		{"no action", func() {}},
		{"bad format", func() { evaluateFlags.action = "x"; evaluateFlags.format = "xml" }},
		{"missing rules", func() { evaluateFlags.action = "x"; evaluateFlags.rules = "testdata/nope" }},
		{"invalid rules", func() { evaluateFlags.action = "x"; evaluateFlags.rules = "testdata/invalid" }},
		{"missing input", func() { evaluateFlags.input = "testdata/nope.json" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEvaluateFlags()
			tt.setup()
			cmd, _ := testCommand()
			err := runEvaluate(cmd, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if cli.ExitCode(err) != cli.ExitFailure {
				t.Errorf("exit code = %d, want %d", cli.ExitCode(err), cli.ExitFailure)
			}
		})
	}
}

func TestParseParam(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"2500", float64(2500)},
		{"true", true},
		{"prod", "prod"},
		{`"quoted"`, "quoted"},
	}
	for _, tt := range tests {
		if got := parseParam(tt.in); got != tt.want {
			t.Errorf("parseParam(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
