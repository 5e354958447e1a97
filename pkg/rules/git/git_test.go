package git

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-cmp/cmp"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const blockRule = `- id: block-pii
  name: Block PII
  priority: 100
  conditions:
    - field: dataClassification
      operator: equals
      value: pii
  action: deny
`

// commitFile writes name under dir and commits it to repo.
func commitFile(t *testing.T, repo *gogit.Repository, dir, name, content string) {
	t.Helper()

	full := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	if _, err := worktree.Add(filepath.ToSlash(name)); err != nil {
		t.Fatalf("failed to add %s: %v", name, err)
	}
	_, err = worktree.Commit("update "+name, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

// createSourceRepo initializes a repository holding one rule file. go-git
// names the initial branch master.
func createSourceRepo(t *testing.T) (*gogit.Repository, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	commitFile(t, repo, dir, "rules/block.yaml", blockRule)
	return repo, dir
}

func cloneSource(t *testing.T, sourceDir string) *Repository {
	t.Helper()

	repo, err := NewRepository(Config{
		URL:       sourceDir,
		Branch:    "master",
		Path:      "rules",
		LocalPath: filepath.Join(t.TempDir(), "clone"),
		Timeout:   10 * time.Second,
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	if err := repo.Clone(context.Background()); err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	return repo
}

func TestNewAuthProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      AuthConfig
		wantType string
		wantErr  bool
	}{
		{name: "empty means none", cfg: AuthConfig{}, wantType: AuthNone},
		{name: "none", cfg: AuthConfig{Type: "none"}, wantType: AuthNone},
		{name: "token", cfg: AuthConfig{Type: "token", Token: "ghp_x"}, wantType: AuthToken},
		{name: "token missing", cfg: AuthConfig{Type: "token"}, wantErr: true},
		{name: "ssh", cfg: AuthConfig{Type: "ssh", SSHKeyPath: "/keys/id"}, wantType: AuthSSH},
		{name: "ssh missing key", cfg: AuthConfig{Type: "ssh"}, wantErr: true},
		{name: "unknown", cfg: AuthConfig{Type: "kerberos"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewAuthProvider(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAuthProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && provider.Type() != tt.wantType {
				t.Errorf("Type() = %q, want %q", provider.Type(), tt.wantType)
			}
		})
	}
}

func TestTokenAuth_GetAuth(t *testing.T) {
	provider, _ := NewAuthProvider(AuthConfig{Type: AuthToken, Token: "secret"})
	auth, err := provider.GetAuth()
	if err != nil {
		t.Fatalf("GetAuth() error = %v", err)
	}
	basic, ok := auth.(*http.BasicAuth)
	if !ok {
		t.Fatalf("GetAuth() = %T, want *http.BasicAuth", auth)
	}
	if basic.Username != "git" || basic.Password != "secret" {
		t.Errorf("GetAuth() = %+v", basic)
	}

	if auth, err := (NoAuth{}).GetAuth(); auth != nil || err != nil {
		t.Errorf("NoAuth.GetAuth() = %v, %v; want nil, nil", auth, err)
	}
}

func TestSSHAuth_Permissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0o644); err != nil {
		t.Fatal(err)
	}

	provider, _ := NewAuthProvider(AuthConfig{Type: AuthSSH, SSHKeyPath: keyPath})
	_, err := provider.GetAuth()
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("GetAuth() error = %v, want insecure permissions", err)
	}

	if err := os.Chmod(keyPath, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = provider.GetAuth()
	if err == nil || !strings.Contains(err.Error(), "failed to load SSH key") {
		t.Errorf("GetAuth() error = %v, want key parse failure", err)
	}

	missing, _ := NewAuthProvider(AuthConfig{Type: AuthSSH, SSHKeyPath: keyPath + ".missing"})
	if _, err := missing.GetAuth(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("GetAuth() error = %v, want ErrNotExist", err)
	}
}

func TestNewRepository(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "missing url", cfg: Config{}, wantErr: true},
		{name: "negative depth", cfg: Config{URL: "x", Depth: -1}, wantErr: true},
		{name: "negative timeout", cfg: Config{URL: "x", Timeout: -time.Second}, wantErr: true},
		{name: "absolute path", cfg: Config{URL: "x", Path: "/etc"}, wantErr: true},
		{name: "bad auth", cfg: Config{URL: "x", Auth: AuthConfig{Type: "token"}}, wantErr: true},
		{name: "defaults", cfg: Config{URL: "https://example.com/rules.git"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := NewRepository(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRepository() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if repo.config.Branch != "main" || repo.config.Timeout != 30*time.Second || repo.config.LocalPath == "" {
				t.Errorf("defaults not applied: %+v", repo.config)
			}
		})
	}
}

func TestRepository_NotCloned(t *testing.T) {
	repo, _ := NewRepository(Config{URL: "x", LocalPath: t.TempDir()}, quietLogger())

	if _, err := repo.Pull(context.Background()); !errors.Is(err, ErrNotCloned) {
		t.Errorf("Pull() error = %v, want ErrNotCloned", err)
	}
	if _, err := repo.CurrentCommit(); !errors.Is(err, ErrNotCloned) {
		t.Errorf("CurrentCommit() error = %v, want ErrNotCloned", err)
	}
}

func TestRepository_CloneMissingRemote(t *testing.T) {
	repo, _ := NewRepository(Config{
		URL:       filepath.Join(t.TempDir(), "missing"),
		Branch:    "master",
		LocalPath: t.TempDir(),
		Timeout:   5 * time.Second,
	}, quietLogger())

	if err := repo.Clone(context.Background()); err == nil {
		t.Error("Clone() of a missing remote succeeded")
	}
}

func TestRepository_CloneAndPull(t *testing.T) {
	source, sourceDir := createSourceRepo(t)
	repo := cloneSource(t, sourceDir)
	ctx := context.Background()

	commit, err := repo.CurrentCommit()
	if err != nil {
		t.Fatalf("CurrentCommit() error = %v", err)
	}
	if commit.Message != "update rules/block.yaml" || commit.Branch != "master" || len(commit.ShortSHA()) != 8 {
		t.Errorf("CurrentCommit() = %+v", commit)
	}
	if _, err := os.Stat(filepath.Join(repo.RulesPath(), "block.yaml")); err != nil {
		t.Errorf("rule file missing from clone: %v", err)
	}

	result, err := repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if result.HadChanges {
		t.Errorf("Pull() on an up-to-date clone = %+v", result)
	}

	commitFile(t, source, sourceDir, "rules/extra.yaml", blockRule)

	result, err = repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if !result.HadChanges || result.FromSHA == result.ToSHA {
		t.Fatalf("Pull() = %+v, want changes", result)
	}
	if diff := cmp.Diff([]string{"rules/extra.yaml"}, result.ChangedFiles); diff != "" {
		t.Errorf("ChangedFiles mismatch (-want +got):\n%s", diff)
	}

	m := repo.Metrics()
	if m.SuccessfulPulls != 2 || m.LastCommitSHA != result.ToSHA || m.CloneDuration == 0 {
		t.Errorf("Metrics() = %+v", m)
	}

	// A second Clone opens the existing checkout.
	if err := repo.Clone(ctx); err != nil {
		t.Errorf("Clone() of existing checkout error = %v", err)
	}
}

type reloadRecorder struct {
	paths []string
	err   error
}

func (r *reloadRecorder) reload(_ context.Context, path string) error {
	r.paths = append(r.paths, path)
	return r.err
}

func TestNewPoller(t *testing.T) {
	repo, _ := NewRepository(Config{URL: "x"}, quietLogger())
	rec := &reloadRecorder{}

	if _, err := NewPoller(nil, PollerConfig{}, rec.reload, nil); err == nil {
		t.Error("NewPoller() without repository succeeded")
	}
	if _, err := NewPoller(repo, PollerConfig{}, nil, nil); err == nil {
		t.Error("NewPoller() without reload func succeeded")
	}
	if _, err := NewPoller(repo, PollerConfig{Schedule: "every so often"}, rec.reload, nil); err == nil {
		t.Error("NewPoller() with invalid schedule succeeded")
	}

	p, err := NewPoller(repo, PollerConfig{}, rec.reload, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	if p.config.Schedule != DefaultSchedule || len(p.config.Extensions) != 3 {
		t.Errorf("defaults not applied: %+v", p.config)
	}
}

func TestPoller_Poll(t *testing.T) {
	source, sourceDir := createSourceRepo(t)
	repo := cloneSource(t, sourceDir)
	rec := &reloadRecorder{}
	ctx := context.Background()

	p, err := NewPoller(repo, PollerConfig{}, rec.reload, quietLogger())
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	if err := p.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	head, _ := repo.CurrentCommit()
	if p.LastCommit() != head.SHA {
		t.Errorf("LastCommit() = %q, want %q", p.LastCommit(), head.SHA)
	}

	// Nothing new upstream.
	if reloaded, err := p.Poll(ctx); err != nil || reloaded {
		t.Errorf("Poll() = %v, %v; want false, nil", reloaded, err)
	}

	// Commits outside the rules directory do not reload.
	commitFile(t, source, sourceDir, "README.md", "# rules\n")
	if reloaded, err := p.Poll(ctx); err != nil || reloaded {
		t.Errorf("Poll() after README change = %v, %v; want false, nil", reloaded, err)
	}

	commitFile(t, source, sourceDir, "rules/warn.yml", blockRule)
	reloaded, err := p.Poll(ctx)
	if err != nil || !reloaded {
		t.Fatalf("Poll() after rule change = %v, %v; want true, nil", reloaded, err)
	}
	good, _ := repo.CurrentCommit()
	if p.LastCommit() != good.SHA {
		t.Errorf("LastCommit() = %q, want %q", p.LastCommit(), good.SHA)
	}

	// A failing reload keeps the last good commit.
	rec.err = errors.New("invalid rule")
	commitFile(t, source, sourceDir, "rules/bad.yaml", "not: [valid")
	if _, err := p.Poll(ctx); err == nil || !strings.Contains(err.Error(), "invalid rule") {
		t.Errorf("Poll() error = %v, want reload failure", err)
	}
	if p.LastCommit() != good.SHA {
		t.Errorf("LastCommit() after failed reload = %q, want %q", p.LastCommit(), good.SHA)
	}

	want := []string{repo.RulesPath(), repo.RulesPath(), repo.RulesPath()}
	if diff := cmp.Diff(want, rec.paths); diff != "" {
		t.Errorf("reload paths mismatch (-want +got):\n%s", diff)
	}

	m := p.Metrics()
	if m.Polls != 4 || m.SuccessfulReloads != 2 || m.FailedReloads != 1 || m.SkippedChanges != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
}

func TestPoller_StartStop(t *testing.T) {
	_, sourceDir := createSourceRepo(t)
	repo := cloneSource(t, sourceDir)
	rec := &reloadRecorder{}

	p, err := NewPoller(repo, PollerConfig{Schedule: "@every 1h"}, rec.reload, quietLogger())
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}
	if !p.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	p.Stop()
	p.Stop()
	if p.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
