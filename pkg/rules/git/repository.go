package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotCloned is returned by operations that need a local clone.
var ErrNotCloned = errors.New("repository not cloned")

// Config describes the rules repository.
type Config struct {
	// URL is the remote to clone. Local paths are accepted.
	URL string `yaml:"url"`

	// Branch to track. Default: main
	Branch string `yaml:"branch"`

	// Path is the rules directory inside the repository. Empty means the root.
	Path string `yaml:"path"`

	// LocalPath is where the clone lives. Default: <tmp>/arbiter-rules
	LocalPath string `yaml:"local_path"`

	// Depth limits clone history. Zero clones everything.
	Depth int `yaml:"depth"`

	// CleanOnStart removes an existing clone before cloning.
	CleanOnStart bool `yaml:"clean_on_start"`

	// Timeout bounds each clone or pull. Default: 30 seconds
	Timeout time.Duration `yaml:"timeout"`

	Auth AuthConfig `yaml:"auth"`
}

// Validate checks that the repository can be addressed.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("repository url is required")
	}
	if c.Depth < 0 {
		return fmt.Errorf("depth must not be negative, got %d", c.Depth)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if filepath.IsAbs(c.Path) {
		return fmt.Errorf("path must be relative to the repository root, got %q", c.Path)
	}
	return nil
}

// Repository keeps a local clone of a rules repository in sync.
type Repository struct {
	config  Config
	auth    AuthProvider
	logger  *slog.Logger
	repo    *gogit.Repository
	mu      sync.RWMutex
	metrics RepositoryMetrics
}

// NewRepository validates cfg and prepares a repository. Nothing is fetched
// until Clone.
func NewRepository(cfg Config, logger *slog.Logger) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	auth, err := NewAuthProvider(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}

	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = filepath.Join(os.TempDir(), "arbiter-rules")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Repository{
		config: cfg,
		auth:   auth,
		logger: logger.With("component", "rules.git", "repository", cfg.URL),
	}, nil
}

// Clone creates the local clone, or opens it if one already exists.
func (r *Repository) Clone(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() { r.metrics.CloneDuration = time.Since(start) }()

	if r.config.CleanOnStart {
		if err := os.RemoveAll(r.config.LocalPath); err != nil {
			return fmt.Errorf("failed to clean existing clone: %w", err)
		}
	}

	if _, err := os.Stat(filepath.Join(r.config.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.config.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to open existing clone: %w", err)
		}
		r.repo = repo
		r.logger.Info("opened existing clone", "path", r.config.LocalPath)
		return nil
	}

	if err := os.MkdirAll(r.config.LocalPath, 0o755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}

	auth, err := r.auth.GetAuth()
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	repo, err := gogit.PlainCloneContext(cloneCtx, r.config.LocalPath, false, &gogit.CloneOptions{
		URL:           r.config.URL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(r.config.Branch),
		SingleBranch:  true,
		Depth:         r.config.Depth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", r.config.URL, err)
	}

	r.repo = repo
	r.logger.Info("cloned rules repository", "branch", r.config.Branch, "path", r.config.LocalPath)
	return nil
}

// Pull fetches and merges the tracked branch. It never force-pulls.
func (r *Repository) Pull(ctx context.Context) (*PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}

	start := time.Now()
	defer func() {
		r.metrics.PullDuration = time.Since(start)
		r.metrics.LastPullTime = time.Now()
	}()

	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	from := head.Hash()

	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	auth, err := r.auth.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	err = worktree.PullContext(pullCtx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.config.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		r.metrics.FailedPulls++
		return nil, fmt.Errorf("failed to pull: %w", err)
	}
	r.metrics.SuccessfulPulls++

	head, err = r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD after pull: %w", err)
	}
	to := head.Hash()

	result := &PullResult{FromSHA: from.String(), ToSHA: to.String(), HadChanges: from != to}
	if result.HadChanges {
		files, err := r.changedFiles(from, to)
		if err != nil {
			return nil, err
		}
		result.ChangedFiles = files
		r.metrics.LastCommitSHA = result.ToSHA
	}
	return result, nil
}

// CurrentCommit describes HEAD.
func (r *Repository) CurrentCommit() (*CommitInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read commit: %w", err)
	}
	return &CommitInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Timestamp: commit.Author.When,
		Message:   commit.Message,
		Branch:    r.config.Branch,
	}, nil
}

// RulesPath is the absolute path of the rules directory in the clone.
func (r *Repository) RulesPath() string {
	return filepath.Join(r.config.LocalPath, r.config.Path)
}

// Metrics returns a copy of the repository metrics.
func (r *Repository) Metrics() RepositoryMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

func (r *Repository) changedFiles(from, to plumbing.Hash) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(from)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", shortSHA(from.String()), err)
	}
	toCommit, err := r.repo.CommitObject(to)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", shortSHA(to.String()), err)
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	files := make([]string, 0, len(changes))
	for _, change := range changes {
		if change.To.Name != "" {
			files = append(files, change.To.Name)
		} else {
			files = append(files, change.From.Name)
		}
	}
	return files, nil
}
