// Package git keeps the engine's rule set in sync with a Git repository.
//
// A Repository clones the remote with go-git and pulls on demand. A Poller
// pulls on a cron schedule and, when a new commit changes a rule file under
// the configured path, calls a ReloadFunc with the rules directory:
//
//	repo, err := git.NewRepository(git.Config{
//	    URL:    "https://github.com/acme/agent-rules.git",
//	    Branch: "main",
//	    Path:   "rules",
//	    Auth:   git.AuthConfig{Type: git.AuthToken, Token: os.Getenv("GIT_TOKEN")},
//	}, logger)
//	if err := repo.Clone(ctx); err != nil {
//	    return err
//	}
//
//	poller, err := git.NewPoller(repo, git.PollerConfig{Schedule: "@every 1m"},
//	    func(ctx context.Context, dir string) error {
//	        return eng.Reload(ctx, source.NewFileSource(dir, nil, logger))
//	    }, logger)
//	if err := poller.Sync(ctx); err != nil {
//	    return err
//	}
//	poller.Start(ctx)
//
// A failed reload leaves the previous rules active. The next commit that
// touches a rule file triggers another attempt.
package git
