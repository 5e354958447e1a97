package git

import "time"

// CommitInfo describes a commit in the rules repository.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Branch    string    `json:"branch"`
}

// ShortSHA returns the first eight characters of the commit hash.
func (c *CommitInfo) ShortSHA() string {
	return shortSHA(c.SHA)
}

// PullResult is the outcome of a Pull.
type PullResult struct {
	FromSHA      string
	ToSHA        string
	HadChanges   bool
	ChangedFiles []string
}

// RepositoryMetrics tracks clone and pull activity.
type RepositoryMetrics struct {
	CloneDuration   time.Duration
	PullDuration    time.Duration
	LastPullTime    time.Time
	SuccessfulPulls int64
	FailedPulls     int64
	LastCommitSHA   string
}

// PollerMetrics tracks poll and reload activity.
type PollerMetrics struct {
	Polls             int64
	SuccessfulReloads int64
	FailedReloads     int64
	SkippedChanges    int64
	LastReloadTime    time.Time
	LastReloadDur     time.Duration
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
