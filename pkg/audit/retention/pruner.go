package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/arbiter/pkg/audit"
)

// Config controls audit retention.
type Config struct {
	// RetentionDays is how long records are kept. Zero keeps them forever.
	RetentionDays int `yaml:"retention_days"`

	// MaxRecords caps the number of stored records. Zero means unlimited.
	MaxRecords int64 `yaml:"max_records"`

	// PruneSchedule is a cron expression, e.g. "0 3 * * *" for 3 AM daily.
	// Empty disables scheduled pruning.
	PruneSchedule string `yaml:"prune_schedule"`

	// ArchiveBeforeDelete writes pruned records to ArchivePath as JSON lines.
	ArchiveBeforeDelete bool   `yaml:"archive_before_delete"`
	ArchivePath         string `yaml:"archive_path"`
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
		ArchivePath:   "data/audit-archive/",
	}
}

// Pruner deletes audit records past the retention period or beyond the
// record cap.
type Pruner struct {
	storage audit.Storage
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewPruner creates a pruner. A nil logger uses slog.Default.
func NewPruner(storage audit.Storage, config *Config, logger *slog.Logger) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		storage: storage,
		config:  config,
		logger:  logger.With("component", "audit.retention"),
		now:     time.Now,
	}
}

// Config returns the pruner configuration.
func (p *Pruner) Config() *Config {
	return p.config
}

// Prune applies the age rule and then the count rule. It returns the total
// number of records deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, &audit.RetentionError{RetentionDays: p.config.RetentionDays, Cause: err}
		}
		total += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("audit pruning completed",
			"deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords)
	} else {
		p.logger.Debug("no audit records pruned")
	}
	return total, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
	query := &audit.Query{EndTime: &cutoff}

	if p.config.ArchiveBeforeDelete {
		if err := p.archiveQuery(ctx, query); err != nil {
			return 0, err
		}
	}
	return p.storage.Delete(ctx, query)
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := p.storage.Count(ctx, nil)
		if err != nil {
			return total, fmt.Errorf("failed to count records: %w", err)
		}
		excess := count - p.config.MaxRecords
		if excess <= 0 {
			return total, nil
		}
		if excess > audit.MaxLimit {
			excess = audit.MaxLimit
		}

		oldest, err := p.storage.Query(ctx, &audit.Query{SortOrder: "asc", Limit: int(excess)})
		if err != nil {
			return total, fmt.Errorf("failed to query oldest records: %w", err)
		}
		if len(oldest) == 0 {
			return total, nil
		}

		if p.config.ArchiveBeforeDelete {
			if err := p.archive(oldest); err != nil {
				return total, err
			}
		}

		// Records sharing the cutoff timestamp go too.
		cutoff := oldest[len(oldest)-1].Timestamp
		deleted, err := p.storage.Delete(ctx, &audit.Query{EndTime: &cutoff})
		if err != nil {
			return total, fmt.Errorf("failed to delete records: %w", err)
		}
		total += deleted
		if deleted == 0 {
			return total, nil
		}
	}
}

func (p *Pruner) archiveQuery(ctx context.Context, query *audit.Query) error {
	for offset := 0; ; offset += audit.MaxLimit {
		q := *query
		q.SortOrder = "asc"
		q.Limit = audit.MaxLimit
		q.Offset = offset

		records, err := p.storage.Query(ctx, &q)
		if err != nil {
			return fmt.Errorf("failed to query records for archiving: %w", err)
		}
		if err := p.archive(records); err != nil {
			return err
		}
		if len(records) < audit.MaxLimit {
			return nil
		}
	}
}

// archive appends records to a dated JSON lines file.
func (p *Pruner) archive(records []*audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := filepath.Join(p.config.ArchivePath, fmt.Sprintf("audit-%s.jsonl", p.now().UTC().Format("2006-01-02")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
	}

	p.logger.Info("audit records archived", "file", name, "count", len(records))
	return nil
}
