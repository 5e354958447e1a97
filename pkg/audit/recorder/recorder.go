package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/arbiter/pkg/audit"
	"mercator-hq/arbiter/pkg/policy/engine"
)

// Config configures a Recorder.
type Config struct {
	// Enabled turns recording on. A disabled recorder discards events.
	Enabled bool

	// AsyncBuffer is the queue capacity. Events arriving while the queue is
	// full are dropped. Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds each storage write. Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Stats counts recorder activity.
type Stats struct {
	Enqueued int64
	Written  int64
	Dropped  int64
	Failed   int64
}

// Recorder writes engine audit events to storage from a background worker.
// It implements engine.AuditSink and never blocks the caller.
type Recorder struct {
	storage    audit.Storage
	config     *Config
	recordChan chan *audit.Record
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger

	enqueued atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

var _ engine.AuditSink = (*Recorder)(nil)

// New creates a recorder and starts its worker. A nil logger uses
// slog.Default.
func New(storage audit.Storage, config *Config, logger *slog.Logger) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		recordChan: make(chan *audit.Record, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     logger.With("component", "audit.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"enabled", config.Enabled,
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout)
	return r
}

// Record converts event and queues it. Events are dropped when the queue is
// full or the recorder is closed.
func (r *Recorder) Record(ctx context.Context, event *engine.AuditEvent) {
	if !r.config.Enabled || event == nil {
		return
	}

	select {
	case <-r.done:
		r.dropped.Add(1)
		return
	default:
	}

	record := FromEvent(event)
	select {
	case r.recordChan <- record:
		r.enqueued.Add(1)
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping record",
			"evaluation_id", event.EvaluationID,
			"capacity", r.config.AsyncBuffer)
	}
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Enqueued: r.enqueued.Load(),
		Written:  r.written.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}

// Close drains the queue and waits for pending writes. It does not close the
// storage.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down audit recorder")
		close(r.done)
		r.wg.Wait()
		r.logger.Info("audit recorder shut down", "written", r.written.Load(), "dropped", r.dropped.Load())
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.write(record)
		case <-r.done:
			for {
				select {
				case record := <-r.recordChan:
					r.write(record)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(record *audit.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	record.RecordedAt = start.UTC()
	if err := r.storage.Store(ctx, record); err != nil {
		r.failed.Add(1)
		r.logger.Error("failed to store audit record",
			"record_id", record.ID,
			"evaluation_id", record.EvaluationID,
			"error", err)
		return
	}
	r.written.Add(1)

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write", "record_id", record.ID, "duration_ms", d.Milliseconds())
	}
}

// FromEvent converts an engine audit event into a storable record with a
// fresh id.
func FromEvent(ev *engine.AuditEvent) *audit.Record {
	rec := &audit.Record{
		ID:               uuid.New().String(),
		EvaluationID:     ev.EvaluationID,
		Timestamp:        ev.Timestamp.UTC(),
		ActionName:       ev.ActionName,
		ActionCategory:   ev.ActionCategory,
		AgentID:          ev.AgentID,
		SessionID:        ev.SessionID,
		UserID:           ev.UserID,
		Environment:      ev.Environment,
		Status:           string(ev.Status),
		Allowed:          ev.Allowed,
		RiskScore:        ev.RiskScore,
		AppliedRuleIDs:   append([]string(nil), ev.AppliedRuleIDs...),
		RequiresApproval: ev.RequiresApproval,
		Cached:           ev.Cached,
		Faults:           append([]string(nil), ev.Faults...),
		Duration:         ev.Duration,
	}
	for _, v := range ev.Violations {
		rec.Violations = append(rec.Violations, audit.ViolationRecord{
			RuleID:   v.RuleID,
			RuleName: v.RuleName,
			Message:  v.Message,
			Severity: string(v.Severity),
		})
	}
	return rec
}
