package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/arbiter/pkg/policy/engine"
)

// DefaultChannel is the Redis channel rate limit events are published on.
const DefaultChannel = "arbiter:rate_limit_hits"

// RedisConfig configures a RedisNotifier.
type RedisConfig struct {
	// Channel to publish on. Default: DefaultChannel
	Channel string

	// Buffer is the queue capacity. Default: 256
	Buffer int

	// PublishTimeout bounds each PUBLISH. Default: 2 seconds
	PublishTimeout time.Duration
}

// RedisNotifier publishes rate limit events with PUBLISH.
type RedisNotifier struct {
	client *redis.Client
	config RedisConfig
	logger *slog.Logger

	queue     chan *engine.RateLimitEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	published atomic.Int64
	dropped   atomic.Int64
}

// NewRedisNotifier starts the publishing worker.
func NewRedisNotifier(client *redis.Client, config RedisConfig, logger *slog.Logger) *RedisNotifier {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.Buffer <= 0 {
		config.Buffer = 256
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := &RedisNotifier{
		client: client,
		config: config,
		logger: logger.With("component", "notify.redis", "channel", config.Channel),
		queue:  make(chan *engine.RateLimitEvent, config.Buffer),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

// NotifyRateLimitHit queues ev. It never blocks.
func (n *RedisNotifier) NotifyRateLimitHit(ctx context.Context, ev *engine.RateLimitEvent) {
	select {
	case <-n.done:
		n.dropped.Add(1)
		return
	default:
	}

	select {
	case n.queue <- ev:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notification queue full, dropping event", "limit_id", ev.LimitID)
	}
}

// Published returns the number of events published.
func (n *RedisNotifier) Published() int64 { return n.published.Load() }

// Dropped returns the number of events discarded.
func (n *RedisNotifier) Dropped() int64 { return n.dropped.Load() }

// Close publishes queued events and stops the worker. The client is not
// closed.
func (n *RedisNotifier) Close() error {
	n.closeOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
	return nil
}

func (n *RedisNotifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.queue:
			n.publish(ev)
		case <-n.done:
			for {
				select {
				case ev := <-n.queue:
					n.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *RedisNotifier) publish(ev *engine.RateLimitEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("failed to encode rate limit event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.PublishTimeout)
	defer cancel()

	if err := n.client.Publish(ctx, n.config.Channel, payload).Err(); err != nil {
		n.logger.Error("failed to publish rate limit event", "limit_id", ev.LimitID, "error", err)
		return
	}
	n.published.Add(1)
}
