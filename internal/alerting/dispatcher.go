package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"threatwatch/internal/schema"
)

// DispatcherConfig configures alert dispatch.
type DispatcherConfig struct {
	// MinLevel is the lowest threat level that triggers notification.
	MinLevel schema.ThreatLevel `yaml:"min_level"`

	// DeduplicationWindow suppresses repeat notifications for the same
	// event type and attribution within the window.
	DeduplicationWindow time.Duration `yaml:"deduplication_window"`

	// SendTimeout bounds each channel delivery attempt.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MinLevel:            schema.LevelHigh,
		DeduplicationWindow: 15 * time.Minute,
		SendTimeout:         10 * time.Second,
	}
}

// Dispatcher fans alerts out to channels. When a Redis client is
// provided, deduplication is shared across engine instances; otherwise an
// in-process map is used.
type Dispatcher struct {
	config   DispatcherConfig
	channels []Channel
	rdb      *redis.Client

	mu    sync.Mutex
	dedup map[string]time.Time
}

// NewDispatcher creates a new Dispatcher. rdb may be nil.
func NewDispatcher(cfg DispatcherConfig, rdb *redis.Client) *Dispatcher {
	if cfg.DeduplicationWindow <= 0 {
		cfg.DeduplicationWindow = DefaultDispatcherConfig().DeduplicationWindow
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultDispatcherConfig().SendTimeout
	}
	if cfg.MinLevel == "" {
		cfg.MinLevel = schema.LevelHigh
	}
	return &Dispatcher{
		config: cfg,
		rdb:    rdb,
		dedup:  make(map[string]time.Time),
	}
}

// AddChannel registers a notification channel.
func (d *Dispatcher) AddChannel(channel Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, channel)
	slog.Info("added notification channel", "name", channel.Name())
}

// Notify sends the event to all channels when it meets the level
// threshold. It returns immediately; deliveries run in goroutines and
// failures are logged only. A notification none of the channels manage
// to deliver releases its dedup key so the next detection retries
// instead of being silently suppressed for the whole window.
func (d *Dispatcher) Notify(event *schema.SecurityEvent) {
	if event.ThreatLevel.Rank() < d.config.MinLevel.Rank() {
		return
	}

	d.mu.Lock()
	channels := make([]Channel, len(d.channels))
	copy(channels, d.channels)
	d.mu.Unlock()
	if len(channels) == 0 {
		return
	}

	key := dedupKey(event)
	if d.suppressed(key) {
		slog.Debug("suppressing duplicate alert",
			"type", event.Type,
			"actor", event.Actor,
			"ip", event.IPAddress,
		)
		return
	}

	payload := event.Clone()
	var wg sync.WaitGroup
	var delivered atomic.Int32
	for _, channel := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
			defer cancel()

			if err := ch.Send(ctx, payload); err != nil {
				slog.Error("notification failed",
					"channel", ch.Name(),
					"event_id", payload.ID,
					"error", err,
				)
				return
			}
			delivered.Add(1)
			slog.Debug("notification sent",
				"channel", ch.Name(),
				"event_id", payload.ID,
			)
		}(channel)
	}

	go func() {
		wg.Wait()
		if delivered.Load() == 0 {
			slog.Warn("all notification channels failed, releasing dedup key",
				"event_id", payload.ID,
			)
			d.release(key)
		}
	}()
}

// suppressed checks and records the dedup key. Redis errors fall through
// to the in-process map so dedup degrades rather than blocking
// notification.
func (d *Dispatcher) suppressed(key string) bool {
	if d.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		ok, err := d.rdb.SetNX(ctx, key, "1", d.config.DeduplicationWindow).Result()
		if err == nil {
			return !ok
		}
		slog.Warn("alert dedup via redis failed, using local window", "error", err)
	}

	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.dedup[key]; ok && now.Sub(last) < d.config.DeduplicationWindow {
		return true
	}
	d.dedup[key] = now

	// Opportunistic cleanup keeps the local map bounded.
	if len(d.dedup) > 10000 {
		for k, ts := range d.dedup {
			if now.Sub(ts) >= d.config.DeduplicationWindow {
				delete(d.dedup, k)
			}
		}
	}
	return false
}

// release drops a previously recorded dedup key.
func (d *Dispatcher) release(key string) {
	if d.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := d.rdb.Del(ctx, key).Err(); err != nil {
			slog.Warn("failed to release dedup key in redis", "error", err)
		}
	}

	d.mu.Lock()
	delete(d.dedup, key)
	d.mu.Unlock()
}

func dedupKey(event *schema.SecurityEvent) string {
	return fmt.Sprintf("threatwatch:alert:dedup:%s:%s:%s", event.Type, event.Actor, event.IPAddress)
}
