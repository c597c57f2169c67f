// Package redis shares simulation progress and cancellation through Redis,
// so a run can be watched and stopped from another process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/progress"
)

const DefaultPrefix = "biosim:"

var ErrNoProgress = errors.New("redis: no progress reported yet")

type Option func(*Bus)

func WithPrefix(prefix string) Option {
	return func(b *Bus) { b.prefix = prefix }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithTimeout bounds every Redis call made from Report.
func WithTimeout(d time.Duration) Option {
	return func(b *Bus) { b.timeout = d }
}

// Bus publishes progress updates and carries cancel requests for one
// simulation name.
type Bus struct {
	client  *backend.Client
	name    string
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

func New(client *backend.Client, name string, opts ...Option) *Bus {
	b := &Bus{
		client:  client,
		name:    name,
		prefix:  DefaultPrefix,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logging.NewNop()
	}
	return b
}

func (b *Bus) progressChannel() string { return b.prefix + "progress:" + b.name }
func (b *Bus) latestKey() string       { return b.prefix + "latest:" + b.name }
func (b *Bus) cancelChannel() string   { return b.prefix + "cancel:" + b.name }

// Report implements progress.Sink. Failures are logged and dropped.
func (b *Bus) Report(u progress.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		b.log.Error("encode progress failed", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.latestKey(), data, 0)
	pipe.Publish(ctx, b.progressChannel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Warn("publish progress failed", "name", b.name, "err", err)
	}
}

// Latest returns the last update stored by Report.
func (b *Bus) Latest(ctx context.Context) (progress.Update, error) {
	data, err := b.client.Get(ctx, b.latestKey()).Bytes()
	if errors.Is(err, backend.Nil) {
		return progress.Update{}, ErrNoProgress
	}
	if err != nil {
		return progress.Update{}, fmt.Errorf("redis: latest: %w", err)
	}
	var u progress.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return progress.Update{}, fmt.Errorf("redis: latest: %w", err)
	}
	return u, nil
}

// Subscribe streams published updates until ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan progress.Update, error) {
	sub := b.client.Subscribe(ctx, b.progressChannel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	out := make(chan progress.Update)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var u progress.Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					b.log.Warn("bad progress message", "err", err)
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// RequestCancel asks every watcher of this name to cancel its run.
func (b *Bus) RequestCancel(ctx context.Context) error {
	if err := b.client.Publish(ctx, b.cancelChannel(), "cancel").Err(); err != nil {
		return fmt.Errorf("redis: cancel: %w", err)
	}
	return nil
}

// WatchCancel cancels token when a cancel request arrives. The returned
// function stops watching; it is safe to call more than once.
func (b *Bus) WatchCancel(ctx context.Context, token *progress.Token) (func(), error) {
	ctx, stop := context.WithCancel(ctx)
	sub := b.client.Subscribe(ctx, b.cancelChannel())
	if _, err := sub.Receive(ctx); err != nil {
		stop()
		sub.Close()
		return nil, fmt.Errorf("redis: watch cancel: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				b.log.Info("cancel requested", "name", b.name)
				token.Cancel()
			}
		}
	}()

	return func() {
		stop()
		<-done
	}, nil
}
