package poll

import (
	"context"
	"log/slog"
	"time"

	"househunter/internal/domain/chat"
)

// Poller is the redundancy layer under the websocket path: on a fixed period
// it fetches the conversation from the REST backend, diffs by id-set and
// feeds anything unseen into the same reconcile entry point the push path
// uses. It runs regardless of transport state; losing messages silently is
// worse than redundant fetches. The period is fixed on purpose: polling
// frequency is a resource/staleness tradeoff, not a failure-responsive one.
type Poller struct {
	Interval time.Duration
	Fetch    func(ctx context.Context) ([]chat.Message, error)
	Seen     func() map[string]struct{}
	Apply    func(msgs []chat.Message)
	Logger   *slog.Logger
}

// Run ticks until ctx is cancelled. Cancelling releases the ticker, so
// switching conversations cannot leak timers.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one fetch-diff-apply pass. Fetch failures are logged and
// skipped; the next tick retries naturally.
func (p *Poller) Tick(ctx context.Context) {
	msgs, err := p.Fetch(ctx)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("poll fetch failed", "error", err)
		}
		return
	}
	seen := p.Seen()
	unseen := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		unseen = append(unseen, m)
	}
	if len(unseen) == 0 {
		return
	}
	p.Apply(unseen)
}
