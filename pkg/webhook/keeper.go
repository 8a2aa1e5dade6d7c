package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/smsgram/smsgram/pkg/logger"
	"github.com/smsgram/smsgram/pkg/smsgw"
)

// registry is the slice of the gateway the keeper needs.
type registry interface {
	Webhooks(ctx context.Context) ([]smsgw.Webhook, error)
	Register(ctx context.Context, url, event string) error
}

// Keeper re-checks the gateway's webhook registration on a cron schedule.
// Devices that re-enroll lose their webhooks; without this, inbound traffic
// silently stops until someone notices.
type Keeper struct {
	registry registry
	url      string
	cron     string
	gron     *gronx.Gronx
}

func NewKeeper(reg registry, url, cron string) (*Keeper, error) {
	g := gronx.New()
	if !g.IsValid(cron) {
		return nil, fmt.Errorf("webhook: invalid cron expression %q", cron)
	}
	return &Keeper{registry: reg, url: url, cron: cron, gron: g}, nil
}

// Start runs the schedule until ctx is cancelled. Ticks land on wall-clock
// minute boundaries so every cron minute is sampled exactly once.
func (k *Keeper) Start(ctx context.Context) {
	timer := time.NewTimer(untilNextMinute(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(untilNextMinute(time.Now()))
			due, err := k.gron.IsDue(k.cron)
			if err != nil || !due {
				continue
			}
			if err := k.Ensure(ctx); err != nil {
				logger.WarnCF("webhook", "Registration check failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// Ensure registers every missing event subscription for the configured URL.
func (k *Keeper) Ensure(ctx context.Context) error {
	hooks, err := k.registry.Webhooks(ctx)
	if err != nil {
		return err
	}

	for _, event := range missingEvents(hooks, k.url) {
		if err := k.registry.Register(ctx, k.url, event); err != nil {
			return err
		}
		logger.InfoCF("webhook", "Re-registered webhook", map[string]interface{}{
			"url":   k.url,
			"event": event,
		})
	}
	return nil
}

func missingEvents(hooks []smsgw.Webhook, url string) []string {
	registered := map[string]bool{}
	for _, h := range hooks {
		if h.URL == url {
			registered[h.Event] = true
		}
	}

	var missing []string
	for _, event := range smsgw.Events {
		if !registered[event] {
			missing = append(missing, event)
		}
	}
	return missing
}
