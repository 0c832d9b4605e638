package sweeper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alifzidanr/findmyjowa-render/internal/hub"
	"github.com/alifzidanr/findmyjowa-render/internal/store"
)

const MsgSweepOccurred = "sweep_occurred"

type Broadcaster interface {
	Broadcast(group string, data []byte)
}

type Config struct {
	Interval       time.Duration
	DemotionWindow time.Duration
}

// Sweeper periodically demotes devices that stopped reporting without a
// graceful status change (app killed, connectivity lost). It corrects the
// stored online flag; it is advisory, never authoritative, and a missed
// tick is simply caught up on the next one.
type Sweeper struct {
	store  store.Store
	bus    Broadcaster
	config Config
	logger zerolog.Logger
}

func New(st store.Store, bus Broadcaster, config Config) *Sweeper {
	sw := &Sweeper{store: st, bus: bus, config: config}
	sw.logger = log.With().Str("module", "sweeper").Logger()
	return sw
}

// Run loops until ctx is cancelled. Storage failures are logged and retried
// on the next tick; nothing here may take the process down.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.logger.Info().Dur("interval", sw.config.Interval).Dur("demotion_window", sw.config.DemotionWindow).Msg("starting sweeper")
	ticker := time.NewTicker(sw.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			sw.tick(ctx)
		}
	}
}

func (sw *Sweeper) tick(ctx context.Context) {
	now := time.Now().UTC()
	threshold := now.Add(-sw.config.DemotionWindow)
	devs, err := sw.store.QueryStaleOnlineDevices(ctx, threshold)
	if err != nil {
		sw.logger.Err(err).Msg("stale device query failed, will retry next tick")
		return
	}
	demoted := 0
	offline := false
	for _, dev := range devs {
		err := sw.store.UpdateDevice(ctx, dev.ID, store.DeviceUpdate{Online: &offline})
		if err != nil {
			sw.logger.Err(err).Str("device_id", dev.ID).Msg("demotion failed, will retry next tick")
			continue
		}
		sw.logger.Info().Str("device_id", dev.ID).Time("last_seen", deref(dev.LastSeen)).Msg("device demoted to offline")
		demoted++
	}
	if demoted > 0 {
		data, _ := json.Marshal(struct {
			Type string       `json:"type"`
			Data sweepPayload `json:"data"`
		}{Type: MsgSweepOccurred, Data: sweepPayload{Demoted: demoted, SweptAt: now}})
		sw.bus.Broadcast(hub.GlobalGroup, data)
	}
}

type sweepPayload struct {
	Demoted int       `json:"demoted"`
	SweptAt time.Time `json:"swept_at"`
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
