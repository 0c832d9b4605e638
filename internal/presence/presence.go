package presence

import "time"

// Class is the derived liveness label for a device. It is computed on
// demand from the stored online flag and last-seen timestamp, never stored.
type Class string

const (
	Fresh   Class = "fresh"
	Stale   Class = "stale"
	Offline Class = "offline"
)

type Config struct {
	FreshWindow time.Duration
	StaleWindow time.Duration
}

func DefaultConfig() Config {
	return Config{FreshWindow: 5 * time.Minute, StaleWindow: 30 * time.Minute}
}

// Classify derives the liveness label from the stored state at time now.
// A device whose flag still says online but whose last report is older than
// the stale window classifies as offline even before the sweeper has
// corrected the stored flag.
func (cfg Config) Classify(online bool, lastSeen *time.Time, now time.Time) Class {
	if !online || lastSeen == nil {
		return Offline
	}
	age := now.Sub(*lastSeen)
	if age < cfg.FreshWindow {
		return Fresh
	}
	if age < cfg.StaleWindow {
		return Stale
	}
	return Offline
}
