package service

import "time"

// Config carries the protocol's tunable constants. The defaults follow the
// documented protocol values; tests inject millisecond-scale ones.
type Config struct {
	// ThrottleUpdates / ThrottleInterval bound the persistence write rate for
	// intermediate progress: persist after this many unsaved updates or after
	// this much time since the last persisted write, whichever comes first.
	ThrottleUpdates  int
	ThrottleInterval time.Duration

	// Retention is how long a terminal job's record is kept before cleanup.
	Retention time.Duration

	// SweepInterval is the reaper tick.
	SweepInterval time.Duration

	// CloseGrace is the delay between pushing a terminal message and closing
	// the attached connection, letting the final frame flush.
	CloseGrace time.Duration

	// HeartbeatTimeout closes a connection that sent no frame for this long.
	HeartbeatTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ThrottleUpdates:  5,
		ThrottleInterval: 10 * time.Second,
		Retention:        24 * time.Hour,
		SweepInterval:    10 * time.Minute,
		CloseGrace:       1 * time.Second,
		HeartbeatTimeout: 45 * time.Second,
	}
}
