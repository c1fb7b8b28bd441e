package health

import (
	"context"
	"errors"
	"fmt"
)

// RecognitionCheck returns a [Checker] that fails when no recognition worker
// is active. counts reports (active, total) workers and is read on every
// probe. A pool running below full strength is degraded but still ready.
func RecognitionCheck(counts func() (active, total int)) Checker {
	return Checker{
		Name: "recognition",
		Check: func(_ context.Context) error {
			active, total := counts()
			if total == 0 {
				return errors.New("no recognition workers configured")
			}
			if active == 0 {
				return fmt.Errorf("all %d recognition workers down", total)
			}
			return nil
		},
	}
}

// Pinger is the subset of a database pool used by [DatabaseCheck].
// *pgxpool.Pool satisfies this interface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck returns a [Checker] that pings the settings database.
func DatabaseCheck(db Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			return db.Ping(ctx)
		},
	}
}

// DiscordCheck returns a [Checker] that reports whether the Discord gateway
// session is up. connected is read on every probe.
func DiscordCheck(connected func() bool) Checker {
	return Checker{
		Name: "discord",
		Check: func(_ context.Context) error {
			if !connected() {
				return errors.New("gateway session down")
			}
			return nil
		},
	}
}
