// Package meter orchestrates one full measurement session: validate the
// configuration, open a channel to the remote reflector, drive the rate
// search for the configured duration, and emit the final result.
package meter

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/m-lab/go/warnonerror"

	"github.com/andrejnano/mtrip/channel"
	"github.com/andrejnano/mtrip/logging"
	"github.com/andrejnano/mtrip/model"
	"github.com/andrejnano/mtrip/probe"
	"github.com/andrejnano/mtrip/search"
)

// Config is one session's validated configuration. It is immutable after
// Validate succeeds.
type Config struct {
	Host      string
	Port      int
	ProbeSize int
	Duration  time.Duration

	// Search overrides the engine tunables; the zero value means the
	// documented defaults. The command line does not expose these.
	Search search.Config
}

// Validate reports the first configuration error, before any socket is
// opened.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("remote host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d is outside 1-65535", c.Port)
	}
	if c.ProbeSize <= probe.HeaderSize {
		return fmt.Errorf("probe size %d must exceed the %d byte probe header", c.ProbeSize, probe.HeaderSize)
	}
	if c.ProbeSize > channel.MaxDatagramSize {
		return fmt.Errorf("probe size %d exceeds the %d byte datagram limit", c.ProbeSize, channel.MaxDatagramSize)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("measurement duration must be positive, got %s", c.Duration)
	}
	return nil
}

// Run performs one measurement session and returns its result. The
// session owns one channel for its whole lifetime and releases it on
// every exit path. Cancelling ctx mid-session aborts the search and
// returns the context error; no partial result is ever returned.
func Run(ctx context.Context, cfg Config) (*model.SessionResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ch, err := channel.Dial(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	defer warnonerror.Close(ch, "Could not close the measurement channel")

	searchCfg := cfg.Search
	searchCfg.ProbeSize = cfg.ProbeSize
	engine := search.New(ch, searchCfg)

	start := time.Now()
	logging.Logger.WithFields(log.Fields{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"size":     cfg.ProbeSize,
		"duration": cfg.Duration.String(),
	}).Info("meter: session started")

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	out, err := engine.Run(runCtx)
	if err != nil {
		return nil, err
	}

	return &model.SessionResult{
		UUID:               uuid.NewString(),
		StartTime:          start,
		MaxLosslessRateBps: out.MaxLosslessRateBps,
		TotalProbesSent:    out.TotalProbesSent,
		RoundsRun:          out.RoundsRun,
		TotalDuration:      time.Since(start),
		MinRTT:             out.MinRTT,
		AvgRTT:             out.AvgRTT,
		MaxRTT:             out.MaxRTT,
	}, nil
}
