// Package reflector implements the passive half of a measurement: a
// mirror that echoes every datagram it receives back to its sender,
// byte for byte and immediately. All measurement intelligence lives on
// the meter side; the reflector never inspects payloads, so meter and
// reflector versions never need to agree on the probe layout.
package reflector

import (
	"context"
	"errors"
	"time"

	"github.com/andrejnano/mtrip/channel"
	"github.com/andrejnano/mtrip/logging"
	"github.com/andrejnano/mtrip/metrics"
)

// pollTimeout bounds each receive so cancellation of the context is
// observed promptly even when no traffic arrives.
const pollTimeout = 250 * time.Millisecond

// Reflector echoes datagrams on one bound channel. The zero value is not
// usable; construct with New around a channel from channel.Listen.
type Reflector struct {
	ch *channel.Channel
}

// New returns a Reflector that serves on the given bound channel. The
// caller retains ownership of the channel and closes it after Serve
// returns.
func New(ch *channel.Channel) *Reflector {
	return &Reflector{ch: ch}
}

// Serve receives and echoes datagrams until ctx is canceled. Per-datagram
// receive or send failures are logged and the loop continues: one bad
// datagram must never take the service down. Serve returns nil on
// cancellation; the only fatal error, a failed bind, happens before Serve
// in channel.Listen.
func (r *Reflector) Serve(ctx context.Context) error {
	logging.Logger.WithField("addr", r.ch.LocalAddr().String()).Info("reflector: serving")
	defer logging.Logger.Info("reflector: stopped")

	for ctx.Err() == nil {
		payload, sender, err := r.ch.Receive(pollTimeout)
		if errors.Is(err, channel.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logging.Logger.WithError(err).Warn("reflector: receive failed")
			metrics.ErrorCount.WithLabelValues("reflector", "receive").Inc()
			continue
		}
		if err := r.ch.SendTo(payload, sender); err != nil {
			logging.Logger.WithError(err).Warn("reflector: echo failed")
			metrics.ErrorCount.WithLabelValues("reflector", "send").Inc()
			continue
		}
		metrics.ReflectedDatagrams.Inc()
		metrics.ReflectedBytes.Add(float64(len(payload)))
	}
	return nil
}
