// Package search implements the rate-search engine, the measurement brain
// of the meter. The engine drives a sequence of probing rounds at
// candidate send rates and converges on the highest rate whose round
// stays at or below the configured loss threshold.
//
// The search has two phases. Bracketing starts at MinRate and doubles the
// rate after every clean round until a round first exceeds the loss
// threshold, establishing a [lastGood, firstBad] interval. Bisection then
// halves that interval, promoting lastGood on clean rounds and lowering
// firstBad on lossy ones, until the interval is narrower than Resolution
// or the time budget runs out. The reported rate is always the best
// confirmed lastGood, never an untested midpoint: under time pressure the
// engine underestimates rather than overestimates.
package search

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/andrejnano/mtrip/channel"
	"github.com/andrejnano/mtrip/logging"
	"github.com/andrejnano/mtrip/metrics"
	"github.com/andrejnano/mtrip/model"
	"github.com/andrejnano/mtrip/probe"
	"github.com/andrejnano/mtrip/tracker"
)

// Channel is the transport surface the engine needs. *channel.Channel
// implements it; tests substitute simulated channels with configurable
// capacity and loss.
type Channel interface {
	Send(b []byte) error
	Receive(timeout time.Duration) ([]byte, net.Addr, error)
}

// Defaults for the tunables the protocol itself does not fix. The loss
// threshold is deliberately nonzero: UDP over real paths shows occasional
// single-datagram noise that says nothing about available bandwidth.
const (
	// DefaultLossThreshold is the per-round loss ratio up to which a
	// rate still counts as sustainable.
	DefaultLossThreshold = 0.02
	// DefaultResolution is the relative bracket width at which the
	// bisection stops.
	DefaultResolution = 0.05
	// DefaultRoundDuration is how long each round paces probes. Shorter
	// rounds yield too few samples for a trustworthy loss ratio.
	DefaultRoundDuration = 500 * time.Millisecond
	// DefaultGrace is how long after the last send a round keeps
	// draining trailing reflections.
	DefaultGrace = 200 * time.Millisecond
	// DefaultMinRate and DefaultMaxRate bound the search in bits/s.
	DefaultMinRate = 1e6
	DefaultMaxRate = 1e9

	// receiveTimeout is the poll granularity of the receiver, chosen so
	// cancellation and round deadlines are observed quickly.
	receiveTimeout = 50 * time.Millisecond
	// roundMargin is slack required on top of a round's worst-case
	// duration before the engine commits to starting it.
	roundMargin = 50 * time.Millisecond
)

// Config carries the engine tunables. Zero fields are replaced by the
// defaults above; ProbeSize is mandatory and must already be validated
// against probe.HeaderSize by the caller.
type Config struct {
	ProbeSize     int
	MinRate       float64
	MaxRate       float64
	LossThreshold float64
	Resolution    float64
	RoundDuration time.Duration
	Grace         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinRate == 0 {
		c.MinRate = DefaultMinRate
	}
	if c.MaxRate == 0 {
		c.MaxRate = DefaultMaxRate
	}
	if c.LossThreshold == 0 {
		c.LossThreshold = DefaultLossThreshold
	}
	if c.Resolution == 0 {
		c.Resolution = DefaultResolution
	}
	if c.RoundDuration == 0 {
		c.RoundDuration = DefaultRoundDuration
	}
	if c.Grace == 0 {
		c.Grace = DefaultGrace
	}
	return c
}

// Outcome is what one full search produces.
type Outcome struct {
	MaxLosslessRateBps float64
	TotalProbesSent    int64
	RoundsRun          int
	MinRTT             time.Duration
	AvgRTT             time.Duration
	MaxRTT             time.Duration
}

// Engine runs one search over one channel. Not safe for concurrent use;
// a session owns exactly one Engine.
type Engine struct {
	cfg   Config
	ch    Channel
	epoch time.Time
	seq   uint32

	probesSent int64
	rounds     int
	rttCount   int64
	rttSum     time.Duration
	rttMin     time.Duration
	rttMax     time.Duration
}

// New returns an Engine probing through ch. The engine's timestamp epoch
// is fixed here; every probe timestamp is microseconds since this moment,
// so reflected timestamps and receive times share one monotonic clock.
func New(ch Channel, cfg Config) *Engine {
	if cfg.ProbeSize < probe.HeaderSize {
		panic("search: probe size below probe header size")
	}
	return &Engine{cfg: cfg.withDefaults(), ch: ch, epoch: time.Now()}
}

// Run performs the search until it converges or the context's deadline
// expires, whichever comes first. The context must carry a deadline: the
// deadline is the session's time budget. Cancellation of the context is
// an abort, returns a nil Outcome, and reports no partial result.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil, errors.New("search: context must carry a deadline")
	}

	lastGood := 0.0
	firstBad := 0.0

	// Phase 1: exponential bracketing.
	rate := e.cfg.MinRate
	for e.roundFits(deadline) {
		res, err := e.round(ctx, rate, "bracket")
		if err != nil {
			return nil, err
		}
		if res == nil {
			return e.outcome(lastGood), nil
		}
		if res.LossRatio <= e.cfg.LossThreshold {
			lastGood = rate
			if rate >= e.cfg.MaxRate {
				// Clean at the ceiling; nothing above it to test.
				return e.outcome(lastGood), nil
			}
			rate = minFloat(rate*2, e.cfg.MaxRate)
			continue
		}
		firstBad = rate
		break
	}
	if firstBad == 0 {
		// Budget ran out while still bracketing.
		return e.outcome(lastGood), nil
	}
	if lastGood == 0 {
		// Even the floor rate is lossy. The search domain is
		// [MinRate, MaxRate]; rates below the floor are not probed.
		return e.outcome(0), nil
	}

	// Phase 2: bisection within [lastGood, firstBad].
	for firstBad-lastGood > e.cfg.Resolution*firstBad && e.roundFits(deadline) {
		mid := (lastGood + firstBad) / 2
		res, err := e.round(ctx, mid, "bisect")
		if err != nil {
			return nil, err
		}
		if res == nil {
			break
		}
		if res.LossRatio <= e.cfg.LossThreshold {
			lastGood = mid
		} else {
			firstBad = mid
		}
	}
	return e.outcome(lastGood), nil
}

// roundFits reports whether one worst-case round still fits before the
// session deadline. Rounds that would not fit are never started, so the
// reported rate is always backed by a completed round.
func (e *Engine) roundFits(deadline time.Time) bool {
	return time.Until(deadline) >= e.cfg.RoundDuration+e.cfg.Grace+roundMargin
}

// round runs one probing round at the given rate, retrying once if the
// round failed to send any probe at all. A nil result with a nil error
// means the budget expired mid-round and the round must be discarded.
func (e *Engine) round(ctx context.Context, rate float64, phase string) (*model.RoundResult, error) {
	res, err := e.runRound(ctx, rate)
	if err != nil || res == nil {
		return res, err
	}
	if res.SentCount == 0 {
		logging.Logger.WithField("rate", rate).Warn("search: round sent no probes, retrying once")
		res, err = e.runRound(ctx, rate)
		if err != nil || res == nil {
			return res, err
		}
		// A second empty round counts as full loss for this rate; the
		// tracker already reports LossRatio 1 for it.
	}

	verdict := "good"
	if res.LossRatio > e.cfg.LossThreshold {
		verdict = "lossy"
	}
	metrics.Rounds.WithLabelValues(phase, verdict).Inc()
	metrics.RoundLossRatio.Observe(res.LossRatio)
	metrics.TestRate.Observe(rate / 1e6)
	logging.Logger.WithFields(log.Fields{
		"phase":    phase,
		"rateMbps": rate / 1e6,
		"sent":     res.SentCount,
		"received": res.ReceivedCount,
		"loss":     res.LossRatio,
	}).Debug("search: round finished")
	return res, nil
}

// runRound paces probes at |rate| for one RoundDuration while a receiver
// drains reflections until the reception deadline (send deadline plus
// Grace). The sent sequence list is written only by the sender, the
// observation list only by the receiver, and both are read only after
// the two goroutines have joined.
func (e *Engine) runRound(ctx context.Context, rate float64) (*model.RoundResult, error) {
	start := time.Now()
	sendDeadline := start.Add(e.cfg.RoundDuration)
	recvDeadline := sendDeadline.Add(e.cfg.Grace)

	var sent []uint32
	var obs []tracker.Observation

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sent = e.sendLoop(ctx, rate, sendDeadline)
	}()
	go func() {
		defer wg.Done()
		obs = e.receiveLoop(ctx, recvDeadline)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, nil // budget expired mid-round; discard it
	}

	tally := tracker.Summarize(sent, obs)
	e.rounds++
	e.probesSent += int64(tally.Sent)
	for _, rtt := range tally.RTTSamples {
		e.recordRTT(rtt)
	}
	return &model.RoundResult{
		AttemptedRateBps: rate,
		SentCount:        tally.Sent,
		ReceivedCount:    tally.Received,
		LossRatio:        tally.LossRatio,
		RTTSamples:       tally.RTTSamples,
	}, nil
}

// sendLoop emits probes paced at |rate| until the deadline and returns
// the sequence numbers actually handed to the channel. Sequence numbers
// increase strictly across the whole session, so reflections of earlier
// rounds can never be mistaken for this round's.
func (e *Engine) sendLoop(ctx context.Context, rate float64, deadline time.Time) []uint32 {
	interval := time.Duration(float64(e.cfg.ProbeSize*8) / rate * float64(time.Second))
	var sent []uint32
	next := time.Now()
	for time.Now().Before(deadline) && ctx.Err() == nil {
		ts := uint64(time.Since(e.epoch) / time.Microsecond)
		b := probe.Encode(e.seq, ts, e.cfg.ProbeSize)
		if err := e.ch.Send(b); err != nil {
			// Transient local failure: skip this probe, keep the round.
			metrics.ErrorCount.WithLabelValues("meter", "send").Inc()
			logging.Logger.WithError(err).Debug("search: send failed")
		} else {
			sent = append(sent, e.seq)
			metrics.ProbesSent.Inc()
		}
		e.seq++

		next = next.Add(interval)
		if d := time.Until(next); d > 0 {
			select {
			case <-ctx.Done():
				return sent
			case <-time.After(d):
			}
		}
	}
	return sent
}

// receiveLoop drains reflections until |deadline| and records one raw
// observation per decodable datagram. It never touches the sent set;
// classification against it happens after the round joins.
func (e *Engine) receiveLoop(ctx context.Context, deadline time.Time) []tracker.Observation {
	var obs []tracker.Observation
	for ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timeout := receiveTimeout
		if remaining < timeout {
			timeout = remaining
		}
		payload, _, err := e.ch.Receive(timeout)
		if errors.Is(err, channel.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.ErrorCount.WithLabelValues("meter", "receive").Inc()
			logging.Logger.WithError(err).Debug("search: receive failed")
			continue
		}
		if len(payload) != e.cfg.ProbeSize {
			metrics.MalformedReflections.Inc()
			continue
		}
		seq, ts, err := probe.Decode(payload)
		if err != nil {
			metrics.MalformedReflections.Inc()
			continue
		}
		rtt := time.Since(e.epoch) - time.Duration(ts)*time.Microsecond
		obs = append(obs, tracker.Observation{
			Seq:  seq,
			RTT:  rtt,
			Late: time.Now().After(deadline),
		})
		metrics.ReflectionsReceived.Inc()
	}
	return obs
}

func (e *Engine) recordRTT(rtt time.Duration) {
	if e.rttCount == 0 || rtt < e.rttMin {
		e.rttMin = rtt
	}
	if rtt > e.rttMax {
		e.rttMax = rtt
	}
	e.rttCount++
	e.rttSum += rtt
}

func (e *Engine) outcome(rate float64) *Outcome {
	out := &Outcome{
		MaxLosslessRateBps: rate,
		TotalProbesSent:    e.probesSent,
		RoundsRun:          e.rounds,
	}
	if e.rttCount > 0 {
		out.MinRTT = e.rttMin
		out.AvgRTT = e.rttSum / time.Duration(e.rttCount)
		out.MaxRTT = e.rttMax
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
