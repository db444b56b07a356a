// Package model contains the measurement data structures shared by the
// search engine, the meter, and the final report.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RoundResult describes one probing round at one candidate rate. Rounds
// are short lived: the engine consumes each result immediately to decide
// the next rate and only aggregate statistics survive the round.
type RoundResult struct {
	// AttemptedRateBps is the send rate the round was paced at, in
	// bits per second. The achieved rate may be lower when the host
	// cannot keep the pace.
	AttemptedRateBps float64 `json:"AttemptedRateBps"`
	SentCount        int     `json:"SentCount"`
	ReceivedCount    int     `json:"ReceivedCount"`
	LossRatio        float64 `json:"LossRatio"`

	// RTTSamples holds one round-trip sample per matched reflection,
	// measured against the send timestamp echoed back in the payload.
	RTTSamples []time.Duration `json:"-"`
}

// SessionResult is the final artifact of one meter session.
type SessionResult struct {
	UUID               string        `json:"UUID"`
	StartTime          time.Time     `json:"StartTime"`
	MaxLosslessRateBps float64       `json:"MaxLosslessRateBps"`
	TotalProbesSent    int64         `json:"TotalProbesSent"`
	RoundsRun          int           `json:"RoundsRun"`
	TotalDuration      time.Duration `json:"TotalDuration"`

	// RTT statistics aggregated over every matched reflection of the
	// whole session. Zero when no reflection was ever matched.
	MinRTT time.Duration `json:"MinRTT"`
	AvgRTT time.Duration `json:"AvgRTT"`
	MaxRTT time.Duration `json:"MaxRTT"`
}

// Summary renders the minimal textual report printed at the end of a
// measurement.
func (r *SessionResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Measurement %s finished in %.1f s\n", r.UUID, r.TotalDuration.Seconds())
	fmt.Fprintf(&b, "  max lossless rate: %.2f Mbit/s\n", r.MaxLosslessRateBps/1e6)
	fmt.Fprintf(&b, "  probes sent:       %d in %d rounds\n", r.TotalProbesSent, r.RoundsRun)
	if r.MinRTT > 0 {
		fmt.Fprintf(&b, "  round-trip time:   min %.3f ms / avg %.3f ms / max %.3f ms",
			ms(r.MinRTT), ms(r.AvgRTT), ms(r.MaxRTT))
	} else {
		fmt.Fprintf(&b, "  round-trip time:   no samples")
	}
	return b.String()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
