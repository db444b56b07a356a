// Package tracker turns one round's raw send/receive records into loss
// and reordering statistics. Summarize is a pure function over data the
// round's sender and receiver goroutines each built on their own, so the
// two only have to synchronize at the round boundary.
package tracker

import "time"

// Observation is one reflected datagram as seen by the receiver: which
// sequence number came back, how long the round trip took according to
// the timestamp embedded in the reflected payload, and whether it arrived
// after the round's reception deadline.
type Observation struct {
	Seq  uint32
	RTT  time.Duration
	Late bool
}

// Tally summarizes one round.
//
// LossRatio is 1 - |received ∩ sent| / |sent|, where only unique,
// on-time reflections of this round's own probes count as received. A
// round that sent nothing has a LossRatio of 1: an empty round confirms
// nothing, and the search must never promote a rate on its strength.
type Tally struct {
	Sent       int
	Received   int
	Duplicates int
	Stale      int
	Late       int
	Reordered  int
	LossRatio  float64
	RTTSamples []time.Duration
}

// Summarize computes the Tally for a round that sent the given sequence
// numbers and observed the given reflections, in arrival order.
//
// Tolerance rules:
//   - duplicate reflections count once toward Received;
//   - late reflections count as lost, but their RTT samples are kept;
//   - stale reflections (sequence numbers outside this round) are ignored.
func Summarize(sent []uint32, obs []Observation) Tally {
	tally := Tally{Sent: len(sent)}

	window := make(map[uint32]bool, len(sent))
	for _, seq := range sent {
		window[seq] = false
	}

	sawAny := false
	var maxSeq uint32
	for _, o := range obs {
		seen, inWindow := window[o.Seq]
		if !inWindow {
			tally.Stale++
			continue
		}
		if seen {
			tally.Duplicates++
			continue
		}
		window[o.Seq] = true
		tally.RTTSamples = append(tally.RTTSamples, o.RTT)
		if sawAny && o.Seq < maxSeq {
			tally.Reordered++
		}
		if !sawAny || o.Seq > maxSeq {
			maxSeq = o.Seq
			sawAny = true
		}
		if o.Late {
			tally.Late++
			continue
		}
		tally.Received++
	}

	if tally.Sent == 0 {
		tally.LossRatio = 1
		return tally
	}
	tally.LossRatio = 1 - float64(tally.Received)/float64(tally.Sent)
	return tally
}
