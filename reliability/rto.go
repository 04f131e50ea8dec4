// Package reliability implements spec §4.5's retransmission and
// acknowledgement engine: an RTT/RTO estimator, a send-rate pacer, and
// SELECTIVE_NACK gap processing layered on top of cb.ControlBlock's send
// and receive rings. The retransmit bookkeeping is grounded on
// github.com/soypat/lneto/tcp's ringTx/sentlist (txqueue.go) — ordered
// per-packet offsets with cumulative-ack retirement — adapted here to
// block-granular cb.BlockRing entries instead of a raw byte ring, since FSP
// blocks (unlike TCP segments) are already fixed-size ring slots. The RTT
// smoothing follows the single round's "(old+new)/2" calibration in
// original_source/src/FSP_SRV/remote.cpp's CalibrateRTT, generalized to the
// RFC 6298 SRTT/RTTVAR pair so repeated samples converge rather than just
// averaging against the most recent one.
package reliability

import "time"

const (
	minRTO = 1 * time.Second
	maxRTO = 60 * time.Second
)

// RTOEstimator tracks smoothed RTT and its variance to derive a
// retransmission timeout, clamped to [1s, 60s] per spec §4.5.
type RTOEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	primed  bool
}

// Sample folds a freshly measured round-trip sample into the estimator.
func (e *RTOEstimator) Sample(rtt time.Duration) {
	if !e.primed {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.primed = true
		return
	}
	diff := e.srtt - rtt
	if diff < 0 {
		diff = -diff
	}
	e.rttvar = (3*e.rttvar + diff) / 4
	e.srtt = (7*e.srtt + rtt) / 8
}

// RTO returns the current retransmission timeout, clamped to [minRTO,
// maxRTO]. Before any sample has been taken it returns minRTO, a
// conservative default for the first few packets of a connection.
func (e *RTOEstimator) RTO() time.Duration {
	if !e.primed {
		return minRTO
	}
	rto := e.srtt + 4*e.rttvar
	switch {
	case rto < minRTO:
		return minRTO
	case rto > maxRTO:
		return maxRTO
	default:
		return rto
	}
}

// SRTT returns the current smoothed round-trip time estimate, or 0 before
// the first sample.
func (e *RTOEstimator) SRTT() time.Duration { return e.srtt }
