package reliability

import "time"

// slowStartWindowBlocks mirrors SLOW_START_WINDOW_SIZE: the number of
// blocks the pacer allows in flight before any RTT sample exists.
const slowStartWindowBlocks = 2

// Pacer paces outbound octets to sendRate bytes/second, the Go-side
// counterpart of FSP_SRV.h's sendRate_Bpus/quotaLeft pair: a token bucket
// refilled continuously at sendRate and spent by Reserve, rather than a
// fixed per-tick allowance.
type Pacer struct {
	rateBps   float64 // octets per second.
	quota     float64 // octets currently available to spend.
	lastFill  time.Time
	blockSize int
}

// NewPacer seeds the pacer at slow-start: enough quota for
// slowStartWindowBlocks blocks, and a rate derived from blockSize and the
// estimator's current RTO (mirroring sendRate_Bpus's initial
// MAX_BLOCK_SIZE*SLOW_START_WINDOW_SIZE/rtt formula).
func NewPacer(blockSize int, initialRTT time.Duration, now time.Time) *Pacer {
	if initialRTT <= 0 {
		initialRTT = minRTO
	}
	p := &Pacer{
		blockSize: blockSize,
		quota:     float64(blockSize * slowStartWindowBlocks),
		lastFill:  now,
	}
	p.rateBps = float64(blockSize*slowStartWindowBlocks) / initialRTT.Seconds()
	return p
}

// Refill credits the bucket for the time elapsed since the last call.
func (p *Pacer) Refill(now time.Time) {
	elapsed := now.Sub(p.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	p.quota += elapsed * p.rateBps
	cap := p.rateBps // never hold more than one second's worth of credit.
	if p.quota > cap {
		p.quota = cap
	}
	p.lastFill = now
}

// Reserve spends n octets of quota, returning false (and leaving quota
// untouched) if insufficient credit is available yet.
func (p *Pacer) Reserve(n int) bool {
	if p.quota < float64(n) {
		return false
	}
	p.quota -= float64(n)
	return true
}

// OnLoss halves the send rate (multiplicative decrease), the pacer
// equivalent of halving cwnd on a detected loss.
func (p *Pacer) OnLoss() {
	p.rateBps /= 2
	if p.rateBps < float64(p.blockSize) {
		p.rateBps = float64(p.blockSize)
	}
}

// OnRTTSample recomputes the target rate from a fresh RTT sample once slow
// start has ended, the same sendRate_Bpus = window/rtt relation FSP_SRV.h
// uses, generalized to the connection's live in-flight allowance rather
// than the fixed slow-start constant.
func (p *Pacer) OnRTTSample(inFlightBlocks int, rtt time.Duration) {
	if rtt <= 0 || inFlightBlocks <= 0 {
		return
	}
	p.rateBps = float64(p.blockSize*inFlightBlocks) / rtt.Seconds()
}

// Rate returns the current pacing rate in octets/second.
func (p *Pacer) Rate() float64 { return p.rateBps }
