package feesched

import (
	"math/big"

	"github.com/solsweep/solsweep/internal/model"
)

// FeeDenominator is the protocol's fee numerator scale: a numerator of 1e9
// means a 100% fee.
const FeeDenominator uint64 = 1_000_000_000

// FallbackRatePct is returned when schedule data is absent. Deliberately
// high so that a fee-rate ceiling filter defaults to skipping the pool
// instead of sweeping it blind.
const FallbackRatePct = 25.0

// timestampThreshold disambiguates activation points: slot numbers sit in
// the hundreds of millions while unix timestamps are past 1.6e9.
const timestampThreshold uint64 = 1_000_000_000

// Clock supplies the chain's current wall-clock time and slot height so the
// evaluator can match whichever unit the pool's activation point uses.
type Clock struct {
	UnixNow uint64
	Slot    uint64
}

// Rate is the evaluated fee rate for a pool.
type Rate struct {
	Pct float64
	// Degraded marks values produced by a fallback rather than the real
	// schedule (missing data or unknown scheduler mode).
	Degraded bool
}

// Evaluate computes the pool's current base-fee percentage from its decaying
// schedule. The numerator is non-increasing over elapsed periods, floored at
// zero, and stops decaying after NumberOfPeriod periods.
func Evaluate(sched *model.BaseFeeSchedule, clock Clock) Rate {
	if sched == nil || sched.CliffFeeNumerator == 0 {
		return Rate{Pct: FallbackRatePct, Degraded: true}
	}

	now := clock.Slot
	if sched.ActivationPoint >= timestampThreshold {
		now = clock.UnixNow
	}

	numerator, degraded := currentNumerator(sched, now)
	pct := float64(numerator) / float64(FeeDenominator) * 100
	if pct < 0 {
		pct = 0
	}
	return Rate{Pct: pct, Degraded: degraded}
}

func currentNumerator(sched *model.BaseFeeSchedule, now uint64) (uint64, bool) {
	var elapsed uint64
	if now > sched.ActivationPoint {
		elapsed = now - sched.ActivationPoint
	}

	var elapsedPeriods uint64
	if sched.PeriodFrequency > 0 {
		elapsedPeriods = elapsed / sched.PeriodFrequency
	}
	if elapsedPeriods > sched.NumberOfPeriod {
		elapsedPeriods = sched.NumberOfPeriod
	}

	switch sched.Mode {
	case model.FeeSchedulerLinear:
		reduction := new(big.Int).Mul(
			new(big.Int).SetUint64(sched.ReductionFactor),
			new(big.Int).SetUint64(elapsedPeriods),
		)
		cliff := new(big.Int).SetUint64(sched.CliffFeeNumerator)
		if reduction.Cmp(cliff) >= 0 {
			return 0, false
		}
		return cliff.Sub(cliff, reduction).Uint64(), false
	case model.FeeSchedulerExponential:
		return exponentialNumerator(sched.CliffFeeNumerator, sched.ReductionFactor, elapsedPeriods), false
	default:
		// Unknown scheduler mode: no decay applied.
		return sched.CliffFeeNumerator, true
	}
}

// exponentialNumerator computes cliff * (1 - reduction/10000)^periods using
// basis-point rational arithmetic to stay exact in integer space.
func exponentialNumerator(cliff, reductionBps, periods uint64) uint64 {
	if reductionBps >= 10_000 {
		return 0
	}
	const bpsMax = 10_000
	num := new(big.Int).SetUint64(cliff)
	keep := new(big.Int).SetUint64(bpsMax - reductionBps)
	scale := new(big.Int).SetUint64(bpsMax)
	for i := uint64(0); i < periods; i++ {
		num.Mul(num, keep)
		num.Quo(num, scale)
		if num.Sign() == 0 {
			return 0
		}
	}
	return num.Uint64()
}
