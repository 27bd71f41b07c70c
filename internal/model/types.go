package model

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// LamportsPerSOL is the unit scale of the reference asset.
const LamportsPerSOL uint64 = 1_000_000_000

// WSOLMint is the wrapped SOL mint, the reference asset for all conversions.
var WSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// FeeSchedulerMode selects how a pool's base fee decays over elapsed periods.
type FeeSchedulerMode uint8

const (
	FeeSchedulerLinear      FeeSchedulerMode = 0
	FeeSchedulerExponential FeeSchedulerMode = 1
)

// BaseFeeSchedule holds the decaying base-fee parameters of a pool.
// ActivationPoint is either a unix timestamp or a slot number depending on
// the pool's activation type; the evaluator disambiguates by magnitude.
type BaseFeeSchedule struct {
	CliffFeeNumerator uint64
	NumberOfPeriod    uint64
	PeriodFrequency   uint64
	ReductionFactor   uint64
	Mode              FeeSchedulerMode
	ActivationPoint   uint64
}

// Pool is a read-only snapshot of a DAMM v2 pool account, decoded and
// validated on ingestion. Sqrt prices are Q64.64 fixed point.
type Pool struct {
	Address      solana.PublicKey
	TokenAMint   solana.PublicKey
	TokenBMint   solana.PublicKey
	TokenAVault  solana.PublicKey
	TokenBVault  solana.PublicKey
	SqrtPrice    *big.Int
	SqrtMinPrice *big.Int
	SqrtMaxPrice *big.Int
	BaseFee      BaseFeeSchedule

	// Per-liquidity fee accumulators, Q64.64 against Q64.64 liquidity.
	FeeAPerLiquidity *big.Int
	FeeBPerLiquidity *big.Int
}

// Position is a read-only snapshot of a wallet's claim on one pool, enriched
// with derived values during discovery. All token amounts are raw integer
// units of their respective mints; the Lamports fields are reference units.
type Position struct {
	Address    solana.PublicKey
	Pool       solana.PublicKey
	NftMint    solana.PublicKey
	NftAccount solana.PublicKey

	UnlockedLiquidity  *big.Int
	VestedLiquidity    *big.Int
	PermanentLiquidity *big.Int

	FeeOwedA uint64
	FeeOwedB uint64

	// Fee-per-liquidity checkpoints recorded at the position's last fee
	// settlement; compared against the pool accumulators.
	FeeACheckpoint *big.Int
	FeeBCheckpoint *big.Int

	// Withdrawable token amounts implied by total liquidity at the pool's
	// current price, raw units.
	DepositA uint64
	DepositB uint64

	// Reference-unit values. Fee lamports are only populated for the WSOL
	// side; deposit lamports are best-effort quoted for both sides and may
	// undercount when a quote was unavailable.
	FeeLamports     uint64
	DepositLamports uint64

	// Current pool fee rate in percent at discovery time.
	FeeRatePct float64
	// FeeRateDegraded marks rates produced by a fallback (missing or
	// unknown schedule data) rather than the real schedule.
	FeeRateDegraded bool
}

// TotalLiquidity returns unlocked + vested + permanently locked liquidity.
func (p *Position) TotalLiquidity() *big.Int {
	total := new(big.Int)
	if p.UnlockedLiquidity != nil {
		total.Add(total, p.UnlockedLiquidity)
	}
	if p.VestedLiquidity != nil {
		total.Add(total, p.VestedLiquidity)
	}
	if p.PermanentLiquidity != nil {
		total.Add(total, p.PermanentLiquidity)
	}
	return total
}

// HasFees reports whether any unclaimed fee amount is pending.
func (p *Position) HasFees() bool { return p.FeeOwedA > 0 || p.FeeOwedB > 0 }

// FilterCriteria carries the optional economic filters applied before a
// batch. A nil field disables that filter.
type FilterCriteria struct {
	// MaxFeeRatePct skips positions whose pool currently charges more than
	// this percentage.
	MaxFeeRatePct *float64
	// MinFeeLamports skips positions whose pending fees sum below this
	// floor (inclusive). Claim flow only.
	MinFeeLamports *uint64
	// MaxDepositLamports skips positions whose withdrawable deposit value
	// exceeds this ceiling.
	MaxDepositLamports *uint64
}

// SkipReason names the filter that excluded a position.
type SkipReason string

const (
	SkipFeeRate    SkipReason = "fee_rate_above_ceiling"
	SkipDeposit    SkipReason = "deposit_above_ceiling"
	SkipMinFee     SkipReason = "fees_below_floor"
)

// SkippedPosition pairs a filtered-out position with the reason.
type SkippedPosition struct {
	Position Position
	Reason   SkipReason
}

// Step identifies one stage of the per-position lifecycle.
type Step string

const (
	StepClaim Step = "claim"
	StepClose Step = "close"
	StepSwap  Step = "swap"
)

// OperationResult records the outcome of processing one position.
type OperationResult struct {
	Position solana.PublicKey `json:"position"`
	Pool     solana.PublicKey `json:"pool"`

	Claimed     bool `json:"claimed"`
	Closed      bool `json:"closed"`
	Swapped     bool `json:"swapped"`
	SwapSkipped bool `json:"swap_skipped,omitempty"`

	ClaimTx []string `json:"claim_tx,omitempty"`
	CloseTx string   `json:"close_tx,omitempty"`
	SwapTx  []string `json:"swap_tx,omitempty"`

	FeeA uint64 `json:"fee_a"`
	FeeB uint64 `json:"fee_b"`

	// Filtered distinguishes "never attempted" from "attempted and failed".
	Filtered   bool   `json:"filtered,omitempty"`
	FailedStep Step   `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether any attempted step errored.
func (r *OperationResult) Failed() bool { return r.FailedStep != "" }

// AggregateRun is the accumulated outcome of one batch.
type AggregateRun struct {
	Kind      string            `json:"kind"`
	Wallet    solana.PublicKey  `json:"wallet"`
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	TotalFeeA uint64            `json:"total_fee_a"`
	TotalFeeB uint64            `json:"total_fee_b"`
	Results   []OperationResult `json:"results"`
}

// Record folds one position outcome into the aggregate.
func (a *AggregateRun) Record(res OperationResult) {
	a.Results = append(a.Results, res)
	if res.Filtered {
		return
	}
	a.Attempted++
	if res.Failed() {
		a.Failed++
	} else {
		a.Succeeded++
	}
	a.TotalFeeA += res.FeeA
	a.TotalFeeB += res.FeeB
}
