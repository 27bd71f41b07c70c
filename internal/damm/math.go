package damm

import (
	"math/big"

	"github.com/solsweep/solsweep/internal/model"
)

// Fee-per-liquidity accumulators and checkpoints are Q64.64 against Q64.64
// liquidity, so products are scaled down by 2^128.
var liquidityScale = new(big.Int).Lsh(big.NewInt(1), 128)

// q64 is the Q64.64 unit scale for sqrt prices.
var q64 = new(big.Int).Lsh(big.NewInt(1), 64)

// WithdrawQuote is the pair of raw token amounts a position's total
// liquidity would release at the pool's current price.
type WithdrawQuote struct {
	AmountA uint64
	AmountB uint64
}

// ComputeWithdrawQuote converts total liquidity into withdrawable token
// amounts using the pool's current sqrt price and its min/max bounds.
//
// With liquidity and sqrt prices both Q64.64:
//
//	amountA = L * (sqrtMax - sqrtCur) / (sqrtCur * sqrtMax)
//	amountB = L * (sqrtCur - sqrtMin) / 2^128
func ComputeWithdrawQuote(liquidity *big.Int, pool *model.Pool) WithdrawQuote {
	if liquidity == nil || liquidity.Sign() == 0 || pool == nil {
		return WithdrawQuote{}
	}
	cur, min, max := pool.SqrtPrice, pool.SqrtMinPrice, pool.SqrtMaxPrice
	if cur == nil || min == nil || max == nil || cur.Sign() == 0 {
		return WithdrawQuote{}
	}

	var amountA, amountB uint64
	if max.Cmp(cur) > 0 {
		num := new(big.Int).Sub(max, cur)
		num.Mul(num, liquidity)
		den := new(big.Int).Mul(cur, max)
		amountA = clampUint64(num.Quo(num, den))
	}
	if cur.Cmp(min) > 0 {
		num := new(big.Int).Sub(cur, min)
		num.Mul(num, liquidity)
		amountB = clampUint64(num.Quo(num, liquidityScale))
	}
	return WithdrawQuote{AmountA: amountA, AmountB: amountB}
}

// ComputeUnclaimedFees returns the claimable fee amounts for both tokens:
// settled pending amounts plus the accumulator-vs-checkpoint delta applied
// to the position's total liquidity.
func ComputeUnclaimedFees(pool *model.Pool, pos *model.Position) (feeA, feeB uint64) {
	if pool == nil || pos == nil {
		return 0, 0
	}
	liquidity := pos.TotalLiquidity()
	feeA = unclaimedFee(pos.FeeOwedA, pool.FeeAPerLiquidity, pos.FeeACheckpoint, liquidity)
	feeB = unclaimedFee(pos.FeeOwedB, pool.FeeBPerLiquidity, pos.FeeBCheckpoint, liquidity)
	return feeA, feeB
}

// unclaimedFee applies the delta between the pool's fee-per-liquidity
// accumulator and the position's checkpoint to the position's liquidity,
// then adds the already-settled pending amount.
func unclaimedFee(pending uint64, accumulator, checkpoint, liquidity *big.Int) uint64 {
	total := new(big.Int).SetUint64(pending)
	if accumulator != nil && checkpoint != nil && liquidity != nil && liquidity.Sign() > 0 {
		delta := new(big.Int).Sub(accumulator, checkpoint)
		if delta.Sign() > 0 {
			delta.Mul(delta, liquidity)
			delta.Quo(delta, liquidityScale)
			total.Add(total, delta)
		}
	}
	return clampUint64(total)
}

func clampUint64(v *big.Int) uint64 {
	if v.Sign() <= 0 {
		return 0
	}
	if v.BitLen() > 64 {
		return ^uint64(0)
	}
	return v.Uint64()
}

// SqrtPriceFromRatio builds a Q64.64 sqrt price from a plain float ratio.
// Fixture helper for tests and examples.
func SqrtPriceFromRatio(ratio float64) *big.Int {
	f := new(big.Float).SetPrec(128).SetFloat64(ratio)
	f.Sqrt(f)
	f.Mul(f, new(big.Float).SetInt(q64))
	out, _ := f.Int(nil)
	return out
}
