package filter

import (
	"github.com/solsweep/solsweep/internal/model"
)

// Apply partitions positions into the eligible set and the skipped set with
// a reason per exclusion. Filters run in a fixed order and short-circuit per
// position; each is independently optional and none mutates its input.
//
// The min-fee floor compares raw fee amounts of both tokens against a
// lamport-denominated floor without quoting the non-WSOL side, matching the
// claim flow's historical behavior. Fees denominated in the non-reference
// token are therefore undercounted; see DESIGN.md.
func Apply(positions []model.Position, criteria model.FilterCriteria) (eligible []model.Position, skipped []model.SkippedPosition) {
	eligible = make([]model.Position, 0, len(positions))
	for _, pos := range positions {
		if reason, skip := check(pos, criteria); skip {
			skipped = append(skipped, model.SkippedPosition{Position: pos, Reason: reason})
			continue
		}
		eligible = append(eligible, pos)
	}
	return eligible, skipped
}

func check(pos model.Position, criteria model.FilterCriteria) (model.SkipReason, bool) {
	if criteria.MaxFeeRatePct != nil && pos.FeeRatePct > *criteria.MaxFeeRatePct {
		return model.SkipFeeRate, true
	}
	if criteria.MaxDepositLamports != nil && pos.DepositLamports > *criteria.MaxDepositLamports {
		return model.SkipDeposit, true
	}
	if criteria.MinFeeLamports != nil && pos.FeeOwedA+pos.FeeOwedB < *criteria.MinFeeLamports {
		return model.SkipMinFee, true
	}
	return "", false
}
