package discovery

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsweep/solsweep/internal/damm"
	"github.com/solsweep/solsweep/internal/feesched"
	"github.com/solsweep/solsweep/internal/ledger"
	"github.com/solsweep/solsweep/internal/model"
	"github.com/solsweep/solsweep/internal/pacing"
)

// Converter values a raw token amount in reference lamports.
type Converter interface {
	ToLamports(ctx context.Context, mint solana.PublicKey, rawAmount uint64) (uint64, bool)
}

// Service enumerates a wallet's positions and enriches each with claimable
// fees, withdrawable deposit value and the pool's current fee rate. One pass
// per call; a fresh call re-fetches everything.
type Service struct {
	protocol  damm.Operations
	ledger    ledger.Access
	converter Converter
	pacer     *pacing.Pacer
	log       *zap.Logger
}

func New(protocol damm.Operations, access ledger.Access, converter Converter, pacer *pacing.Pacer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if pacer == nil {
		pacer = pacing.NewPacer()
	}
	return &Service{
		protocol:  protocol,
		ledger:    access,
		converter: converter,
		pacer:     pacer,
		log:       log,
	}
}

// Discover returns the wallet's positions in enumeration order, optionally
// scoped to one pool. Per-position processing errors are logged and the
// position skipped; only enumeration-level failures propagate.
func (s *Service) Discover(ctx context.Context, wallet solana.PublicKey, pool *solana.PublicKey) ([]model.Position, error) {
	raw, err := s.protocol.PositionsForWallet(ctx, wallet, pool)
	if err != nil {
		return nil, err
	}

	unixNow, slot, err := s.ledger.CurrentClock(ctx)
	if err != nil {
		return nil, err
	}
	clock := feesched.Clock{UnixNow: unixNow, Slot: slot}

	out := make([]model.Position, 0, len(raw))
	for i := range raw {
		pos := raw[i]
		if err := s.enrich(ctx, &pos, clock); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.log.Warn("skipping position",
				zap.String("position", pos.Address.String()), zap.Error(err))
			continue
		}
		out = append(out, pos)

		if err := s.pacer.Delay(ctx, pacing.Light); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Service) enrich(ctx context.Context, pos *model.Position, clock feesched.Clock) error {
	poolState, err := s.protocol.FetchPool(ctx, pos.Pool)
	if err != nil {
		return err
	}
	if err := s.pacer.Delay(ctx, pacing.Light); err != nil {
		return err
	}

	rate := feesched.Evaluate(&poolState.BaseFee, clock)
	pos.FeeRatePct = rate.Pct
	pos.FeeRateDegraded = rate.Degraded

	pos.FeeOwedA, pos.FeeOwedB = damm.ComputeUnclaimedFees(poolState, pos)

	quote := damm.ComputeWithdrawQuote(pos.TotalLiquidity(), poolState)
	pos.DepositA = quote.AmountA
	pos.DepositB = quote.AmountB

	// Fee valuation stays raw for the non-reference token: quoting dusty
	// fee amounts through the router compounds pricing error, so only the
	// WSOL side contributes lamports here.
	pos.FeeLamports = 0
	if poolState.TokenAMint.Equals(model.WSOLMint) {
		pos.FeeLamports += pos.FeeOwedA
	}
	if poolState.TokenBMint.Equals(model.WSOLMint) {
		pos.FeeLamports += pos.FeeOwedB
	}

	// Deposits are fully valued; an unavailable quote drops that side from
	// the total rather than blocking the position.
	pos.DepositLamports = 0
	if v, ok := s.converter.ToLamports(ctx, poolState.TokenAMint, quote.AmountA); ok {
		pos.DepositLamports += v
	}
	if v, ok := s.converter.ToLamports(ctx, poolState.TokenBMint, quote.AmountB); ok {
		pos.DepositLamports += v
	}
	return nil
}
