package convert

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsweep/solsweep/internal/model"
	"github.com/solsweep/solsweep/internal/pacing"
	"github.com/solsweep/solsweep/internal/providers/jupiter"
)

// quoteSlippageBps is only used for valuation quotes, never execution.
const quoteSlippageBps = 100

// Quoter is the slice of the swap service the converter needs.
type Quoter interface {
	GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*jupiter.Quote, error)
}

// Service converts raw token quantities into lamports of the reference
// asset. Conversion failures degrade to "unavailable" instead of erroring:
// callers exclude unavailable values from totals and keep going.
type Service struct {
	quoter Quoter
	pacer  *pacing.Pacer
	log    *zap.Logger
}

func New(quoter Quoter, pacer *pacing.Pacer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{quoter: quoter, pacer: pacer, log: log}
}

// ToLamports values rawAmount of mint in lamports. The boolean reports
// availability; a false return must not abort the surrounding batch.
func (s *Service) ToLamports(ctx context.Context, mint solana.PublicKey, rawAmount uint64) (uint64, bool) {
	if rawAmount == 0 {
		return 0, true
	}
	if mint.Equals(model.WSOLMint) {
		return rawAmount, true
	}

	if s.pacer != nil {
		if err := s.pacer.Delay(ctx, pacing.Medium); err != nil {
			return 0, false
		}
	}
	quote, err := s.quoter.GetQuote(ctx, mint, model.WSOLMint, rawAmount, quoteSlippageBps)
	if err != nil {
		s.log.Debug("conversion quote unavailable",
			zap.String("mint", mint.String()), zap.Uint64("amount", rawAmount), zap.Error(err))
		return 0, false
	}
	return quote.OutAmount, true
}
