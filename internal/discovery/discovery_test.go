package discovery

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/solsweep/solsweep/internal/damm"
	"github.com/solsweep/solsweep/internal/ledger"
	"github.com/solsweep/solsweep/internal/model"
	"github.com/solsweep/solsweep/internal/pacing"
)

type fakeProtocol struct {
	positions []model.Position
	pools     map[solana.PublicKey]*model.Pool
	poolCalls int
}

func (f *fakeProtocol) FetchPool(_ context.Context, addr solana.PublicKey) (*model.Pool, error) {
	f.poolCalls++
	pool, ok := f.pools[addr]
	if !ok {
		return nil, errors.New("unknown pool")
	}
	return pool, nil
}

func (f *fakeProtocol) FetchPosition(context.Context, solana.PublicKey) (*model.Position, error) {
	return nil, errors.New("not used")
}

func (f *fakeProtocol) PositionsForWallet(_ context.Context, _ solana.PublicKey, pool *solana.PublicKey) ([]model.Position, error) {
	if pool == nil {
		return append([]model.Position(nil), f.positions...), nil
	}
	out := make([]model.Position, 0)
	for _, p := range f.positions {
		if p.Pool.Equals(*pool) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeClock struct {
	ledger.Access
	unixNow uint64
	slot    uint64
}

func (f *fakeClock) CurrentClock(context.Context) (uint64, uint64, error) {
	return f.unixNow, f.slot, nil
}

type identityConverter struct{}

func (identityConverter) ToLamports(_ context.Context, _ solana.PublicKey, raw uint64) (uint64, bool) {
	return raw, true
}

type unavailableConverter struct{}

func (unavailableConverter) ToLamports(context.Context, solana.PublicKey, uint64) (uint64, bool) {
	return 0, false
}

func solPool() *model.Pool {
	return &model.Pool{
		Address:      solana.NewWallet().PublicKey(),
		TokenAMint:   solana.NewWallet().PublicKey(),
		TokenBMint:   model.WSOLMint,
		TokenAVault:  solana.NewWallet().PublicKey(),
		TokenBVault:  solana.NewWallet().PublicKey(),
		SqrtPrice:    damm.SqrtPriceFromRatio(4),
		SqrtMinPrice: damm.SqrtPriceFromRatio(1),
		SqrtMaxPrice: damm.SqrtPriceFromRatio(16),
		BaseFee: model.BaseFeeSchedule{
			CliffFeeNumerator: 500_000_000,
			NumberOfPeriod:    10,
			PeriodFrequency:   3600,
			ReductionFactor:   50_000_000,
			Mode:              model.FeeSchedulerLinear,
			ActivationPoint:   2_000_000_000,
		},
		FeeAPerLiquidity: new(big.Int).Lsh(big.NewInt(2), 64),
		FeeBPerLiquidity: new(big.Int),
	}
}

func rawPosition(pool *model.Pool, liquidity *big.Int, feeA, feeB uint64) model.Position {
	return model.Position{
		Address:            solana.NewWallet().PublicKey(),
		Pool:               pool.Address,
		NftMint:            solana.NewWallet().PublicKey(),
		NftAccount:         solana.NewWallet().PublicKey(),
		UnlockedLiquidity:  liquidity,
		VestedLiquidity:    new(big.Int),
		PermanentLiquidity: new(big.Int),
		FeeOwedA:           feeA,
		FeeOwedB:           feeB,
		FeeACheckpoint:     new(big.Int),
		FeeBCheckpoint:     new(big.Int),
	}
}

func testService(proto *fakeProtocol, conv Converter) *Service {
	return New(proto, &fakeClock{unixNow: 2_000_000_000 + 10*3600}, conv,
		pacing.NewPacerWithDelays(0, 0, 0), nil)
}

func TestDiscoverEnrichesPositions(t *testing.T) {
	pool := solPool()
	liq := new(big.Int).Lsh(big.NewInt(1000), 64)
	proto := &fakeProtocol{
		positions: []model.Position{rawPosition(pool, liq, 0, 7)},
		pools:     map[solana.PublicKey]*model.Pool{pool.Address: pool},
	}
	s := testService(proto, identityConverter{})

	got, err := s.Discover(context.Background(), solana.NewWallet().PublicKey(), nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one position, got %d", len(got))
	}
	pos := got[0]

	// 10 periods elapsed on a linear schedule: 50% cliff fully reduced.
	if pos.FeeRatePct != 0 || pos.FeeRateDegraded {
		t.Fatalf("expected fully decayed rate, got %f degraded=%v", pos.FeeRatePct, pos.FeeRateDegraded)
	}
	// Checkpoint delta of 2 per unit over 1000 units of liquidity.
	if pos.FeeOwedA != 2000 {
		t.Fatalf("expected accrued fee A 2000, got %d", pos.FeeOwedA)
	}
	if pos.FeeOwedB != 7 {
		t.Fatalf("expected pending fee B 7, got %d", pos.FeeOwedB)
	}
	if pos.DepositA == 0 || pos.DepositB == 0 {
		t.Fatalf("in-range liquidity should quote on both sides, got %d/%d", pos.DepositA, pos.DepositB)
	}
	// Only the WSOL side of the fees is valued in lamports.
	if pos.FeeLamports != 7 {
		t.Fatalf("expected fee lamports 7, got %d", pos.FeeLamports)
	}
	if pos.DepositLamports != pos.DepositA+pos.DepositB {
		t.Fatalf("identity conversion should value both deposit sides, got %d", pos.DepositLamports)
	}
}

func TestDiscoverIncludesZeroLiquidityWithFees(t *testing.T) {
	pool := solPool()
	pool.FeeAPerLiquidity = new(big.Int)
	proto := &fakeProtocol{
		positions: []model.Position{rawPosition(pool, new(big.Int), 0, 12)},
		pools:     map[solana.PublicKey]*model.Pool{pool.Address: pool},
	}
	s := testService(proto, identityConverter{})

	got, err := s.Discover(context.Background(), solana.NewWallet().PublicKey(), nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("a drained position with pending fees must surface, got %d positions", len(got))
	}
	if got[0].DepositA != 0 || got[0].DepositB != 0 {
		t.Fatalf("zero liquidity quotes zero deposit, got %d/%d", got[0].DepositA, got[0].DepositB)
	}
	if !got[0].HasFees() {
		t.Fatalf("pending fees must survive enrichment")
	}
}

func TestDiscoverSkipsPositionWithMissingPool(t *testing.T) {
	good := solPool()
	orphanPool := solana.NewWallet().PublicKey()
	orphan := rawPosition(good, new(big.Int), 0, 0)
	orphan.Pool = orphanPool
	proto := &fakeProtocol{
		positions: []model.Position{
			orphan,
			rawPosition(good, new(big.Int), 3, 0),
		},
		pools: map[solana.PublicKey]*model.Pool{good.Address: good},
	}
	s := testService(proto, identityConverter{})

	got, err := s.Discover(context.Background(), solana.NewWallet().PublicKey(), nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 1 || !got[0].Pool.Equals(good.Address) {
		t.Fatalf("expected the orphaned position skipped, got %d positions", len(got))
	}
}

func TestDiscoverUnavailableQuoteDropsDepositValue(t *testing.T) {
	pool := solPool()
	pool.FeeAPerLiquidity = new(big.Int)
	liq := new(big.Int).Lsh(big.NewInt(1000), 64)
	proto := &fakeProtocol{
		positions: []model.Position{rawPosition(pool, liq, 0, 0)},
		pools:     map[solana.PublicKey]*model.Pool{pool.Address: pool},
	}
	s := testService(proto, unavailableConverter{})

	got, err := s.Discover(context.Background(), solana.NewWallet().PublicKey(), nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got[0].DepositLamports != 0 {
		t.Fatalf("unavailable quotes must not fabricate value, got %d", got[0].DepositLamports)
	}
	if got[0].DepositA == 0 {
		t.Fatalf("raw deposit amounts stay populated when valuation fails")
	}
}

func TestDiscoverIsIdempotent(t *testing.T) {
	pool := solPool()
	liq := new(big.Int).Lsh(big.NewInt(500), 64)
	proto := &fakeProtocol{
		positions: []model.Position{rawPosition(pool, liq, 1, 2)},
		pools:     map[solana.PublicKey]*model.Pool{pool.Address: pool},
	}
	s := testService(proto, identityConverter{})

	first, err := s.Discover(context.Background(), solana.NewWallet().PublicKey(), nil)
	if err != nil {
		t.Fatalf("first discover: %v", err)
	}
	second, err := s.Discover(context.Background(), solana.NewWallet().PublicKey(), nil)
	if err != nil {
		t.Fatalf("second discover: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("repeat discovery changed the result set: %d vs %d", len(first), len(second))
	}
	if first[0].FeeOwedA != second[0].FeeOwedA || first[0].DepositLamports != second[0].DepositLamports {
		t.Fatalf("repeat discovery changed derived values: %+v vs %+v", first[0], second[0])
	}
}
