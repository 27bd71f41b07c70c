package sweep

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/model"
	"github.com/solsweep/solsweep/internal/pacing"
	"github.com/solsweep/solsweep/internal/providers/jupiter"
)

type fakeProtocol struct {
	pool *model.Pool
}

func (f *fakeProtocol) FetchPool(_ context.Context, addr solana.PublicKey) (*model.Pool, error) {
	if !addr.Equals(f.pool.Address) {
		return nil, clierr.New(clierr.CodeValidation, "unknown pool")
	}
	return f.pool, nil
}

func (f *fakeProtocol) FetchPosition(context.Context, solana.PublicKey) (*model.Position, error) {
	return nil, errors.New("not used")
}

func (f *fakeProtocol) PositionsForWallet(context.Context, solana.PublicKey, *solana.PublicKey) ([]model.Position, error) {
	return nil, errors.New("not used")
}

type fakeLedger struct {
	balances   map[solana.PublicKey]uint64
	failKeys   map[solana.PublicKey]bool
	failFirstN int

	submissions int
	submitted   []*solana.Transaction
}

func (f *fakeLedger) RecentBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1}, nil
}

func (f *fakeLedger) SubmitAndConfirm(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.submissions++
	if f.submissions <= f.failFirstN {
		return solana.Signature{}, clierr.New(clierr.CodeUnavailable, "simulated rejection")
	}
	for _, key := range tx.Message.AccountKeys {
		if f.failKeys[key] {
			return solana.Signature{}, clierr.New(clierr.CodeUnavailable, "simulated rejection")
		}
	}
	f.submitted = append(f.submitted, tx)
	var sig solana.Signature
	sig[0] = byte(f.submissions)
	return sig, nil
}

func (f *fakeLedger) GetTokenBalance(_ context.Context, _, mint solana.PublicKey) (uint64, error) {
	return f.balances[mint], nil
}

type fakeSwapper struct {
	quoteErr error
	quotes   int
}

func (f *fakeSwapper) GetQuote(_ context.Context, inputMint, outputMint solana.PublicKey, amount uint64, _ int) (*jupiter.Quote, error) {
	f.quotes++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &jupiter.Quote{InputMint: inputMint, OutputMint: outputMint, InAmount: amount, OutAmount: amount}, nil
}

func (f *fakeSwapper) BuildSwapTransaction(_ context.Context, signer solana.PublicKey, _ *jupiter.Quote) (*solana.Transaction, error) {
	ix := solana.NewInstruction(solana.MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(signer).WRITE().SIGNER()}, []byte("swap"))
	return solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(signer))
}

type fakeConverter struct {
	worth uint64
	ok    bool
}

func (f fakeConverter) ToLamports(context.Context, solana.PublicKey, uint64) (uint64, bool) {
	return f.worth, f.ok
}

func testPool() *model.Pool {
	return &model.Pool{
		Address:     solana.NewWallet().PublicKey(),
		TokenAMint:  solana.NewWallet().PublicKey(),
		TokenBMint:  model.WSOLMint,
		TokenAVault: solana.NewWallet().PublicKey(),
		TokenBVault: solana.NewWallet().PublicKey(),
	}
}

func testPosition(pool *model.Pool, feeA uint64, liquidity int64) model.Position {
	return model.Position{
		Address:            solana.NewWallet().PublicKey(),
		Pool:               pool.Address,
		NftMint:            solana.NewWallet().PublicKey(),
		NftAccount:         solana.NewWallet().PublicKey(),
		UnlockedLiquidity:  big.NewInt(liquidity),
		VestedLiquidity:    new(big.Int),
		PermanentLiquidity: new(big.Int),
		FeeOwedA:           feeA,
	}
}

func testOrchestrator(pool *model.Pool, l *fakeLedger, sw *fakeSwapper, conv Converter) *Orchestrator {
	if conv == nil {
		conv = fakeConverter{}
	}
	return New(&fakeProtocol{pool: pool}, l, sw, conv,
		pacing.NewPacerWithDelays(0, 0, 0), zap.NewNop())
}

func testSession() Session {
	w := solana.NewWallet()
	return Session{Wallet: w.PublicKey(), Signer: w.PrivateKey}
}

func TestClaimBatchIsolatesFailure(t *testing.T) {
	pool := testPool()
	positions := []model.Position{
		testPosition(pool, 100, 0),
		testPosition(pool, 200, 0),
		testPosition(pool, 300, 0),
	}
	ledger := &fakeLedger{failKeys: map[solana.PublicKey]bool{positions[1].Address: true}}
	o := testOrchestrator(pool, ledger, &fakeSwapper{}, nil)

	run := o.RunClaimBatch(context.Background(), testSession(), positions, Options{})

	if run.Attempted != 3 || run.Succeeded != 2 || run.Failed != 1 {
		t.Fatalf("expected 3/2/1 attempted/succeeded/failed, got %d/%d/%d",
			run.Attempted, run.Succeeded, run.Failed)
	}
	if !run.Results[0].Claimed || run.Results[0].FeeA != 100 {
		t.Fatalf("first position should have claimed 100, got %+v", run.Results[0])
	}
	if run.Results[1].FailedStep != model.StepClaim || run.Results[1].Claimed {
		t.Fatalf("second position should have failed at claim, got %+v", run.Results[1])
	}
	if !run.Results[2].Claimed {
		t.Fatalf("third position must still be attempted after a failure, got %+v", run.Results[2])
	}
	if run.TotalFeeA != 400 {
		t.Fatalf("expected claimed fee total 400, got %d", run.TotalFeeA)
	}
}

func TestClaimFallsBackToSecondInstruction(t *testing.T) {
	pool := testPool()
	positions := []model.Position{testPosition(pool, 50, 0)}
	ledger := &fakeLedger{failFirstN: 1}
	o := testOrchestrator(pool, ledger, &fakeSwapper{}, nil)

	run := o.RunClaimBatch(context.Background(), testSession(), positions, Options{})

	if run.Succeeded != 1 {
		t.Fatalf("expected fallback claim to succeed, got %+v", run.Results[0])
	}
	if ledger.submissions != 2 {
		t.Fatalf("expected primary then fallback submission, got %d", ledger.submissions)
	}
}

func TestClaimSkipsPositionsWithoutFees(t *testing.T) {
	pool := testPool()
	positions := []model.Position{testPosition(pool, 0, 0)}
	ledger := &fakeLedger{}
	o := testOrchestrator(pool, ledger, &fakeSwapper{}, nil)

	run := o.RunClaimBatch(context.Background(), testSession(), positions, Options{})

	if run.Failed != 0 || run.Results[0].Claimed {
		t.Fatalf("fee-less position must not submit a claim, got %+v", run.Results[0])
	}
	if ledger.submissions != 0 {
		t.Fatalf("expected no submissions, got %d", ledger.submissions)
	}
}

func TestCloseBatchClaimsThenWithdraws(t *testing.T) {
	pool := testPool()
	positions := []model.Position{testPosition(pool, 75, 1_000_000)}
	ledger := &fakeLedger{}
	o := testOrchestrator(pool, ledger, &fakeSwapper{}, nil)

	run := o.RunCloseBatch(context.Background(), testSession(), positions, Options{})

	res := run.Results[0]
	if !res.Claimed || !res.Closed || res.CloseTx == "" {
		t.Fatalf("expected claim then close, got %+v", res)
	}
	if ledger.submissions != 2 {
		t.Fatalf("expected claim and withdraw+close submissions, got %d", ledger.submissions)
	}
}

func TestCloseZeroLiquidityUsesDirectClose(t *testing.T) {
	pool := testPool()
	positions := []model.Position{testPosition(pool, 0, 0)}
	ledger := &fakeLedger{}
	o := testOrchestrator(pool, ledger, &fakeSwapper{}, nil)

	run := o.RunCloseBatch(context.Background(), testSession(), positions, Options{})

	res := run.Results[0]
	if res.Claimed || !res.Closed {
		t.Fatalf("expected close without claim, got %+v", res)
	}
	if len(ledger.submitted) != 1 {
		t.Fatalf("expected a single submission, got %d", len(ledger.submitted))
	}
	// Close-only skips the ATA setup and liquidity withdrawal.
	if got := len(ledger.submitted[0].Message.Instructions); got != 1 {
		t.Fatalf("expected a single close instruction, got %d", got)
	}
}

func TestSwapSkipsBalancesBelowWorthThreshold(t *testing.T) {
	pool := testPool()
	positions := []model.Position{testPosition(pool, 0, 0)}
	ledger := &fakeLedger{balances: map[solana.PublicKey]uint64{pool.TokenAMint: 10_000}}
	swapper := &fakeSwapper{}
	o := testOrchestrator(pool, ledger, swapper, fakeConverter{worth: 1_000, ok: true})

	run := o.RunClaimBatch(context.Background(), testSession(), positions, Options{SwapRequested: true})

	res := run.Results[0]
	if res.Failed() || res.Swapped || !res.SwapSkipped {
		t.Fatalf("dust balance should be skipped without failing, got %+v", res)
	}
	if swapper.quotes != 0 {
		t.Fatalf("dust balance must not be quoted for a swap")
	}
}

func TestSwapExecutesForWorthwhileBalance(t *testing.T) {
	pool := testPool()
	positions := []model.Position{testPosition(pool, 0, 0)}
	ledger := &fakeLedger{balances: map[solana.PublicKey]uint64{pool.TokenAMint: 10_000}}
	o := testOrchestrator(pool, ledger, &fakeSwapper{},
		fakeConverter{worth: MinSwapWorthLamports, ok: true})

	run := o.RunClaimBatch(context.Background(), testSession(), positions, Options{SwapRequested: true})

	res := run.Results[0]
	if !res.Swapped || len(res.SwapTx) != 1 {
		t.Fatalf("expected one swap, got %+v", res)
	}
	if res.Failed() {
		t.Fatalf("swap should succeed, got %+v", res)
	}
}

func TestSwapFailureDoesNotUndoClaim(t *testing.T) {
	pool := testPool()
	positions := []model.Position{testPosition(pool, 40, 0)}
	ledger := &fakeLedger{balances: map[solana.PublicKey]uint64{pool.TokenAMint: 10_000}}
	swapper := &fakeSwapper{quoteErr: errors.New("no route")}
	o := testOrchestrator(pool, ledger, swapper,
		fakeConverter{worth: MinSwapWorthLamports, ok: true})

	run := o.RunClaimBatch(context.Background(), testSession(), positions, Options{SwapRequested: true})

	res := run.Results[0]
	if !res.Claimed {
		t.Fatalf("claim outcome must survive a later swap failure, got %+v", res)
	}
	if res.FailedStep != model.StepSwap || res.Error == "" {
		t.Fatalf("expected swap step failure, got %+v", res)
	}
	if run.Failed != 1 {
		t.Fatalf("swap failure counts the position as failed, got %d", run.Failed)
	}
}
