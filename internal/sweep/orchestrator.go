package sweep

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsweep/solsweep/internal/damm"
	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/model"
	"github.com/solsweep/solsweep/internal/pacing"
	"github.com/solsweep/solsweep/internal/providers/jupiter"
)

// MinSwapWorthLamports is the default dust threshold: balances worth less
// than this in the reference asset are not worth a swap's fees.
const MinSwapWorthLamports uint64 = 150_000_000 // 0.15 SOL

// Ledger is the mutation-side ledger surface the orchestrator needs.
// Satisfied by ledger.Client.
type Ledger interface {
	RecentBlockhash(ctx context.Context) (solana.Hash, error)
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
}

// SwapService quotes and assembles swap transactions.
type SwapService interface {
	GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*jupiter.Quote, error)
	BuildSwapTransaction(ctx context.Context, signer solana.PublicKey, quote *jupiter.Quote) (*solana.Transaction, error)
}

// Converter values raw token amounts in reference lamports.
type Converter interface {
	ToLamports(ctx context.Context, mint solana.PublicKey, rawAmount uint64) (uint64, bool)
}

// Session binds the selected wallet and its signing key to a batch; there is
// no ambient global wallet state.
type Session struct {
	Wallet solana.PublicKey
	Signer solana.PrivateKey
}

// Options tune a single batch invocation.
type Options struct {
	SwapRequested bool
	SlippageBps   int
	// MinSwapWorth overrides the dust threshold when positive.
	MinSwapWorth uint64
}

func (o Options) minWorth() uint64 {
	if o.MinSwapWorth > 0 {
		return o.MinSwapWorth
	}
	return MinSwapWorthLamports
}

// Orchestrator executes the per-position lifecycle strictly sequentially:
// claim, withdraw+close, then optional swaps. One position's failure never
// stops the batch, and mutating calls are never auto-retried.
type Orchestrator struct {
	protocol  damm.Operations
	ledger    Ledger
	swapper   SwapService
	converter Converter
	pacer     *pacing.Pacer
	log       *zap.Logger
}

func New(protocol damm.Operations, l Ledger, swapper SwapService, converter Converter, pacer *pacing.Pacer, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if pacer == nil {
		pacer = pacing.NewPacer()
	}
	return &Orchestrator{
		protocol:  protocol,
		ledger:    l,
		swapper:   swapper,
		converter: converter,
		pacer:     pacer,
		log:       log,
	}
}

// RunClaimBatch claims pending fees for every eligible position, optionally
// swapping claimed non-reference tokens into SOL afterwards.
func (o *Orchestrator) RunClaimBatch(ctx context.Context, session Session, eligible []model.Position, opts Options) model.AggregateRun {
	run := model.AggregateRun{Kind: "claim", Wallet: session.Wallet}
	for i := range eligible {
		pos := &eligible[i]
		res := o.processPosition(ctx, session, pos, opts, false)
		run.Record(res)
		if err := o.pacer.Delay(ctx, pacing.Heavy); err != nil {
			break
		}
	}
	return run
}

// RunCloseBatch claims fees, withdraws all liquidity and closes the account
// for every eligible position, optionally swapping the proceeds.
func (o *Orchestrator) RunCloseBatch(ctx context.Context, session Session, eligible []model.Position, opts Options) model.AggregateRun {
	run := model.AggregateRun{Kind: "close", Wallet: session.Wallet}
	for i := range eligible {
		pos := &eligible[i]
		res := o.processPosition(ctx, session, pos, opts, true)
		run.Record(res)
		if err := o.pacer.Delay(ctx, pacing.Heavy); err != nil {
			break
		}
	}
	return run
}

// processPosition walks one position through the lifecycle state machine.
// Claim failures stop the position before withdraw/close; close failures do
// not roll back the claim (claiming is not reversible).
func (o *Orchestrator) processPosition(ctx context.Context, session Session, pos *model.Position, opts Options, closing bool) model.OperationResult {
	res := model.OperationResult{Position: pos.Address, Pool: pos.Pool}

	pool, err := o.protocol.FetchPool(ctx, pos.Pool)
	if err != nil {
		res.FailedStep = model.StepClaim
		res.Error = err.Error()
		return res
	}

	if pos.HasFees() {
		sig, err := o.claimFees(ctx, session, pool, pos)
		if err != nil {
			res.FailedStep = model.StepClaim
			res.Error = err.Error()
			return res
		}
		res.Claimed = true
		res.ClaimTx = append(res.ClaimTx, sig.String())
		res.FeeA = pos.FeeOwedA
		res.FeeB = pos.FeeOwedB
	}

	if closing {
		sig, err := o.closePosition(ctx, session, pool, pos)
		if err != nil {
			res.FailedStep = model.StepClose
			res.Error = err.Error()
			return res
		}
		res.Closed = true
		res.CloseTx = sig.String()
	}

	if opts.SwapRequested {
		o.swapProceeds(ctx, session, pool, opts, &res)
	}
	return res
}

// claimFees tries the primary claim instruction and falls back to the v2
// variant, reporting both errors when neither lands. Exactly one variant's
// transaction is submitted per attempt.
func (o *Orchestrator) claimFees(ctx context.Context, session Session, pool *model.Pool, pos *model.Position) (solana.Signature, error) {
	acc, err := o.instructionAccounts(session, pool, pos)
	if err != nil {
		return solana.Signature{}, err
	}

	primary, err := damm.BuildClaimFeesInstruction(acc)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, primaryErr := o.submit(ctx, session, o.withAtaSetup(session, pool, primary)...)
	if primaryErr == nil {
		return sig, nil
	}

	alternative, err := damm.BuildClaimFeesV2Instruction(acc)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, altErr := o.submit(ctx, session, o.withAtaSetup(session, pool, alternative)...)
	if altErr == nil {
		o.log.Info("claim succeeded via fallback instruction",
			zap.String("position", pos.Address.String()))
		return sig, nil
	}
	return solana.Signature{}, clierr.New(clierr.CodeUnavailable,
		fmt.Sprintf("claim failed (primary: %v; fallback: %v)", primaryErr, altErr))
}

// closePosition withdraws remaining liquidity and closes the account, or
// closes directly when the position holds no liquidity.
func (o *Orchestrator) closePosition(ctx context.Context, session Session, pool *model.Pool, pos *model.Position) (solana.Signature, error) {
	acc, err := o.instructionAccounts(session, pool, pos)
	if err != nil {
		return solana.Signature{}, err
	}

	if pos.TotalLiquidity().Sign() > 0 {
		ixs, err := damm.BuildWithdrawAndCloseInstructions(acc)
		if err != nil {
			return solana.Signature{}, err
		}
		return o.submit(ctx, session, o.withAtaSetup(session, pool, ixs...)...)
	}

	ix, err := damm.BuildCloseOnlyInstruction(acc)
	if err != nil {
		return solana.Signature{}, err
	}
	return o.submit(ctx, session, ix)
}

// swapProceeds converts each non-reference token the wallet now holds into
// SOL. Tokens are handled independently; a failure on one does not stop the
// other, and balances below the worth threshold are skipped.
func (o *Orchestrator) swapProceeds(ctx context.Context, session Session, pool *model.Pool, opts Options, res *model.OperationResult) {
	var errs []string
	for _, mint := range []solana.PublicKey{pool.TokenAMint, pool.TokenBMint} {
		if mint.Equals(model.WSOLMint) {
			continue
		}
		if err := o.pacer.Delay(ctx, pacing.Medium); err != nil {
			return
		}

		balance, err := o.ledger.GetTokenBalance(ctx, session.Wallet, mint)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: balance: %v", mint.String(), err))
			continue
		}
		if balance == 0 {
			continue
		}
		worth, ok := o.converter.ToLamports(ctx, mint, balance)
		if !ok || worth < opts.minWorth() {
			res.SwapSkipped = true
			o.log.Debug("skipping dust swap",
				zap.String("mint", mint.String()), zap.Uint64("worth", worth))
			continue
		}

		quote, err := o.swapper.GetQuote(ctx, mint, model.WSOLMint, balance, opts.SlippageBps)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: quote: %v", mint.String(), err))
			continue
		}
		tx, err := o.swapper.BuildSwapTransaction(ctx, session.Wallet, quote)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: build swap: %v", mint.String(), err))
			continue
		}
		if err := o.signAll(session, tx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: sign swap: %v", mint.String(), err))
			continue
		}
		sig, err := o.ledger.SubmitAndConfirm(ctx, tx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: submit swap: %v", mint.String(), err))
			continue
		}
		res.Swapped = true
		res.SwapTx = append(res.SwapTx, sig.String())
	}

	if len(errs) > 0 {
		res.FailedStep = model.StepSwap
		res.Error = strings.Join(errs, "; ")
	}
}

func (o *Orchestrator) instructionAccounts(session Session, pool *model.Pool, pos *model.Position) (damm.InstructionAccounts, error) {
	ataA, _, err := solana.FindAssociatedTokenAddress(session.Wallet, pool.TokenAMint)
	if err != nil {
		return damm.InstructionAccounts{}, clierr.Wrap(clierr.CodeInternal, "derive token A account", err)
	}
	ataB, _, err := solana.FindAssociatedTokenAddress(session.Wallet, pool.TokenBMint)
	if err != nil {
		return damm.InstructionAccounts{}, clierr.Wrap(clierr.CodeInternal, "derive token B account", err)
	}
	return damm.InstructionAccounts{
		Pool:        pool,
		Position:    pos,
		Owner:       session.Wallet,
		OwnerTokenA: ataA,
		OwnerTokenB: ataB,
	}, nil
}

// withAtaSetup prepends idempotent ATA creation for both pool tokens so the
// lifecycle instruction always has its destinations.
func (o *Orchestrator) withAtaSetup(session Session, pool *model.Pool, ixs ...solana.Instruction) []solana.Instruction {
	out := make([]solana.Instruction, 0, len(ixs)+2)
	for _, mint := range []solana.PublicKey{pool.TokenAMint, pool.TokenBMint} {
		if ix, err := damm.BuildCreateAtaIdempotent(session.Wallet, session.Wallet, mint); err == nil {
			out = append(out, ix)
		}
	}
	return append(out, ixs...)
}

func (o *Orchestrator) submit(ctx context.Context, session Session, ixs ...solana.Instruction) (solana.Signature, error) {
	blockhash, err := o.ledger.RecentBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(session.Wallet))
	if err != nil {
		return solana.Signature{}, clierr.Wrap(clierr.CodeInternal, "assemble transaction", err)
	}
	if err := o.signAll(session, tx); err != nil {
		return solana.Signature{}, err
	}
	return o.ledger.SubmitAndConfirm(ctx, tx)
}

func (o *Orchestrator) signAll(session Session, tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(session.Wallet) {
			return &session.Signer
		}
		return nil
	})
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	return nil
}
