package damm

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/model"
)

// Anchor instruction discriminators: sha256("global:<method>")[0:8].
var (
	ixClaimPositionFee   = anchorDiscriminator("global:claim_position_fee")
	ixClaimPositionFee2  = anchorDiscriminator("global:claim_position_fee2")
	ixRemoveAllLiquidity = anchorDiscriminator("global:remove_all_liquidity")
	ixClosePosition      = anchorDiscriminator("global:close_position")
)

// InstructionAccounts bundles the account set shared by position-lifecycle
// instructions.
type InstructionAccounts struct {
	Pool     *model.Pool
	Position *model.Position
	Owner    solana.PublicKey
	// Owner's associated token accounts receiving withdrawn funds.
	OwnerTokenA solana.PublicKey
	OwnerTokenB solana.PublicKey
}

// BuildClaimFeesInstruction constructs the claim_position_fee instruction.
func BuildClaimFeesInstruction(acc InstructionAccounts) (solana.Instruction, error) {
	metas, err := lifecycleMetas(acc)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, metas, ixClaimPositionFee[:]), nil
}

// BuildClaimFeesV2Instruction constructs the newer claim variant that names
// an explicit fee receiver. Used as the fallback when the primary claim
// instruction is rejected.
func BuildClaimFeesV2Instruction(acc InstructionAccounts) (solana.Instruction, error) {
	metas, err := lifecycleMetas(acc)
	if err != nil {
		return nil, err
	}
	metas = append(solana.AccountMetaSlice{solana.Meta(acc.Owner).WRITE()}, metas...)
	return solana.NewInstruction(ProgramID, metas, ixClaimPositionFee2[:]), nil
}

// BuildCreateAtaIdempotent returns the associated-token-account
// create-idempotent instruction so claim and withdraw destinations always
// exist before the lifecycle instruction runs.
func BuildCreateAtaIdempotent(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "derive associated token account", err)
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, metas, []byte{1}), nil
}

// BuildWithdrawAndCloseInstructions constructs the remove_all_liquidity and
// close_position instructions executed together in one transaction.
func BuildWithdrawAndCloseInstructions(acc InstructionAccounts) ([]solana.Instruction, error) {
	withdrawMetas, err := lifecycleMetas(acc)
	if err != nil {
		return nil, err
	}
	data, err := removeAllLiquidityData()
	if err != nil {
		return nil, err
	}
	closeIx, err := BuildCloseOnlyInstruction(acc)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{
		solana.NewInstruction(ProgramID, withdrawMetas, data),
		closeIx,
	}, nil
}

// BuildCloseOnlyInstruction constructs close_position for a position with no
// remaining liquidity.
func BuildCloseOnlyInstruction(acc InstructionAccounts) (solana.Instruction, error) {
	metas, err := closeMetas(acc)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, metas, ixClosePosition[:]), nil
}

// removeAllLiquidityData appends the min-amount-out args (zero: the caller
// accepts current pool pricing when draining a position).
func removeAllLiquidityData() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(ixRemoveAllLiquidity[:])
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint64(0, bin.LE); err != nil { // token_a_amount_threshold
		return nil, err
	}
	if err := enc.WriteUint64(0, bin.LE); err != nil { // token_b_amount_threshold
		return nil, err
	}
	return buf.Bytes(), nil
}

func lifecycleMetas(acc InstructionAccounts) (solana.AccountMetaSlice, error) {
	if acc.Pool == nil || acc.Position == nil {
		return nil, clierr.New(clierr.CodeValidation, "instruction requires pool and position state")
	}
	if acc.Position.NftAccount.IsZero() {
		return nil, clierr.New(clierr.CodeValidation, "position missing nft account reference")
	}
	authority, err := DerivePoolAuthority()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "derive pool authority", err)
	}
	eventAuthority, err := DeriveEventAuthority()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "derive event authority", err)
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(authority),
		solana.Meta(acc.Pool.Address).WRITE(),
		solana.Meta(acc.Position.Address).WRITE(),
		solana.Meta(acc.OwnerTokenA).WRITE(),
		solana.Meta(acc.OwnerTokenB).WRITE(),
		solana.Meta(acc.Pool.TokenAVault).WRITE(),
		solana.Meta(acc.Pool.TokenBVault).WRITE(),
		solana.Meta(acc.Pool.TokenAMint),
		solana.Meta(acc.Pool.TokenBMint),
		solana.Meta(acc.Position.NftAccount),
		solana.Meta(acc.Owner).SIGNER(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(eventAuthority),
		solana.Meta(ProgramID),
	}
	return metas, nil
}

func closeMetas(acc InstructionAccounts) (solana.AccountMetaSlice, error) {
	if acc.Pool == nil || acc.Position == nil {
		return nil, clierr.New(clierr.CodeValidation, "instruction requires pool and position state")
	}
	if acc.Position.NftAccount.IsZero() {
		return nil, clierr.New(clierr.CodeValidation, "position missing nft account reference")
	}
	authority, err := DerivePoolAuthority()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "derive pool authority", err)
	}
	eventAuthority, err := DeriveEventAuthority()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "derive event authority", err)
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(acc.Position.NftMint).WRITE(),
		solana.Meta(acc.Position.NftAccount).WRITE(),
		solana.Meta(acc.Pool.Address).WRITE(),
		solana.Meta(acc.Position.Address).WRITE(),
		solana.Meta(authority),
		solana.Meta(acc.Owner).WRITE().SIGNER(),
		solana.Meta(solana.Token2022ProgramID),
		solana.Meta(eventAuthority),
		solana.Meta(ProgramID),
	}
	return metas, nil
}
