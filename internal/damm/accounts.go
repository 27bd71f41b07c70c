package damm

import (
	"bytes"
	"crypto/sha256"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/model"
)

// ProgramID is the DAMM v2 (cp-amm) program on mainnet-beta.
var ProgramID = solana.MustPublicKeyFromBase58("cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG")

// Anchor account discriminators: sha256("account:<Name>")[0:8].
var (
	poolDiscriminator     = anchorDiscriminator("account:Pool")
	positionDiscriminator = anchorDiscriminator("account:Position")
)

func anchorDiscriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var disc [8]byte
	copy(disc[:], sum[:8])
	return disc
}

// baseFeeStruct mirrors the on-chain base-fee scheduler block.
type baseFeeStruct struct {
	CliffFeeNumerator uint64
	FeeSchedulerMode  uint8
	Padding0          [5]uint8
	NumberOfPeriod    uint16
	PeriodFrequency   uint64
	ReductionFactor   uint64
	Padding1          uint64
}

// poolFeesStruct carries the schedule plus protocol fee splits. Dynamic-fee
// state is opaque to this tool and skipped as raw bytes.
type poolFeesStruct struct {
	BaseFee            baseFeeStruct
	ProtocolFeePercent uint8
	PartnerFeePercent  uint8
	ReferralFeePercent uint8
	Padding0           [5]uint8
	DynamicFee         [88]uint8
	Padding1           [2]uint64
}

// poolAccount is the decoded layout of a cp-amm Pool account (the fields
// this tool reads; trailing reward and metric blocks are left in Tail).
type poolAccount struct {
	PoolFees         poolFeesStruct
	TokenAMint       solana.PublicKey
	TokenBMint       solana.PublicKey
	TokenAVault      solana.PublicKey
	TokenBVault      solana.PublicKey
	WhitelistedVault solana.PublicKey
	Partner          solana.PublicKey
	Liquidity        bin.Uint128
	Padding          uint64
	ProtocolAFee     uint64
	ProtocolBFee     uint64
	PartnerAFee      uint64
	PartnerBFee      uint64
	SqrtMinPrice     bin.Uint128
	SqrtMaxPrice     bin.Uint128
	SqrtPrice        bin.Uint128
	ActivationPoint  uint64
	ActivationType   uint8
	PoolStatus       uint8
	TokenAFlag       uint8
	TokenBFlag       uint8
	CollectFeeMode   uint8
	PoolType         uint8
	Padding0         [2]uint8
	FeeAPerLiquidity [32]uint8
	FeeBPerLiquidity [32]uint8
}

// positionMetrics tracks lifetime claimed fees on the position account.
type positionMetrics struct {
	TotalClaimedAFee uint64
	TotalClaimedBFee uint64
}

// positionAccount is the decoded layout of a cp-amm Position account.
type positionAccount struct {
	Pool                     solana.PublicKey
	NftMint                  solana.PublicKey
	FeeAPerTokenCheckpoint   [32]uint8
	FeeBPerTokenCheckpoint   [32]uint8
	FeeAPending              uint64
	FeeBPending              uint64
	UnlockedLiquidity        bin.Uint128
	VestedLiquidity          bin.Uint128
	PermanentLockedLiquidity bin.Uint128
	Metrics                  positionMetrics
}

// DecodePool validates and decodes a raw pool account into the model
// snapshot. Malformed data surfaces as a validation error so the caller can
// skip the affected position without failing the batch.
func DecodePool(addr solana.PublicKey, data []byte) (*model.Pool, error) {
	raw, err := decodeAccount[poolAccount](data, poolDiscriminator)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeValidation, "decode pool "+addr.String(), err)
	}
	if raw.TokenAMint.IsZero() || raw.TokenBMint.IsZero() {
		return nil, clierr.New(clierr.CodeValidation, "pool missing token mints: "+addr.String())
	}

	return &model.Pool{
		Address:      addr,
		TokenAMint:   raw.TokenAMint,
		TokenBMint:   raw.TokenBMint,
		TokenAVault:  raw.TokenAVault,
		TokenBVault:  raw.TokenBVault,
		SqrtPrice:    raw.SqrtPrice.BigInt(),
		SqrtMinPrice: raw.SqrtMinPrice.BigInt(),
		SqrtMaxPrice: raw.SqrtMaxPrice.BigInt(),
		BaseFee: model.BaseFeeSchedule{
			CliffFeeNumerator: raw.PoolFees.BaseFee.CliffFeeNumerator,
			NumberOfPeriod:    uint64(raw.PoolFees.BaseFee.NumberOfPeriod),
			PeriodFrequency:   raw.PoolFees.BaseFee.PeriodFrequency,
			ReductionFactor:   raw.PoolFees.BaseFee.ReductionFactor,
			Mode:              model.FeeSchedulerMode(raw.PoolFees.BaseFee.FeeSchedulerMode),
			ActivationPoint:   raw.ActivationPoint,
		},
		FeeAPerLiquidity: u256LEToBig(raw.FeeAPerLiquidity),
		FeeBPerLiquidity: u256LEToBig(raw.FeeBPerLiquidity),
	}, nil
}

// u256LEToBig converts a little-endian 256-bit on-chain value to a big.Int.
func u256LEToBig(le [32]uint8) *big.Int {
	be := make([]byte, 32)
	for i := range le {
		be[31-i] = le[i]
	}
	return new(big.Int).SetBytes(be)
}

func u256LEFromBig(v *big.Int) [32]uint8 {
	var le [32]uint8
	be := v.FillBytes(make([]byte, 32))
	for i := range be {
		le[31-i] = be[i]
	}
	return le
}

// DecodePosition validates and decodes a raw position account.
func DecodePosition(addr solana.PublicKey, data []byte) (*model.Position, error) {
	raw, err := decodeAccount[positionAccount](data, positionDiscriminator)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeValidation, "decode position "+addr.String(), err)
	}
	if raw.Pool.IsZero() {
		return nil, clierr.New(clierr.CodeValidation, "position missing pool reference: "+addr.String())
	}
	if raw.NftMint.IsZero() {
		return nil, clierr.New(clierr.CodeValidation, "position missing nft mint: "+addr.String())
	}

	return &model.Position{
		Address:            addr,
		Pool:               raw.Pool,
		NftMint:            raw.NftMint,
		UnlockedLiquidity:  raw.UnlockedLiquidity.BigInt(),
		VestedLiquidity:    raw.VestedLiquidity.BigInt(),
		PermanentLiquidity: raw.PermanentLockedLiquidity.BigInt(),
		FeeOwedA:           raw.FeeAPending,
		FeeOwedB:           raw.FeeBPending,
		FeeACheckpoint:     u256LEToBig(raw.FeeAPerTokenCheckpoint),
		FeeBCheckpoint:     u256LEToBig(raw.FeeBPerTokenCheckpoint),
	}, nil
}

func decodeAccount[T any](data []byte, disc [8]byte) (*T, error) {
	if len(data) < 8 {
		return nil, clierr.New(clierr.CodeValidation, "account data too short")
	}
	if !bytes.Equal(data[:8], disc[:]) {
		return nil, clierr.New(clierr.CodeValidation, "account discriminator mismatch")
	}
	var out T
	if err := bin.NewBorshDecoder(data[8:]).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarshalPoolAccount serializes a pool snapshot into raw account bytes.
// Fixture support for tests and local simulation; production paths only
// decode.
func MarshalPoolAccount(p *model.Pool) ([]byte, error) {
	raw := poolAccount{
		TokenAMint:  p.TokenAMint,
		TokenBMint:  p.TokenBMint,
		TokenAVault: p.TokenAVault,
		TokenBVault: p.TokenBVault,
	}
	raw.PoolFees.BaseFee = baseFeeStruct{
		CliffFeeNumerator: p.BaseFee.CliffFeeNumerator,
		FeeSchedulerMode:  uint8(p.BaseFee.Mode),
		NumberOfPeriod:    uint16(p.BaseFee.NumberOfPeriod),
		PeriodFrequency:   p.BaseFee.PeriodFrequency,
		ReductionFactor:   p.BaseFee.ReductionFactor,
	}
	raw.ActivationPoint = p.BaseFee.ActivationPoint
	if p.SqrtPrice != nil {
		raw.SqrtPrice = uint128FromBig(p.SqrtPrice)
	}
	if p.SqrtMinPrice != nil {
		raw.SqrtMinPrice = uint128FromBig(p.SqrtMinPrice)
	}
	if p.SqrtMaxPrice != nil {
		raw.SqrtMaxPrice = uint128FromBig(p.SqrtMaxPrice)
	}
	if p.FeeAPerLiquidity != nil {
		raw.FeeAPerLiquidity = u256LEFromBig(p.FeeAPerLiquidity)
	}
	if p.FeeBPerLiquidity != nil {
		raw.FeeBPerLiquidity = u256LEFromBig(p.FeeBPerLiquidity)
	}
	return encodeAccount(&raw, poolDiscriminator)
}

// MarshalPositionAccount serializes a position snapshot for test fixtures.
func MarshalPositionAccount(p *model.Position) ([]byte, error) {
	raw := positionAccount{
		Pool:        p.Pool,
		NftMint:     p.NftMint,
		FeeAPending: p.FeeOwedA,
		FeeBPending: p.FeeOwedB,
	}
	if p.UnlockedLiquidity != nil {
		raw.UnlockedLiquidity = uint128FromBig(p.UnlockedLiquidity)
	}
	if p.VestedLiquidity != nil {
		raw.VestedLiquidity = uint128FromBig(p.VestedLiquidity)
	}
	if p.PermanentLiquidity != nil {
		raw.PermanentLockedLiquidity = uint128FromBig(p.PermanentLiquidity)
	}
	if p.FeeACheckpoint != nil {
		raw.FeeAPerTokenCheckpoint = u256LEFromBig(p.FeeACheckpoint)
	}
	if p.FeeBCheckpoint != nil {
		raw.FeeBPerTokenCheckpoint = u256LEFromBig(p.FeeBCheckpoint)
	}
	return encodeAccount(&raw, positionDiscriminator)
}

func uint128FromBig(v *big.Int) bin.Uint128 {
	var out bin.Uint128
	out.Lo = new(big.Int).And(v, maxUint64).Uint64()
	out.Hi = new(big.Int).Rsh(v, 64).Uint64()
	return out
}

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

func encodeAccount(raw any, disc [8]byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(buf).Encode(raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
