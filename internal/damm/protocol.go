package damm

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/ledger"
	"github.com/solsweep/solsweep/internal/model"
)

// Operations is the protocol-facing capability surface consumed by
// discovery and the sweep orchestrator. Tests substitute fakes.
type Operations interface {
	FetchPool(ctx context.Context, addr solana.PublicKey) (*model.Pool, error)
	FetchPosition(ctx context.Context, addr solana.PublicKey) (*model.Position, error)
	PositionsForWallet(ctx context.Context, wallet solana.PublicKey, pool *solana.PublicKey) ([]model.Position, error)
}

// Protocol implements Operations against the live program via ledger access.
type Protocol struct {
	ledger ledger.Access
	log    *zap.Logger
}

func NewProtocol(access ledger.Access, log *zap.Logger) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{ledger: access, log: log}
}

func (p *Protocol) FetchPool(ctx context.Context, addr solana.PublicKey) (*model.Pool, error) {
	data, err := p.ledger.GetAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodePool(addr, data)
}

func (p *Protocol) FetchPosition(ctx context.Context, addr solana.PublicKey) (*model.Position, error) {
	data, err := p.ledger.GetAccountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return DecodePosition(addr, data)
}

// PositionsForWallet enumerates the wallet's positions by walking its token
// accounts: every single-unit token is a candidate position NFT whose
// position PDA is derived and probed. Non-position NFTs simply have no
// account at the derived address and are skipped. When pool is non-nil the
// result is scoped to that pool.
func (p *Protocol) PositionsForWallet(ctx context.Context, wallet solana.PublicKey, pool *solana.PublicKey) ([]model.Position, error) {
	tokenAccounts, err := p.ledger.GetTokenAccounts(ctx, wallet)
	if err != nil {
		return nil, err
	}

	positions := make([]model.Position, 0)
	for _, acc := range tokenAccounts {
		if acc.Amount != 1 {
			continue
		}
		posAddr, err := DerivePositionAddress(acc.Mint)
		if err != nil {
			continue
		}
		data, err := p.ledger.GetAccountData(ctx, posAddr)
		if err != nil {
			if cliErr, ok := clierr.As(err); ok && cliErr.Code == clierr.CodeValidation {
				continue // not a position NFT
			}
			return nil, err
		}
		pos, err := DecodePosition(posAddr, data)
		if err != nil {
			// Discriminator mismatch means the candidate mint belongs to
			// some other program; anything else is logged and skipped.
			p.log.Debug("skipping non-position account",
				zap.String("address", posAddr.String()), zap.Error(err))
			continue
		}
		if pool != nil && !pos.Pool.Equals(*pool) {
			continue
		}
		pos.NftAccount = acc.Address
		positions = append(positions, *pos)
	}
	return positions, nil
}
