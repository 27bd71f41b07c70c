package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	clierr "github.com/solsweep/solsweep/internal/errors"
)

// TokenAccount is a parsed SPL token account owned by a wallet.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Amount  uint64
}

// Access is the narrow ledger capability surface the core depends on.
// The RPC-backed implementation lives in Client; tests substitute fakes.
type Access interface {
	GetAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	CurrentClock(ctx context.Context) (unixNow uint64, slot uint64, err error)
	RecentBlockhash(ctx context.Context) (solana.Hash, error)
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Client implements Access over a solana JSON-RPC endpoint.
type Client struct {
	rpc        *solanarpc.Client
	commitment solanarpc.CommitmentType
	confirmFor time.Duration
	pollEvery  time.Duration
}

func NewClient(endpoint string) *Client {
	return &Client{
		rpc:        solanarpc.New(endpoint),
		commitment: solanarpc.CommitmentConfirmed,
		confirmFor: 45 * time.Second,
		pollEvery:  2 * time.Second,
	}
}

// RPC exposes the underlying client for callers that need raw access
// (program scans with memcmp filters).
func (c *Client) RPC() *solanarpc.Client { return c.rpc }

func (c *Client) Commitment() solanarpc.CommitmentType { return c.commitment }

func (c *Client) GetAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	resp, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &solanarpc.GetAccountInfoOpts{Commitment: c.commitment})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch account", err)
	}
	if resp == nil || resp.Value == nil {
		return nil, clierr.New(clierr.CodeValidation, "account not found: "+addr.String())
	}
	return resp.Value.Data.GetBinary(), nil
}

func (c *Client) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	resp, err := c.rpc.GetBalance(ctx, addr, c.commitment)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "fetch balance", err)
	}
	return resp.Value, nil
}

// GetTokenAccounts lists the wallet's SPL token accounts with decoded mint
// and raw amount, across both the legacy and the 2022 token program
// (position NFTs are minted under Token-2022). Used to find position NFTs
// and post-close token balances.
func (c *Client) GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error) {
	accounts := make([]TokenAccount, 0)
	for _, program := range []solana.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID} {
		resp, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
			&solanarpc.GetTokenAccountsConfig{ProgramId: program.ToPointer()},
			&solanarpc.GetTokenAccountsOpts{Commitment: c.commitment},
		)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "list token accounts", err)
		}
		for _, item := range resp.Value {
			data := item.Account.Data.GetBinary()
			// SPL token account layout: mint at 0, owner at 32, amount at 64.
			if len(data) < 72 {
				continue
			}
			var mint solana.PublicKey
			copy(mint[:], data[0:32])
			amount := uint64(0)
			for i := 0; i < 8; i++ {
				amount |= uint64(data[64+i]) << (8 * i)
			}
			accounts = append(accounts, TokenAccount{
				Address: item.Pubkey,
				Mint:    mint,
				Amount:  amount,
			})
		}
	}
	return accounts, nil
}

func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	accounts, err := c.GetTokenAccounts(ctx, owner)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, acc := range accounts {
		if acc.Mint.Equals(mint) {
			total += acc.Amount
		}
	}
	return total, nil
}

// CurrentClock returns the chain's wall-clock time and slot height in one
// round trip pair. A missing block time degrades to local time.
func (c *Client) CurrentClock(ctx context.Context) (uint64, uint64, error) {
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	if err != nil {
		return 0, 0, clierr.Wrap(clierr.CodeUnavailable, "fetch slot", err)
	}
	blockTime, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil || blockTime == nil {
		return uint64(time.Now().Unix()), slot, nil
	}
	return uint64(blockTime.Time().Unix()), slot, nil
}

// SubmitAndConfirm sends a signed transaction and polls until it reaches the
// client's commitment level or the confirmation window lapses. Never retried
// internally; double submission of a mutating transaction is worse than a
// reported failure.
func (c *Client) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, clierr.Wrap(clierr.CodeUnavailable, "submit transaction", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmFor)
	defer cancel()
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		statuses, err := c.rpc.GetSignatureStatuses(waitCtx, false, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return sig, clierr.New(clierr.CodeUnavailable, "transaction failed on-chain")
			}
			if st.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
				return sig, nil
			}
		}
		select {
		case <-waitCtx.Done():
			return sig, clierr.Wrap(clierr.CodeUnavailable, "timed out waiting for confirmation", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// RecentBlockhash fetches a blockhash for transaction assembly.
func (c *Client) RecentBlockhash(ctx context.Context) (solana.Hash, error) {
	resp, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch blockhash", err)
	}
	return resp.Value.Blockhash, nil
}
