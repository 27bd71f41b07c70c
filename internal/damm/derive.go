package damm

import (
	"github.com/gagliardetto/solana-go"
)

// DerivePositionAddress returns the position PDA for a position NFT mint.
func DerivePositionAddress(nftMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("position"),
		nftMint.Bytes(),
	}, ProgramID)
	return addr, err
}

// DerivePositionNftAccount returns the program-owned token account holding a
// position's ownership NFT.
func DerivePositionNftAccount(nftMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("position_nft_account"),
		nftMint.Bytes(),
	}, ProgramID)
	return addr, err
}

// DerivePoolAuthority returns the program's pool authority PDA, the signer
// for vault transfers.
func DerivePoolAuthority() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("pool_authority"),
	}, ProgramID)
	return addr, err
}

// DeriveEventAuthority returns the anchor event authority PDA.
func DeriveEventAuthority() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("__event_authority"),
	}, ProgramID)
	return addr, err
}
