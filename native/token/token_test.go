package token

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbay/crypto"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestMintAndBalance(t *testing.T) {
	tok := NewToken(crypto.DeriveModuleAddress("marketplace/vault"))
	buyer := testAddr(0x01)

	require.Equal(t, int64(0), tok.BalanceOf(buyer).Int64())
	tok.Mint(buyer, big.NewInt(500))
	require.Equal(t, int64(500), tok.BalanceOf(buyer).Int64())

	tok.Mint(buyer, nil)
	tok.Mint(buyer, big.NewInt(-1))
	require.Equal(t, int64(500), tok.BalanceOf(buyer).Int64())
}

func TestTransferFromRequiresAllowance(t *testing.T) {
	vault := testAddr(0xAA)
	tok := NewToken(vault)
	buyer := testAddr(0x01)
	tok.Mint(buyer, big.NewInt(100))

	require.False(t, tok.TransferFrom(buyer, vault, big.NewInt(100)))

	tok.Approve(buyer, big.NewInt(100))
	require.True(t, tok.TransferFrom(buyer, vault, big.NewInt(100)))
	require.Equal(t, int64(0), tok.BalanceOf(buyer).Int64())
	require.Equal(t, int64(100), tok.BalanceOf(vault).Int64())
	require.Equal(t, int64(0), tok.Allowance(buyer).Int64())

	// Allowance consumed, a second pull must fail.
	tok.Mint(buyer, big.NewInt(100))
	require.False(t, tok.TransferFrom(buyer, vault, big.NewInt(100)))
}

func TestTransferFromRejectsOverdraw(t *testing.T) {
	vault := testAddr(0xAA)
	tok := NewToken(vault)
	buyer := testAddr(0x01)
	tok.Mint(buyer, big.NewInt(50))
	tok.Approve(buyer, big.NewInt(100))

	require.False(t, tok.TransferFrom(buyer, vault, big.NewInt(100)))
	require.Equal(t, int64(50), tok.BalanceOf(buyer).Int64())
	require.Equal(t, int64(100), tok.Allowance(buyer).Int64())
}

func TestTransferDrawsFromCustody(t *testing.T) {
	vault := testAddr(0xAA)
	tok := NewToken(vault)
	seller := testAddr(0x02)

	require.False(t, tok.Transfer(seller, big.NewInt(10)))

	tok.Mint(vault, big.NewInt(25))
	require.True(t, tok.Transfer(seller, big.NewInt(10)))
	require.Equal(t, int64(15), tok.BalanceOf(vault).Int64())
	require.Equal(t, int64(10), tok.BalanceOf(seller).Int64())

	require.False(t, tok.Transfer(seller, big.NewInt(0)))
	require.False(t, tok.Transfer(seller, nil))
}

func TestOperatorPullNeedsNoAllowance(t *testing.T) {
	vault := testAddr(0xAA)
	tok := NewToken(vault)
	seller := testAddr(0x02)
	tok.Mint(vault, big.NewInt(40))

	require.True(t, tok.TransferFrom(vault, seller, big.NewInt(40)))
	require.Equal(t, int64(40), tok.BalanceOf(seller).Int64())
}
