package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

var (
	usdc  = common.HexToAddress("0x1000")
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func newBank(t *testing.T) *Bank {
	t.Helper()
	b := NewBank()
	require.NoError(t, b.Register(Metadata{Address: usdc, Symbol: "USDC", Decimals: 6}))
	require.NoError(t, b.Mint(usdc, alice, big.NewInt(1000)))
	return b
}

func TestRegisterTwice(t *testing.T) {
	b := newBank(t)
	err := b.Register(Metadata{Address: usdc, Symbol: "USDC"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestTransfer(t *testing.T) {
	b := newBank(t)
	require.NoError(t, b.Transfer(usdc, alice, bob, big.NewInt(300)))
	assert.Equal(t, int64(700), b.BalanceOf(usdc, alice).Int64())
	assert.Equal(t, int64(300), b.BalanceOf(usdc, bob).Int64())
	assert.Equal(t, int64(1000), b.TotalSupply(usdc).Int64())

	err := b.Transfer(usdc, bob, alice, big.NewInt(301))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.KindExternalTransfer, domain.KindOf(err))
}

func TestTransferUnknownToken(t *testing.T) {
	b := newBank(t)
	err := b.Transfer(common.HexToAddress("0xdead"), alice, bob, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	b := newBank(t)
	err := b.TransferFrom(usdc, bob, alice, bob, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, b.Approve(usdc, alice, bob, big.NewInt(50)))
	require.NoError(t, b.TransferFrom(usdc, bob, alice, bob, big.NewInt(40)))
	assert.Equal(t, int64(10), b.Allowance(usdc, alice, bob).Int64())
	assert.Equal(t, int64(40), b.BalanceOf(usdc, bob).Int64())

	// a holder moving its own funds needs no allowance
	require.NoError(t, b.TransferFrom(usdc, alice, alice, bob, big.NewInt(60)))
}

func TestMintBurn(t *testing.T) {
	b := newBank(t)
	require.NoError(t, b.Burn(usdc, alice, big.NewInt(400)))
	assert.Equal(t, int64(600), b.TotalSupply(usdc).Int64())
	assert.ErrorIs(t, b.Burn(usdc, bob, big.NewInt(1)), domain.ErrInsufficientBalance)
	assert.ErrorIs(t, b.Mint(usdc, bob, big.NewInt(-1)), domain.ErrInvalidParams)
}

func TestTransferHook(t *testing.T) {
	b := newBank(t)
	var seen []domain.Address
	b.SetTransferHook(usdc, func(token, from, to domain.Address, amount *big.Int) error {
		seen = append(seen, from, to)
		if amount.Int64() > 500 {
			return errors.New("hook refused")
		}
		return nil
	})
	require.NoError(t, b.Transfer(usdc, alice, bob, big.NewInt(100)))
	assert.Equal(t, []domain.Address{alice, bob}, seen)

	assert.Error(t, b.Transfer(usdc, alice, bob, big.NewInt(501)))
	assert.Equal(t, int64(100), b.BalanceOf(usdc, bob).Int64(), "refused transfer moves nothing")

	// mint and burn bypass the hook
	require.NoError(t, b.Mint(usdc, bob, big.NewInt(1)))
	assert.Len(t, seen, 4)
}

func TestSnapshotRestore(t *testing.T) {
	b := newBank(t)
	snap := b.Snapshot()
	require.NoError(t, b.Transfer(usdc, alice, bob, big.NewInt(999)))
	require.NoError(t, b.Approve(usdc, alice, bob, big.NewInt(5)))
	b.Restore(snap)
	assert.Equal(t, int64(1000), b.BalanceOf(usdc, alice).Int64())
	assert.Equal(t, 0, b.BalanceOf(usdc, bob).Sign())
	assert.Equal(t, 0, b.Allowance(usdc, alice, bob).Sign())

	// the snapshot stays usable after a restore
	require.NoError(t, b.Transfer(usdc, alice, bob, big.NewInt(1)))
	b.Restore(snap)
	assert.Equal(t, int64(1000), b.BalanceOf(usdc, alice).Int64())
}

func TestHolders(t *testing.T) {
	b := newBank(t)
	require.NoError(t, b.Transfer(usdc, alice, bob, big.NewInt(1)))
	assert.ElementsMatch(t, []domain.Address{alice, bob}, b.Holders(usdc))
	require.NoError(t, b.Transfer(usdc, bob, alice, big.NewInt(1)))
	assert.Equal(t, []domain.Address{alice}, b.Holders(usdc))
}
