package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"traderchain/core/state"
	"traderchain/crypto"
	"traderchain/storage"
)

func newTestLedger() *Ledger {
	return NewLedger(state.NewManager(storage.NewMemDB()))
}

func testAccount(label string) crypto.Address {
	return crypto.DeriveAddress(crypto.TRCPrefix, []byte(label))
}

func TestCreditTransferAndBalance(t *testing.T) {
	ledger := newTestLedger()
	alice := testAccount("alice")
	bob := testAccount("bob")
	if err := ledger.Credit(alice, "usdc", uint256.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, bob, "USDC", uint256.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.Balance(alice, "USDC")
	bobBal, _ := ledger.Balance(bob, "USDC")
	if aliceBal.Uint64() != 300 || bobBal.Uint64() != 200 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal, bobBal)
	}
	err := ledger.Transfer(bob, alice, "USDC", uint256.NewInt(201))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, "USDC", new(uint256.Int)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger := newTestLedger()
	owner := testAccount("owner")
	spender := testAccount("spender")
	sink := testAccount("sink")
	if err := ledger.Credit(owner, "WETH", uint256.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.TransferFrom(spender, owner, sink, "WETH", uint256.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := ledger.Approve(owner, spender, "WETH", uint256.NewInt(60)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(spender, owner, sink, "WETH", uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	remaining, _ := ledger.Allowance(owner, spender, "WETH")
	if remaining.Uint64() != 20 {
		t.Fatalf("expected allowance 20, got %s", remaining)
	}
	sinkBal, _ := ledger.Balance(sink, "WETH")
	if sinkBal.Uint64() != 40 {
		t.Fatalf("expected sink balance 40, got %s", sinkBal)
	}
}

func TestVaultMovesFundsThroughLedger(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()
	investor := testAccount("investor")
	vault := NewVault(ledger, VaultAddress(1))
	if vault.Address().Prefix() != crypto.VaultPrefix {
		t.Fatalf("vault address must use the vault prefix")
	}
	if err := ledger.Credit(investor, "USDC", uint256.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := vault.TransferIn(ctx, "USDC", uint256.NewInt(700), investor); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if err := vault.TransferOut(ctx, "USDC", uint256.NewInt(200), investor); err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	held, err := vault.HoldBalance(ctx, "USDC")
	if err != nil {
		t.Fatalf("hold balance: %v", err)
	}
	if held.Uint64() != 500 {
		t.Fatalf("expected vault balance 500, got %s", held)
	}
	if VaultAddress(1).Equal(VaultAddress(2)) {
		t.Fatalf("vault addresses must differ per fund")
	}
}
