package custody

import (
	"context"

	"github.com/holiman/uint256"

	"traderchain/crypto"
)

// Vault is the custody account of a single fund. Every method operates on the
// ledger the vault was opened against, so staged ledgers keep vault movements
// inside the enclosing unit of work.
type Vault struct {
	ledger  *Ledger
	address crypto.Address
}

// NewVault binds a custody address to a ledger.
func NewVault(ledger *Ledger, address crypto.Address) *Vault {
	return &Vault{ledger: ledger, address: address}
}

// Address returns the vault's custody address.
func (v *Vault) Address() crypto.Address { return v.address }

// HoldBalance returns the vault's real balance of asset.
func (v *Vault) HoldBalance(ctx context.Context, asset string) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.ledger.Balance(v.address, asset)
}

// TransferIn pulls amount of asset from the depositor into the vault.
func (v *Vault) TransferIn(ctx context.Context, asset string, amount *uint256.Int, from crypto.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.ledger.Transfer(from, v.address, asset, amount)
}

// TransferOut sends amount of asset from the vault to the recipient.
func (v *Vault) TransferOut(ctx context.Context, asset string, amount *uint256.Int, to crypto.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.ledger.Transfer(v.address, to, asset, amount)
}

// ApproveSpender lets spender pull up to amount of asset from the vault.
func (v *Vault) ApproveSpender(ctx context.Context, asset string, spender crypto.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.ledger.Approve(v.address, spender, asset, amount)
}
