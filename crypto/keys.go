package crypto

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"lukechampine.com/blake3"
)

// AddressPrefix defines the human-readable part of a bech32 address.
type AddressPrefix string

const (
	// TRCPrefix is used for participant addresses (traders and investors).
	TRCPrefix AddressPrefix = "trc"
	// VaultPrefix marks addresses derived for fund custody vaults.
	VaultPrefix AddressPrefix = "trcv"
	// ModulePrefix marks addresses owned by in-process modules such as the exchange.
	ModulePrefix AddressPrefix = "trcm"
)

// AddressLength is the byte length of every address.
const AddressLength = 20

// Address represents a 20-byte account identifier with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress builds an address from raw bytes. It panics when the slice is not
// AddressLength bytes long.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

// DeriveAddress hashes the label with blake3 and uses the first 20 bytes of the
// digest as the address body.
func DeriveAddress(prefix AddressPrefix, label []byte) Address {
	sum := blake3.Sum256(label)
	return NewAddress(prefix, sum[:AddressLength])
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address carries no bytes.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

// Equal compares prefix and body.
func (a Address) Equal(other Address) bool {
	return a.prefix == other.prefix && bytes.Equal(a.bytes, other.bytes)
}

// MarshalText encodes the address in bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 address.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, fmt.Errorf("address must not be empty")
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must decode to %d bytes, got %d", AddressLength, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}
