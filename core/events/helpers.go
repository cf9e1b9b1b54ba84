package events

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"traderchain/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func addressString(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func fundIDString(id uint64) string {
	return strconv.FormatUint(id, 10)
}
