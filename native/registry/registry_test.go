package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleRegistry = `
base_currencies = ["USDC", "WETH"]

[[assets]]
symbol = "USDC"
decimals = 6

[[assets]]
symbol = "WETH"
decimals = 18

[[assets]]
symbol = "UNI"
decimals = 18

[[assets]]
symbol = "DAI"
decimals = 18

[[pools]]
pair = ["WETH", "USDC"]
fee = 3000

[[pools]]
pair = ["WETH", "UNI"]
fee = 3000

[[pools]]
pair = ["USDC", "UNI"]
fee = 10000
`

func loadSample(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.toml")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func TestLoadRegistersAssetsPoolsAndBases(t *testing.T) {
	reg := loadSample(t)
	if !reg.IsBaseCurrency("usdc") || !reg.IsBaseCurrency("WETH") {
		t.Fatalf("expected USDC and WETH as base currencies")
	}
	if reg.IsBaseCurrency("UNI") {
		t.Fatalf("UNI must not be a base currency")
	}
	asset, err := reg.Asset(" usdc ")
	if err != nil {
		t.Fatalf("asset lookup: %v", err)
	}
	if asset.Decimals != 6 {
		t.Fatalf("expected 6 decimals, got %d", asset.Decimals)
	}
	if got := len(reg.Pools()); got != 3 {
		t.Fatalf("expected 3 pools, got %d", got)
	}
}

func TestRoutePrefersDirectPool(t *testing.T) {
	reg := loadSample(t)
	route, err := reg.Route("UNI", "USDC")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(route.Hops) != 1 || route.Hops[0].Fee != 10000 {
		t.Fatalf("expected direct 1%% hop, got %s", route)
	}
	if route.From() != "UNI" || route.To() != "USDC" {
		t.Fatalf("unexpected endpoints %s -> %s", route.From(), route.To())
	}
}

func TestRouteMultiHop(t *testing.T) {
	reg := New()
	for _, symbol := range []string{"USDC", "WETH", "UNI"} {
		if err := reg.AddSupportedAsset(Asset{Symbol: symbol, Decimals: 18}); err != nil {
			t.Fatalf("add asset: %v", err)
		}
	}
	if err := reg.AddPool(Pool{TokenA: "USDC", TokenB: "WETH", Fee: 3000}); err != nil {
		t.Fatalf("add pool: %v", err)
	}
	if err := reg.AddPool(Pool{TokenA: "WETH", TokenB: "UNI", Fee: 3000}); err != nil {
		t.Fatalf("add pool: %v", err)
	}
	route, err := reg.Route("UNI", "USDC")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.String() != "UNI->WETH@3000->USDC@3000" {
		t.Fatalf("unexpected route %s", route)
	}
	// 1 - 0.997^2 = 0.005991
	if fee := route.Fee(); fee != 5991 {
		t.Fatalf("expected compounded fee 5991, got %d", fee)
	}
}

func TestIdentityRouteHasNoHops(t *testing.T) {
	reg := loadSample(t)
	route, err := reg.Route("WETH", "weth")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(route.Hops) != 0 || route.Fee() != 0 {
		t.Fatalf("expected identity route, got %s", route)
	}
}

func TestRouteMissing(t *testing.T) {
	reg := loadSample(t)
	if _, err := reg.Route("DAI", "USDC"); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	if _, err := reg.Route("XYZ", "USDC"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestPoolFeeSymmetric(t *testing.T) {
	reg := loadSample(t)
	ab, err := reg.PoolFee("WETH", "USDC")
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	ba, err := reg.PoolFee("USDC", "WETH")
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if ab != 3000 || ba != 3000 {
		t.Fatalf("expected symmetric 3000, got %d and %d", ab, ba)
	}
}

func TestAddSupportedAssetValidation(t *testing.T) {
	reg := New()
	if err := reg.AddSupportedAsset(Asset{Symbol: " "}); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
	if err := reg.AddSupportedAsset(Asset{Symbol: "USDC", Decimals: 6}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := reg.AddSupportedAsset(Asset{Symbol: "usdc", Decimals: 6}); !errors.Is(err, ErrDuplicateAsset) {
		t.Fatalf("expected ErrDuplicateAsset, got %v", err)
	}
	err := reg.AddSupportedAsset(Asset{Symbol: "WETH", Decimals: 18}, Pool{TokenA: "WETH", TokenB: "UNI", Fee: 3000})
	if !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset for pool counterparty, got %v", err)
	}
	if reg.IsSupported("WETH") {
		t.Fatalf("failed registration must not leave the asset behind")
	}
	if err := reg.AddSupportedAsset(Asset{Symbol: "WETH", Decimals: 18}, Pool{TokenA: "USDC", TokenB: "WETH", Fee: 3000}); err != nil {
		t.Fatalf("add with pool: %v", err)
	}
	if err := reg.AddPool(Pool{TokenA: "WETH", TokenB: "USDC", Fee: 500}); !errors.Is(err, ErrDuplicatePool) {
		t.Fatalf("expected ErrDuplicatePool, got %v", err)
	}
	if err := reg.AddSupportedBaseCurrency("DAI"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset for base, got %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("base_currencies = [\"USDC\"]\nextra = 1\n[[assets]]\nsymbol = \"USDC\"\ndecimals = 6\n"))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}
