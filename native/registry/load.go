package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type fileRegistry struct {
	BaseCurrencies []string    `toml:"base_currencies"`
	Assets         []fileAsset `toml:"assets"`
	Pools          []filePool  `toml:"pools"`
}

type fileAsset struct {
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

type filePool struct {
	Pair []string `toml:"pair"`
	Fee  uint32   `toml:"fee"`
}

// Load reads a registry definition from a TOML file.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("registry: path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a TOML registry definition. Assets are registered first, then
// pools, then base currencies, so the file may list them in any order.
func Parse(data []byte) (*Registry, error) {
	var parsed fileRegistry
	meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&parsed)
	if err != nil {
		return nil, fmt.Errorf("registry: decode toml: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("registry: unknown fields %v", undecoded)
	}
	if len(parsed.Assets) == 0 {
		return nil, errors.New("registry: at least one asset required")
	}
	reg := New()
	for i, asset := range parsed.Assets {
		if err := reg.AddSupportedAsset(Asset{Symbol: asset.Symbol, Decimals: asset.Decimals}); err != nil {
			return nil, fmt.Errorf("registry: asset %d: %w", i, err)
		}
	}
	for i, pool := range parsed.Pools {
		if len(pool.Pair) != 2 {
			return nil, fmt.Errorf("registry: pool %d: pair must name two assets", i)
		}
		if err := reg.AddPool(Pool{TokenA: pool.Pair[0], TokenB: pool.Pair[1], Fee: pool.Fee}); err != nil {
			return nil, fmt.Errorf("registry: pool %d: %w", i, err)
		}
	}
	if len(parsed.BaseCurrencies) == 0 {
		return nil, errors.New("registry: at least one base currency required")
	}
	for _, symbol := range parsed.BaseCurrencies {
		if err := reg.AddSupportedBaseCurrency(symbol); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
