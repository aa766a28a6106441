// Package scanner runs the permission analyzer against deployed contracts
// and detects EIP-1967 proxies over JSON-RPC.
package scanner

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownNetwork   = errors.New("network not found in pre-configured chains")
	ErrMissingEtherscan = errors.New("Please set a etherscan api key in your .env")
)

// Chains maps a chain name to the environment variable holding its RPC URL.
var Chains = map[string]string{
	"mainnet":        "MAINNET_RPC",
	"bsc":            "BSC_RPC",
	"poly":           "POLYGON_RPC",
	"polyzk":         "POLYGON_ZK_RPC",
	"cardona.polyzk": "CARDONA_POLY_ZK_RPC",
	"base":           "BASE_RPC",
	"arbi":           "ARBITRUM_RPC",
	"nova.arbi":      "NOVA_ARBITRUM_RPC",
	"linea":          "LINEA_RPC",
	"ftm":            "FANTOM_RPC",
	"blast":          "BLAST_RPC",
	"optim":          "OPTIMISTIC_RPC",
	"avax":           "AVAX_RPC",
	"bttc":           "BTTC_RPC",
	"celo":           "CELO_RPC",
	"cronos":         "CRONOS_RPC",
	"frax":           "FRAX_RPC",
	"gno":            "GNOSIS_RPC",
	"kroma":          "KROMA_RPC",
	"mantle":         "MANTLE_RPC",
	"moonbeam":       "MOONBEAM_RPC",
	"moonriver":      "MOONRIVER_RPC",
	"opbnb":          "OPBNB_RPC",
	"scroll":         "SCROLL_RPC",
	"taiko":          "TAIKO_RPC",
	"wemix":          "WEMIX_RPC",
	"era.zksync":     "ZKSYNC_ERA_RPC",
	"xai":            "XAI_RPC",
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ChainNames returns the supported chains sorted by name.
func ChainNames() []string {
	names := make([]string, 0, len(Chains))
	for name := range Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RPCURL resolves the RPC endpoint of chain. Overrides win over the environment.
func RPCURL(chain string, overrides map[string]string, lookup LookupFunc) (string, error) {
	if url := overrides[chain]; url != "" {
		return url, nil
	}
	key, ok := Chains[chain]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, chain)
	}
	url, ok := lookup(key)
	if !ok || url == "" {
		return "", fmt.Errorf("%w: %q (%s is not set)", ErrUnknownNetwork, chain, key)
	}
	return url, nil
}

// EtherscanKey returns the configured key, falling back to ETHERSCAN_API_KEY.
func EtherscanKey(configured string, lookup LookupFunc) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key, ok := lookup("ETHERSCAN_API_KEY"); ok && key != "" {
		return key, nil
	}
	return "", ErrMissingEtherscan
}
