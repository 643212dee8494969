package x402

import (
	"fmt"
	"math/big"
	"sync"
)

// Network tags used in 402 challenges and wallet configuration.
const (
	// EVM Mainnets
	NetworkBase      = "base"
	NetworkEthereum  = "ethereum"
	NetworkPolygon   = "polygon"
	NetworkAvalanche = "avalanche"

	// EVM Testnets
	NetworkBaseSepolia = "base-sepolia"
	NetworkSepolia     = "sepolia"

	// NetworkCanton is the permissioned ledger tag. It carries no EVM
	// chain configuration; the wallet routes it to an opaque ledger
	// client supplied by the deployment.
	NetworkCanton = "canton"
)

// DefaultNetwork is the primary network a wallet operates on unless
// configured otherwise.
const DefaultNetwork = NetworkBase

// ChainConfig holds configuration for a specific EVM chain.
type ChainConfig struct {
	// Network is the chain tag used in challenges and config.
	Network string

	// ChainID is the EIP-155 chain identifier.
	ChainID int64

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals int32

	// EIP3009Name is the EIP-712 domain parameter "name" of the USDC
	// deployment on this chain.
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain parameter "version".
	EIP3009Version string
}

// ChainIDBig returns the chain id as a *big.Int, the form the signing
// and transaction APIs expect.
func (c ChainConfig) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// Predefined chain configurations - Mainnets
var (
	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		Network:        NetworkBase,
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// EthereumMainnet is the configuration for Ethereum mainnet.
	EthereumMainnet = ChainConfig{
		Network:        NetworkEthereum,
		ChainID:        1,
		USDCAddress:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		Network:        NetworkPolygon,
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	AvalancheMainnet = ChainConfig{
		Network:        NetworkAvalanche,
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Predefined chain configurations - Testnets
var (
	// BaseSepolia is the configuration for Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		Network:        NetworkBaseSepolia,
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// Sepolia is the configuration for Ethereum Sepolia testnet.
	Sepolia = ChainConfig{
		Network:        NetworkSepolia,
		ChainID:        11155111,
		USDCAddress:    "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}
)

var (
	chainMu              sync.RWMutex
	chainConfigByNetwork = map[string]ChainConfig{
		NetworkBase:        BaseMainnet,
		NetworkEthereum:    EthereumMainnet,
		NetworkPolygon:     PolygonMainnet,
		NetworkAvalanche:   AvalancheMainnet,
		NetworkBaseSepolia: BaseSepolia,
		NetworkSepolia:     Sepolia,
	}
)

// GetChainConfig returns the chain configuration for a network tag.
// Returns an error if the network is not registered.
func GetChainConfig(network string) (ChainConfig, error) {
	chainMu.RLock()
	defer chainMu.RUnlock()
	config, ok := chainConfigByNetwork[network]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
	}
	return config, nil
}

// RegisterNetwork adds or replaces a chain configuration in the
// registry. Intended for startup wiring (e.g., loading a network
// registry file); registered networks become selectable and payable.
func RegisterNetwork(config ChainConfig) error {
	if config.Network == "" {
		return fmt.Errorf("%w: network tag cannot be empty", ErrInvalidNetwork)
	}
	if config.ChainID <= 0 {
		return fmt.Errorf("%w: chain id must be positive for %s", ErrInvalidNetwork, config.Network)
	}
	chainMu.Lock()
	defer chainMu.Unlock()
	chainConfigByNetwork[config.Network] = config
	return nil
}

// KnownNetwork reports whether the network tag resolves to a registered
// EVM chain or the permissioned ledger tag.
func KnownNetwork(network string) bool {
	if network == NetworkCanton {
		return true
	}
	chainMu.RLock()
	defer chainMu.RUnlock()
	_, ok := chainConfigByNetwork[network]
	return ok
}

// ChainID returns the EIP-155 chain id for a registered EVM network.
func ChainID(network string) (*big.Int, error) {
	config, err := GetChainConfig(network)
	if err != nil {
		return nil, err
	}
	return big.NewInt(config.ChainID), nil
}
