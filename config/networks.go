package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mark3labs/agentwallet-go/x402"
)

// networkFile is the shape of a network registry file:
//
//	networks:
//	  - network: xdai
//	    chain_id: 100
//	    usdc_address: "0xDDAfbb505ad214D7b80b1f830fcCc89B60fb7A83"
//	    decimals: 6
//	    eip3009_name: "USD//C on xDai"
//	    eip3009_version: "1"
type networkFile struct {
	Networks []networkEntry `yaml:"networks"`
}

type networkEntry struct {
	Network        string `yaml:"network"`
	ChainID        int64  `yaml:"chain_id"`
	USDCAddress    string `yaml:"usdc_address"`
	Decimals       int32  `yaml:"decimals"`
	EIP3009Name    string `yaml:"eip3009_name"`
	EIP3009Version string `yaml:"eip3009_version"`
}

// LoadNetworks reads a YAML network registry file and registers every
// entry, making those networks selectable and payable. Omitted
// decimals and EIP-712 domain parameters default to the common USDC
// deployment values (6, "USD Coin", "2").
func LoadNetworks(path string) ([]x402.ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading networks file: %w", err)
	}

	var file networkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parsing networks file %s: %w", path, err)
	}
	if len(file.Networks) == 0 {
		return nil, fmt.Errorf("config: networks file %s defines no networks", path)
	}

	chains := make([]x402.ChainConfig, 0, len(file.Networks))
	for i, entry := range file.Networks {
		if entry.USDCAddress == "" {
			return nil, fmt.Errorf("config: networks file %s: entry %d (%s) has no usdc_address", path, i, entry.Network)
		}
		chain := x402.ChainConfig{
			Network:        entry.Network,
			ChainID:        entry.ChainID,
			USDCAddress:    entry.USDCAddress,
			Decimals:       entry.Decimals,
			EIP3009Name:    entry.EIP3009Name,
			EIP3009Version: entry.EIP3009Version,
		}
		if chain.Decimals == 0 {
			chain.Decimals = 6
		}
		if chain.EIP3009Name == "" {
			chain.EIP3009Name = "USD Coin"
		}
		if chain.EIP3009Version == "" {
			chain.EIP3009Version = "2"
		}
		if err := x402.RegisterNetwork(chain); err != nil {
			return nil, fmt.Errorf("config: networks file %s: entry %d: %w", path, i, err)
		}
		chains = append(chains, chain)
	}
	return chains, nil
}
