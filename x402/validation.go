package x402

import (
	"fmt"
	"net/url"
	"regexp"
)

// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
var evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateAmount validates that an amount string is a valid non-negative
// integer in smallest units. Zero amounts are allowed for
// free-with-signature flows.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("%w: amount cannot be empty", ErrInvalidAmount)
	}
	if _, err := ParseAtomicAmount(amount); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

// ValidateAddress validates an address for the given network. EVM
// networks require the 0x-hex form; other ledgers only require a
// non-empty identifier since their address formats are opaque here.
func ValidateAddress(address, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if _, err := GetChainConfig(network); err == nil {
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s", address)
		}
	}
	return nil
}

// ValidateOption checks a single payment option's required fields.
// Unknown schemes are not rejected here: the selector may still fall
// back to the first listed option.
func ValidateOption(opt PaymentOption) error {
	if opt.Scheme == "" {
		return fmt.Errorf("scheme cannot be empty")
	}
	if opt.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	if err := ValidateAmount(opt.MaxAmountRequired); err != nil {
		return fmt.Errorf("maxAmountRequired: %v", err)
	}
	if err := ValidateAddress(opt.PayTo, opt.Network); err != nil {
		return fmt.Errorf("payTo: %v", err)
	}
	if opt.Asset == "" {
		return fmt.Errorf("asset cannot be empty")
	}
	if opt.Resource == "" {
		return fmt.Errorf("resource cannot be empty")
	}
	if _, err := url.Parse(opt.Resource); err != nil {
		return fmt.Errorf("resource: %v", err)
	}
	return nil
}

// ValidateChallenge checks a parsed 402 body: supported version,
// non-empty accepts list, and every option's required fields.
func ValidateChallenge(challenge *PaymentChallenge) error {
	if challenge == nil {
		return ErrInvalidChallenge
	}
	if challenge.X402Version != X402Version {
		return fmt.Errorf("%w: got version %d, want %d", ErrUnsupportedVersion, challenge.X402Version, X402Version)
	}
	if len(challenge.Accepts) == 0 {
		return fmt.Errorf("%w: accepts cannot be empty", ErrInvalidChallenge)
	}
	for i, opt := range challenge.Accepts {
		if err := ValidateOption(opt); err != nil {
			return fmt.Errorf("%w: accepts[%d]: %v", ErrInvalidChallenge, i, err)
		}
	}
	return nil
}
