package x402

// OptionSelector chooses one payment option from a 402 challenge.
// Implementations must be deterministic: the choice fixes which
// network, asset, and fees apply to the payment.
type OptionSelector interface {
	// Select picks one option from a non-empty accepts list.
	Select(options []PaymentOption) (PaymentOption, error)
}

// DefaultSelector implements the wallet's tie-break policy around a
// configured primary network.
type DefaultSelector struct {
	// PrimaryNetwork is preferred when several exact-scheme options are
	// offered (typically the mainnet chain the wallet operates on).
	PrimaryNetwork string
}

// Select implements OptionSelector via SelectOption.
func (s DefaultSelector) Select(options []PaymentOption) (PaymentOption, error) {
	return SelectOption(options, s.PrimaryNetwork)
}

// SelectOption picks one payment option deterministically:
//
//  1. An "exact"-scheme option on the primary network, if present.
//  2. Else any "exact"-scheme option, in list order.
//  3. Else the first option as presented.
//
// An empty list returns ErrNoCompatibleOption; callers are expected to
// have validated non-emptiness when parsing the challenge.
func SelectOption(options []PaymentOption, primaryNetwork string) (PaymentOption, error) {
	if len(options) == 0 {
		return PaymentOption{}, ErrNoCompatibleOption
	}
	for _, opt := range options {
		if opt.Scheme == SchemeExact && opt.Network == primaryNetwork {
			return opt, nil
		}
	}
	for _, opt := range options {
		if opt.Scheme == SchemeExact {
			return opt, nil
		}
	}
	return options[0], nil
}
