package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainpay-io/chainpay/types"
)

var (
	hederaAccountRe = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)
	hederaTxIDRe    = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+-[0-9]+-[0-9]+$`)
	hexRe           = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	bech32Re        = regexp.MustCompile(`^[a-z0-9]+1[02-9ac-hj-np-z]+$`)
)

// ValidateAddress checks that address is plausibly valid for the network's
// family. It is a format check, not an on-chain existence check.
func ValidateAddress(network types.Network, address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch network.Family() {
	case types.ChainEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address %q", address)
		}
	case types.ChainHedera:
		// shard.realm.num account IDs
		if !hederaAccountRe.MatchString(address) {
			return fmt.Errorf("invalid Hedera account ID %q", address)
		}
	case types.ChainCosmos:
		if !strings.HasPrefix(address, "cosmos") || !bech32Re.MatchString(address) {
			return fmt.Errorf("invalid Cosmos address %q", address)
		}
		if len(address) < 39 || len(address) > 90 {
			return fmt.Errorf("Cosmos address %q has invalid length", address)
		}
	default:
		return fmt.Errorf("unsupported network %q", network)
	}
	return nil
}

// ValidateTxHash checks the transaction identifier format for the network's
// family: 0x-prefixed 32-byte hex on EVM, uppercase 32-byte hex on Cosmos,
// shard.realm.num-seconds-nanos transaction IDs on Hedera.
func ValidateTxHash(network types.Network, hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}

	switch network.Family() {
	case types.ChainEVM:
		if !strings.HasPrefix(hash, "0x") || len(hash) != 66 || !hexRe.MatchString(hash[2:]) {
			return fmt.Errorf("invalid EVM transaction hash %q", hash)
		}
	case types.ChainCosmos:
		if len(hash) != 64 || !hexRe.MatchString(hash) {
			return fmt.Errorf("invalid Cosmos transaction hash %q", hash)
		}
	case types.ChainHedera:
		if !hederaTxIDRe.MatchString(hash) {
			return fmt.Errorf("invalid Hedera transaction ID %q", hash)
		}
	default:
		return fmt.Errorf("unsupported network %q", network)
	}
	return nil
}

// SameAddress compares two addresses with the network family's equality
// rules. EVM addresses compare case-insensitively since checksumming only
// affects casing.
func SameAddress(network types.Network, a, b string) bool {
	if network.IsEVM() {
		return strings.EqualFold(a, b)
	}
	return a == b
}
