package types

import "fmt"

// Network represents supported blockchain networks
type Network string

const (
	// EVM Networks
	NetworkEthereum Network = "ethereum"
	NetworkBSC      Network = "bsc"
	NetworkPolygon  Network = "polygon"

	// Cosmos Networks
	NetworkCosmos Network = "cosmos"

	// Hedera Networks
	NetworkHedera Network = "hedera"
)

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainCosmos ChainFamily = "cosmos"
	ChainHedera ChainFamily = "hedera"
)

// AllNetworks lists every network the engine can be configured for.
func AllNetworks() []Network {
	return []Network{NetworkEthereum, NetworkBSC, NetworkPolygon, NetworkCosmos, NetworkHedera}
}

// ParseNetwork validates a network name coming from config or an API caller.
func ParseNetwork(s string) (Network, error) {
	n := Network(s)
	if !n.Valid() {
		return "", &Error{Code: ErrUnsupportedNetwork, Message: fmt.Sprintf("unsupported network: %s", s)}
	}
	return n, nil
}

func (n Network) Valid() bool {
	switch n {
	case NetworkEthereum, NetworkBSC, NetworkPolygon, NetworkCosmos, NetworkHedera:
		return true
	}
	return false
}

func (n Network) IsEVM() bool {
	return n == NetworkEthereum || n == NetworkBSC || n == NetworkPolygon
}

func (n Network) IsCosmos() bool {
	return n == NetworkCosmos
}

func (n Network) IsHedera() bool {
	return n == NetworkHedera
}

// Family returns the chain family the network belongs to.
func (n Network) Family() ChainFamily {
	switch {
	case n.IsEVM():
		return ChainEVM
	case n.IsCosmos():
		return ChainCosmos
	case n.IsHedera():
		return ChainHedera
	}
	return ""
}

func (n Network) String() string {
	return string(n)
}

// SupportsMemo reports whether the network reliably propagates a free-text
// memo with transfers. On networks without memo support the matching engine
// falls back to the (recipient, token, amount, time-window) tuple, which is a
// weaker guarantee.
func (n Network) SupportsMemo() bool {
	return n.IsHedera()
}
