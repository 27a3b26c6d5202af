package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Known chain ids.
const (
	ChainMainnet uint64 = 1
	ChainSepolia uint64 = 11155111
	ChainHolesky uint64 = 17000
)

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainDescriptor is the network description handed to a wallet that does
// not know the target chain (wallet_addEthereumChain parameters).
type ChainDescriptor struct {
	ChainID        uint64         `json:"-"`
	ChainName      string         `json:"chainName"`
	NativeCurrency NativeCurrency `json:"nativeCurrency"`
	RPCURLs        []string       `json:"rpcUrls"`
	BlockExplorers []string       `json:"blockExplorerUrls,omitempty"`
}

// HexChainID returns the chain id in the 0x-prefixed form wallets expect.
func (d ChainDescriptor) HexChainID() string {
	return hexutil.EncodeUint64(d.ChainID)
}

// BigChainID returns the chain id as a *big.Int for transaction signing.
func (d ChainDescriptor) BigChainID() *big.Int {
	return new(big.Int).SetUint64(d.ChainID)
}

// addChainParams is the JSON object sent with wallet_addEthereumChain.
type addChainParams struct {
	ChainID string `json:"chainId"`
	ChainDescriptor
}

// Sepolia is the default target network.
var Sepolia = ChainDescriptor{
	ChainID:        ChainSepolia,
	ChainName:      "Sepolia",
	NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
	RPCURLs:        []string{"https://rpc.sepolia.org"},
	BlockExplorers: []string{"https://sepolia.etherscan.io"},
}

// Holesky is accepted as an alternative test network.
var Holesky = ChainDescriptor{
	ChainID:        ChainHolesky,
	ChainName:      "Holesky",
	NativeCurrency: NativeCurrency{Name: "Holesky Ether", Symbol: "ETH", Decimals: 18},
	RPCURLs:        []string{"https://ethereum-holesky-rpc.publicnode.com"},
	BlockExplorers: []string{"https://holesky.etherscan.io"},
}

// DescriptorFor returns the built-in descriptor for chainID.
func DescriptorFor(chainID uint64) (ChainDescriptor, bool) {
	switch chainID {
	case ChainSepolia:
		return Sepolia, true
	case ChainHolesky:
		return Holesky, true
	}
	return ChainDescriptor{}, false
}

var explorers = map[uint64]string{
	ChainMainnet: "https://etherscan.io",
	ChainSepolia: "https://sepolia.etherscan.io",
	ChainHolesky: "https://holesky.etherscan.io",
}

// ExplorerTxURL links a transaction on the chain's block explorer, or ""
// for chains without one.
func ExplorerTxURL(chainID uint64, hash string) string {
	base, ok := explorers[chainID]
	if !ok || hash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", base, strings.ToLower(hash))
}

// ExplorerAddressURL links an address on the chain's block explorer, or ""
// for chains without one.
func ExplorerAddressURL(chainID uint64, address string) string {
	base, ok := explorers[chainID]
	if !ok || address == "" {
		return ""
	}
	return fmt.Sprintf("%s/address/%s", base, strings.ToLower(address))
}

// ChainName returns a readable name for chainID.
func ChainName(chainID uint64) string {
	switch chainID {
	case ChainMainnet:
		return "Ethereum"
	case ChainSepolia:
		return "Sepolia"
	case ChainHolesky:
		return "Holesky"
	case 0:
		return "none"
	}
	return fmt.Sprintf("chain %d", chainID)
}
