package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/wallet"
)

var explorerCmd = &cobra.Command{
	Use:   "explorer <tx-hash|address>",
	Short: "Print the block explorer link for a transaction or address",
	Long: `Print the block explorer link for a transaction hash or an address.

Without --chain the server's target network is used.`,
	GroupID: "agreements",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chainID, _ := cmd.Flags().GetUint64("chain")
		if chainID == 0 {
			h, err := leaseClient.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("looking up the target network (pass --chain to skip): %w", err)
			}
			chainID = h.TargetChainID
		}
		link, err := explorerLink(chainID, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), link)
		return nil
	},
}

// explorerLink builds the explorer URL for ref, which is either a 32-byte
// transaction hash or a 20-byte address.
func explorerLink(chainID uint64, ref string) (string, error) {
	var link string
	switch {
	case isTxHash(ref):
		link = wallet.ExplorerTxURL(chainID, ref)
	case common.IsHexAddress(ref):
		link = wallet.ExplorerAddressURL(chainID, ref)
	default:
		return "", fmt.Errorf("%q is neither a transaction hash nor an address", ref)
	}
	if link == "" {
		return "", fmt.Errorf("no block explorer known for %s (chain %d)", wallet.ChainName(chainID), chainID)
	}
	return link, nil
}

func isTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	b := common.FromHex(s)
	return len(b) == common.HashLength && len(s) == 2+2*common.HashLength
}

func init() {
	explorerCmd.Flags().Uint64("chain", 0, "chain id (default: the server's target network)")
}
