package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/client"
	"github.com/alfredjeanlab/leasebridge/internal/ui"
)

var (
	serverURL  string
	authToken  string
	identity   string
	jsonOutput bool
	noColor    bool

	leaseClient client.LeaseClient
)

func defaultServerURL() string {
	if s := os.Getenv("LEASE_SERVER_URL"); s != "" {
		return s
	}
	if p := activeProfile(); p.URL != "" {
		return p.URL
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("LEASE_TOKEN"); s != "" {
		return s
	}
	return activeProfile().Token
}

func defaultIdentity() string {
	if s := os.Getenv("LEASE_IDENTITY"); s != "" {
		return s
	}
	return activeProfile().Identity
}

var rootCmd = &cobra.Command{
	Use:           "leasectl <command>",
	Short:         "CLI for the leasebridge rental agreement coordinator",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		leaseClient = client.NewHTTPClient(serverURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if leaseClient != nil {
			leaseClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "leasebridge server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token for the server")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", defaultIdentity(), "signed-in identity (record store user id)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "agreements", Title: "Agreements:"},
		&cobra.Group{ID: "wallet", Title: "Wallet:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Agreements
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(nextCmd)
	for _, c := range actionCmds() {
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(explorerCmd)
	rootCmd.AddCommand(watchCmd)

	// Wallet
	rootCmd.AddCommand(walletCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}
