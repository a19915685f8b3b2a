package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envEndpoint = "LEND_RPC_ENDPOINT"
	envToken    = "LEND_RPC_TOKEN"
	envKeystore = "LEND_KEYSTORE"

	defaultEndpoint = "http://127.0.0.1:8545"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lend-cli",
		Short:         "Client for the p2plend lending node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newKeygenCmd(),
		newAddressCmd(),
		newCallCmd(),
		newMethodsCmd(),
		newTokenCmd(),
		newUnitsCmd(),
		newArchiveCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
