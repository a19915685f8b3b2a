package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"p2plend/cmd/internal/passphrase"
	"p2plend/config"
	"p2plend/crypto"
)

func newKeygenCmd() *cobra.Command {
	var out string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a participant key in an encrypted keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyFile := crypto.KeyFile{Path: out}
			if keyFile.Exists() && !force {
				return fmt.Errorf("keystore %s already exists (use --force to overwrite)", out)
			}
			pass, err := passphrase.NewSource(config.EnvKeystorePassphrase, "keystore", passphrase.WithConfirm()).Get()
			if err != nil {
				return err
			}
			key, err := crypto.CreateKeyFile(out, pass)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.PubKey().Address().String())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", envOr(envKeystore, "lend.keystore"), "Keystore file to write")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing keystore")
	return cmd
}

func newAddressCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the address stored in a keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := crypto.KeyFile{Path: path}.Address()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "keystore", envOr(envKeystore, "lend.keystore"), "Keystore file to read")
	return cmd
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(config.EnvKeystorePassphrase, "keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.KeyFile{Path: path}.Load(pass)
}
