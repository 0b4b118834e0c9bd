package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobrr/licensor/internal/client"
)

// RunClientCommand exercises a running server the way a licensed
// application would
func RunClientCommand() *cobra.Command {
	var (
		server    string
		productID string
	)

	command := &cobra.Command{
		Use:   "client",
		Short: "Activate, deactivate and verify licenses as a client",
	}

	command.PersistentFlags().StringVar(&server, "server", "http://localhost:7477", "activation server URL")
	command.PersistentFlags().StringVar(&productID, "product", "", "product id the key must belong to")

	var clientID string
	activate := &cobra.Command{
		Use:   "activate <product-key>",
		Short: "Activate this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				hostname, err := os.Hostname()
				if err != nil {
					return fmt.Errorf("failed to determine client id: %w", err)
				}
				clientID = hostname
			}

			result, err := client.NewClient(server, productID).Activate(cmd.Context(), args[0], clientID, nil)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), result)
		},
	}
	activate.Flags().StringVar(&clientID, "client-id", "", "machine identifier (default is the hostname)")

	deactivate := &cobra.Command{
		Use:   "deactivate <activation-signature>",
		Short: "Release an activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.NewClient(server, productID).Deactivate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), result)
		},
	}

	var (
		file          string
		publicKeyFile string
	)
	verify := &cobra.Command{
		Use:   "verify-offline [license-key]",
		Short: "Verify a license artifact without contacting the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			licenseKey, err := readLicenseKey(args, file)
			if err != nil {
				return err
			}

			var trusted []string
			if publicKeyFile != "" {
				pem, err := os.ReadFile(publicKeyFile)
				if err != nil {
					return fmt.Errorf("failed to read public key: %w", err)
				}
				trusted = append(trusted, strings.TrimSpace(string(pem)))
			}

			fields, err := client.VerifyOffline(licenseKey, time.Now(), trusted...)
			if err != nil && !errors.Is(err, client.ErrLicenseInactive) {
				return err
			}

			if printErr := printYAML(cmd.OutOrStdout(), map[string]any{
				"valid":  err == nil,
				"fields": fields,
			}); printErr != nil {
				return printErr
			}
			return err
		},
	}
	verify.Flags().StringVarP(&file, "file", "f", "", "read the license key from a file")
	verify.Flags().StringVar(&publicKeyFile, "public-key", "", "PEM file with the trusted public key")

	command.AddCommand(activate, deactivate, verify)
	return command
}
