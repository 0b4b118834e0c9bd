package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/licensor/internal/generation"
	"github.com/autobrr/licensor/internal/models"
)

// stackFlags are shared by every command that touches the database
type stackFlags struct {
	configDir string
	dataDir   string
}

func (f *stackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

func (f *stackFlags) open() (*stack, error) {
	cfg, err := loadConfig(f.configDir, f.dataDir)
	if err != nil {
		return nil, err
	}
	cfg.ApplyLogConfig()
	return openStack(cfg, false)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

func RunProductCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "product",
		Short: "Manage products",
	}

	var (
		flags stackFlags
		id    string
	)

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("product name cannot be empty")
			}

			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.Close()

			if id == "" {
				id = uuid.NewString()
			}

			product := &models.Product{ID: id, Name: name, CreatedAt: time.Now().UTC()}
			if err := s.directory.CreateProduct(cmd.Context(), product); err != nil {
				return err
			}

			cmd.Printf("Product '%s' created with ID: %s\n", product.Name, product.ID)
			return nil
		},
	}

	flags.register(add)
	add.Flags().StringVar(&id, "id", "", "product id (generated when empty)")

	command.AddCommand(add)
	return command
}

func RunConsumerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "consumer",
		Short: "Manage consumers",
	}

	var (
		flags   stackFlags
		id      string
		email   string
		company string
	)

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a consumer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" || strings.TrimSpace(email) == "" {
				return errors.New("consumer name and --email are required")
			}

			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.Close()

			if id == "" {
				id = uuid.NewString()
			}

			consumer := &models.Consumer{
				ID:        id,
				Name:      name,
				Email:     strings.TrimSpace(email),
				Company:   company,
				CreatedAt: time.Now().UTC(),
			}
			if err := s.directory.CreateConsumer(cmd.Context(), consumer); err != nil {
				return err
			}

			cmd.Printf("Consumer '%s' created with ID: %s\n", consumer.Name, consumer.ID)
			return nil
		},
	}

	flags.register(add)
	add.Flags().StringVar(&id, "id", "", "consumer id (generated when empty)")
	add.Flags().StringVar(&email, "email", "", "contact email")
	add.Flags().StringVar(&company, "company", "", "company name")

	command.AddCommand(add)
	return command
}

func RunIssueCommand() *cobra.Command {
	var (
		flags      stackFlags
		req        generation.Request
		model      string
		validDays  int
		issuedBy   string
		outputFile string
	)

	command := &cobra.Command{
		Use:   "issue",
		Short: "Generate and sign a license",
		Long: `Generate and sign a license without starting the server.

File based licenses are written to --output so they can be shipped to the
customer. Online and volumetric licenses print the product key used for
activation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := models.ParseLicenseModel(model)
			if err != nil {
				return err
			}
			req.Model = parsed

			if validDays > 0 {
				req.ValidFrom = time.Now().UTC()
				req.ValidTo = req.ValidFrom.Add(time.Duration(validDays) * 24 * time.Hour)
			}

			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.Close()

			if issuedBy == "" {
				issuedBy = s.cfg.Config.Issuer
			}

			license, err := s.factory.Generate(cmd.Context(), &req, issuedBy)
			if err != nil {
				return err
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, []byte(license.LicenseKey+"\n"), 0644); err != nil {
					return fmt.Errorf("failed to write license file: %w", err)
				}
			}

			summary := map[string]any{
				"id":        license.ID,
				"model":     license.Model.String(),
				"keyId":     license.KeyID,
				"validFrom": license.ValidFrom.Format(time.RFC3339),
				"validTo":   license.ValidTo.Format(time.RFC3339),
			}
			if license.ProductKey != "" {
				summary["productKey"] = license.ProductKey
			}
			if outputFile != "" {
				summary["file"] = outputFile
			} else {
				summary["licenseKey"] = license.LicenseKey
			}

			return printYAML(cmd.OutOrStdout(), summary)
		},
	}

	flags.register(command)
	command.Flags().StringVar(&req.ProductID, "product", "", "product id")
	command.Flags().StringVar(&req.ConsumerID, "consumer", "", "consumer id")
	command.Flags().StringVar(&req.TierID, "tier", "", "tier id supplying default features and caps")
	command.Flags().StringVar(&model, "model", "online_key", "license model: file_based, online_key or volumetric")
	command.Flags().IntVar(&validDays, "valid-days", 0, "validity in days from now (default from config)")
	command.Flags().StringVar(&req.MinVersion, "min-version", "", "lowest supported product version")
	command.Flags().StringVar(&req.MaxVersion, "max-version", "", "highest supported product version")
	command.Flags().StringSliceVar(&req.Features, "feature", nil, "enabled feature, repeatable")
	command.Flags().IntVar(&req.MaxActivations, "max-activations", 0, "device activation cap")
	command.Flags().IntVar(&req.MaxConcurrentUsers, "max-users", 0, "concurrent user cap for volumetric licenses")
	command.Flags().StringVar(&issuedBy, "issued-by", "", "operator issuing the license (default from config)")
	command.Flags().StringVarP(&outputFile, "output", "o", "", "write the license key to this file")

	return command
}

func RunVerifyCommand() *cobra.Command {
	var (
		flags     stackFlags
		licenseID string
		file      string
	)

	command := &cobra.Command{
		Use:   "verify [license-key]",
		Short: "Verify a license signature",
		Long: `Verify a license against the signing keys in the vault.

The license can be given as an argument, read from --file, or looked up by
--license-id.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()

			if licenseID != "" {
				license, err := s.licenses.Get(ctx, licenseID)
				if err != nil {
					return err
				}
				if err := s.factory.Verify(ctx, license); err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), map[string]any{
					"valid":  true,
					"id":     license.ID,
					"keyId":  license.KeyID,
					"status": string(license.Status),
				})
			}

			licenseKey, err := readLicenseKey(args, file)
			if err != nil {
				return err
			}

			fields, err := s.factory.VerifyLicenseKey(ctx, licenseKey)
			if err != nil {
				return err
			}

			return printYAML(cmd.OutOrStdout(), map[string]any{
				"valid":  true,
				"fields": fields,
			})
		},
	}

	flags.register(command)
	command.Flags().StringVar(&licenseID, "license-id", "", "verify a stored license by id")
	command.Flags().StringVarP(&file, "file", "f", "", "read the license key from a file")

	return command
}

func readLicenseKey(args []string, file string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	if file == "" {
		return "", errors.New("a license key, --file or --license-id is required")
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read license file: %w", err)
	}

	key := strings.TrimSpace(string(content))
	if key == "" {
		return "", fmt.Errorf("license file %s is empty", file)
	}
	return key, nil
}

func RunRotateKeysCommand() *cobra.Command {
	var flags stackFlags

	command := &cobra.Command{
		Use:   "rotate-keys <product-id>",
		Short: "Rotate the signing key pair of a product",
		Long: `Archive the active signing key pair of a product and create a new one.

Licenses signed with the archived pair stay verifiable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.Close()

			kp, err := s.vault.RotateKeys(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cmd.Printf("Rotated keys for product %s, new key id: %s (%s)\n", kp.ProductID, kp.KeyID, kp.Algorithm)
			return nil
		},
	}

	flags.register(command)
	return command
}

func RunSweepCommand() *cobra.Command {
	var flags stackFlags

	command := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue licenses and stale activations once",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.open()
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.sweeper.RunOnce(cmd.Context())
			if report != nil {
				if printErr := printYAML(cmd.OutOrStdout(), report); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}

	flags.register(command)
	return command
}
