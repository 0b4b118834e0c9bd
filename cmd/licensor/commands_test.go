package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

func setupCommandEnv(t *testing.T) []string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("LICENSOR__KEYS__ALGORITHM", "ed25519")

	return []string{
		"--config-dir", filepath.Join(tmpDir, "config"),
		"--data-dir", filepath.Join(tmpDir, "data"),
	}
}

func seedDirectory(t *testing.T, dirFlags []string) {
	t.Helper()

	output, err := runCommand(t, RunProductCommand(), append([]string{"add", "Widget Studio", "--id", "product-1"}, dirFlags...)...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Product 'Widget Studio' created with ID: product-1")

	output, err = runCommand(t, RunConsumerCommand(), append([]string{"add", "Acme Ops", "--id", "consumer-1", "--email", "ops@acme.test"}, dirFlags...)...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Consumer 'Acme Ops' created with ID: consumer-1")
}

func TestIssueAndVerifyFileBasedLicense(t *testing.T) {
	dirFlags := setupCommandEnv(t)
	seedDirectory(t, dirFlags)

	licenseFile := filepath.Join(t.TempDir(), "widget.lic")

	output, err := runCommand(t, RunIssueCommand(), append([]string{
		"--product", "product-1",
		"--consumer", "consumer-1",
		"--model", "file_based",
		"--valid-days", "30",
		"--feature", "export",
		"--feature", "sync",
		"--output", licenseFile,
	}, dirFlags...)...)
	require.NoError(t, err, output)

	var issued map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(output), &issued))
	assert.Equal(t, "file_based", issued["model"])
	assert.Equal(t, licenseFile, issued["file"])
	assert.NotContains(t, issued, "productKey")

	content, err := os.ReadFile(licenseFile)
	require.NoError(t, err)
	assert.NotEmpty(t, bytes.TrimSpace(content))

	output, err = runCommand(t, RunVerifyCommand(), append([]string{"--file", licenseFile}, dirFlags...)...)
	require.NoError(t, err, output)

	var verified map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(output), &verified))
	assert.Equal(t, true, verified["valid"])

	output, err = runCommand(t, RunVerifyCommand(), append([]string{"--license-id", issued["id"].(string)}, dirFlags...)...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "valid: true")

	output, err = runCommand(t, RunClientCommand(), "verify-offline", "--file", licenseFile)
	require.NoError(t, err, output)
	assert.Contains(t, output, "valid: true")
}

func TestIssueOnlineLicensePrintsProductKey(t *testing.T) {
	dirFlags := setupCommandEnv(t)
	seedDirectory(t, dirFlags)

	output, err := runCommand(t, RunIssueCommand(), append([]string{
		"--product", "product-1",
		"--consumer", "consumer-1",
		"--model", "online",
		"--max-activations", "3",
	}, dirFlags...)...)
	require.NoError(t, err, output)

	var issued map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(output), &issued))
	assert.Equal(t, "online_key", issued["model"])
	assert.Regexp(t, `^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`, issued["productKey"])
	assert.NotEmpty(t, issued["licenseKey"])
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	dirFlags := setupCommandEnv(t)
	seedDirectory(t, dirFlags)

	_, err := runCommand(t, RunIssueCommand(), append([]string{
		"--product", "product-1",
		"--consumer", "consumer-1",
		"--model", "subscription",
	}, dirFlags...)...)
	assert.Error(t, err)

	_, err = runCommand(t, RunIssueCommand(), append([]string{
		"--product", "product-1",
		"--consumer", "missing-consumer",
		"--model", "online_key",
		"--max-activations", "1",
	}, dirFlags...)...)
	assert.Error(t, err)
}

func TestVerifyRequiresInput(t *testing.T) {
	dirFlags := setupCommandEnv(t)

	_, err := runCommand(t, RunVerifyCommand(), dirFlags...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "license key")
}

func TestRotateKeysAndSweep(t *testing.T) {
	dirFlags := setupCommandEnv(t)
	seedDirectory(t, dirFlags)

	output, err := runCommand(t, RunRotateKeysCommand(), append([]string{"product-1"}, dirFlags...)...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Rotated keys for product product-1")
	assert.Contains(t, output, "ed25519")

	output, err = runCommand(t, RunSweepCommand(), dirFlags...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "expiredlicenses: 0")
}

func TestConsumerAddRequiresEmail(t *testing.T) {
	dirFlags := setupCommandEnv(t)

	_, err := runCommand(t, RunConsumerCommand(), append([]string{"add", "Acme Ops"}, dirFlags...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--email")
}
