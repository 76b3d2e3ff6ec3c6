package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"fit", "simulate", "runs", "serve", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "transit-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root should have --%s flag", name)
	}
}

func TestRootCommand_PreRunLoadsConfigFile(t *testing.T) {
	prevPath, prevLevel, prevCfg := configPath, logLevel, cfg
	t.Cleanup(func() { configPath, logLevel, cfg = prevPath, prevLevel, prevCfg })

	configPath = filepath.Join(t.TempDir(), "fitter.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("fit:\n  live_points: 77\nlog:\n  level: warn\n"), 0o600))
	logLevel = "debug"

	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	require.NotNil(t, cfg)
	assert.Equal(t, 77, cfg.Fit.LivePoints)
	assert.Equal(t, "debug", cfg.Log.Level, "--log-level overrides the file")

	logLevel = "loud"
	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")

	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	logLevel = ""
	err = rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestFitCommand_Flags(t *testing.T) {
	for _, name := range []string{
		"data", "priors", "target", "charset", "normalize", "save", "check", "timeout",
		"seed", "live-points", "workers", "max-iterations", "tolerance", "bound", "noise", "law", "baseline",
	} {
		assert.NotNil(t, fitCmd.Flags().Lookup(name), "fit should have --%s flag", name)
	}

	data := fitCmd.Flags().Lookup("data")
	require.NotNil(t, data)
	assert.Equal(t, []string{"true"}, data.Annotations[cobra.BashCompOneRequiredFlag])
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "get", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}
