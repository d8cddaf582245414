package cmd

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/ShySec/pingfs/internal/cfg"
)

// withSavedRunState saves and restores the package-level error vars and
// Config so tests can poke them without leaking state into one another.
func withSavedRunState(t *testing.T) {
	t.Helper()
	savedBind, savedConfigFile, savedUnmarshal := bindErr, configFileErr, unmarshalErr
	savedConfig := Config
	t.Cleanup(func() {
		bindErr, configFileErr, unmarshalErr = savedBind, savedConfigFile, savedUnmarshal
		Config = savedConfig
	})
}

func TestRunEShortCircuitsOnBindErr(t *testing.T) {
	withSavedRunState(t)
	bindErr = errors.New("bind failed")
	configFileErr = nil
	unmarshalErr = nil

	err := rootCmd.RunE(rootCmd, []string{"/mnt/pingfs"})
	require.ErrorIs(t, err, bindErr)
}

func TestRunEShortCircuitsOnConfigFileErrBeforeUnmarshalErr(t *testing.T) {
	withSavedRunState(t)
	bindErr = nil
	configFileErr = errors.New("reading config file: boom")
	unmarshalErr = errors.New("unmarshal failed")

	err := rootCmd.RunE(rootCmd, []string{"/mnt/pingfs"})
	require.ErrorIs(t, err, configFileErr)
}

func TestRunEShortCircuitsOnUnmarshalErr(t *testing.T) {
	withSavedRunState(t)
	bindErr = nil
	configFileErr = nil
	unmarshalErr = errors.New("unmarshal failed")

	err := rootCmd.RunE(rootCmd, []string{"/mnt/pingfs"})
	require.ErrorIs(t, err, unmarshalErr)
}

func TestRunEPropagatesValidateError(t *testing.T) {
	withSavedRunState(t)
	bindErr = nil
	configFileErr = nil
	unmarshalErr = nil
	Config = cfg.Config{}

	err := rootCmd.RunE(rootCmd, []string{"/mnt/pingfs"})
	require.Error(t, err)
}

func TestInitConfigReportsUnreadableConfigFile(t *testing.T) {
	withSavedRunState(t)
	viper.Reset()
	cfgFile = filepath.Join(t.TempDir(), "does-not-exist.yaml")
	configFileErr = nil
	unmarshalErr = nil
	t.Cleanup(func() { cfgFile = "" })

	initConfig()
	require.Error(t, configFileErr)
}
