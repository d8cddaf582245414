// Package cmd wires PingFS's command-line surface: flag parsing, config
// validation, and the mount/unmount lifecycle.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ShySec/pingfs/internal/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// Config is the fully resolved configuration for this process,
	// populated by cobra/viper before rootCmd.RunE fires.
	Config cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "pingfs [flags] mountpoint",
	Short: "Mount a filesystem backed by perpetually in-flight ICMP echoes",
	Long: `PingFS stores file data as the payload of ICMP Echo Request/Reply
exchanges kept continuously cycling against one or more cooperating
remote hosts. Data exists only as long as the process keeps echoing it;
killing PingFS discards everything it was holding.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}

		Config.FileSystem.Mountpoint = args[0]
		if err := Config.Validate(); err != nil {
			return err
		}

		return runMount(cmd.Context(), &Config)
	},
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file overriding flag defaults")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&Config)
		return
	}

	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&Config)
}
