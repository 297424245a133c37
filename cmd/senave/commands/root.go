// Package commands implements the CLI commands for senave.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/senave-registros/internal/config"
	"github.com/jmylchreest/senave-registros/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "senave",
	Short: "Download SENAVE product registries as CSV",
	Long: `Senave downloads the phytosanitary and fertilizer product registries
published on the SENAVE consultation portal and converts them to CSV.

A headless Chrome selects each report on the portal form, triggers the
spreadsheet export and waits for the file to land on disk.

Examples:
  # Both registries into the current directory
  senave download

  # Only fertilizers, into a specific file
  senave download --report F --target F=/data/fertilizantes.csv

  # Convert a spreadsheet downloaded by hand
  senave convert excel_prod-123.xlsx fitosanitarios.csv --keep-source

  # List the report codes the portal offers
  senave options`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Options{
			Debug: viper.GetBool("debug"),
			Quiet: viper.GetBool("quiet"),
			JSON:  viper.GetBool("log_json"),
		})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.senave.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".senave")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())

	// Environment variables: SENAVE_DOWNLOAD_TIMEOUT, SENAVE_PORTAL_URL, ...
	viper.SetEnvPrefix("SENAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logger.Error("command failed", "error", err)
	}
	return err
}

// bindFlags binds command flags to config keys. Binding happens when the
// command runs so that commands sharing a key do not override each other.
func bindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}
