// Package cmd implements the engine's CLI, grounded on the teacher's
// cmd/root.go cobra wiring (global flags bound through viper, a cascading
// .env lookup, subcommands registered in init()).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgecore/engine/cmd/job"
	"github.com/forgecore/engine/cmd/server"
	"github.com/forgecore/engine/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Generation orchestration engine",
	Long: `engine is the core retry/escalation state machine for a multi-agent
code-generation platform: it classifies requests, runs a multi-model
thinking ensemble, generates candidates, validates them with a weighted
ensemble, and escalates across a provider ladder until a candidate clears
the minimum score or the iteration budget runs out.`,
}

// Execute runs the root command; called by main.main() once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.engine.yaml)")
	config.BindFlags(rootCmd)

	rootCmd.AddCommand(server.ServeCmd)
	rootCmd.AddCommand(job.JobCmd)
}

// initConfig mirrors the teacher's cascading .env lookup and viper config
// file resolution.
func initConfig() {
	config.LoadDotEnv(".env", "../.env")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".engine")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}
