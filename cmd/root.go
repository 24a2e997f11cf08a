/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/inkpost/apiserver/config"
	"github.com/inkpost/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "inkpost",
	Short: "Multi-user blogging backend",
	Long: `inkpost serves a JSON API for user accounts and blog posts,
with role-based access for admins and post owners.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and builds the matching logger.
func loadConfig() (config.Config, *slog.Logger) {
	cfg := config.LoadConfig()
	return cfg, logging.New(cfg.Log, os.Stderr)
}
