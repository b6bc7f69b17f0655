package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/consultx/consultx/internal/config"
)

var envFile string

// Execute builds the command tree and runs it.
func Execute(version, commit, date string) {
	if err := newRootCmd(version, commit, date).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "consultx",
		Short: "Session risk tracking service",
		Long:  "consultx classifies conversation turns into risk tiers, applies guardrails and keeps per-session summaries.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(cmd.Root().PersistentFlags().Changed("env-file"))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newLexiconCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))
	return rootCmd
}

// loadEnvFile loads the dotenv file without overriding variables already set.
// A missing default file is fine; a missing explicit one is an error.
func loadEnvFile(explicit bool) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); err != nil {
		if explicit {
			return fmt.Errorf("env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	log.Printf("loaded environment from %s", envFile)
	return nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}
