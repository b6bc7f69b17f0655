package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/consultx/consultx/internal/risk"
)

func newLexiconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexicon",
		Short: "Inspect the risk lexicon",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for lexicon override files",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := lexiconSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "triggers",
		Short: "List the hard trigger phrases in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lex, err := risk.LoadLexicon(cfg.RiskLexiconPath)
			if err != nil {
				return err
			}
			for _, t := range lex.HardTriggers() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	})
	return cmd
}

func lexiconSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&risk.LexiconFile{})
	schema.Title = "consultx risk lexicon"
	return json.MarshalIndent(schema, "", "  ")
}
