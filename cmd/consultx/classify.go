package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/consultx/consultx/internal/app"
	"github.com/consultx/consultx/internal/assess"
	"github.com/consultx/consultx/internal/risk"
	"github.com/consultx/consultx/internal/session"
)

type classifyOutput struct {
	Input  string `json:"input"`
	Sender string `json:"sender"`
	assess.Evaluation
}

func newClassifyCmd() *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify text offline and print the assessment and guardrail decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := session.ParseSender(sender)
			if err != nil {
				return err
			}
			evaluator, err := app.BuildRiskStack(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			out, err := json.MarshalIndent(classifyOutput{
				Input:      text,
				Sender:     string(s),
				Evaluation: evaluator.Evaluate(cmd.Context(), "", string(s), text, nil),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", risk.SenderUser, "sender of the text (user, assistant, system)")
	return cmd
}
