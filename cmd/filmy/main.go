package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/filmyai/filmy/internal/config"
	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/logging"
)

var Version = "0.1.0"

func main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "filmy",
		Short:        "Edit videos with natural-language instructions",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve()
			},
		},
		parseCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseCommand prints the plan an instruction would produce without
// touching any video.
func parseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <instruction>",
		Short: "Print the edit plan for an instruction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewLogger(cfg.LogLevel())

			rulesOnly, _ := cmd.Flags().GetBool("rules")
			var gen instruction.TextGenerator
			if !rulesOnly {
				if gen, err = newGenerator(cfg, logger); err != nil {
					return err
				}
			}

			res := instruction.NewStrategy(gen, logger).Parse(cmd.Context(), strings.Join(args, " "))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().Bool("rules", false, "Skip the LLM and use the keyword rules only")
	return cmd
}
