package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marketconnect/llm-workbench/app/internal/catalog"
	"github.com/marketconnect/llm-workbench/app/internal/pricing"
	"github.com/marketconnect/llm-workbench/app/internal/repository"
	"github.com/marketconnect/llm-workbench/app/internal/tokenizer"
)

func newPriceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price <model-id> <input> <output>",
		Short: "Price an input/output pair offline against the model catalog",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelsFile, _ := cmd.Flags().GetString("models")
			encoding, _ := cmd.Flags().GetString("encoding")

			models, err := catalog.Load(modelsFile)
			if err != nil {
				return err
			}
			repo := repository.NewMemoryRepository()
			if err := catalog.Seed(cmd.Context(), repo, models); err != nil {
				return err
			}
			tok, err := tokenizer.New(encoding)
			if err != nil {
				return err
			}

			quote, model, err := pricing.NewEngine(repo, tok).Quote(cmd.Context(), args[1], args[2], args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:   %s (%s)\n", model.ID, model.Label)
			fmt.Fprintf(out, "input:   %d tokens, $%.8f\n", quote.InputTokens, quote.InputPrice)
			fmt.Fprintf(out, "output:  %d tokens, $%.8f\n", quote.OutputTokens, quote.OutputPrice)
			total := quote.InputPrice + quote.OutputPrice
			fmt.Fprintf(out, "total:   $%.8f\n", total)
			fmt.Fprintf(out, "display: $%.8f (margin %.1f%%)\n", pricing.WithMargin(total, model.Margin), model.Margin)
			return nil
		},
	}

	cmd.Flags().String("models", "", "TOML pricing catalog (built-in when empty)")
	cmd.Flags().String("encoding", tokenizer.DefaultEncoding, "tokenizer encoding")

	return cmd
}
