package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/groundedrag/internal/output"
)

type answerOptions struct {
	docID         string
	summaryLength int
	jsonOutput    bool
}

func newAnswerCmd(g *globalFlags) *cobra.Command {
	opts := answerOptions{}

	cmd := &cobra.Command{
		Use:   "answer <query>",
		Short: "Retrieve chunks and answer a query from them",
		Long: `Answer retrieves chunks for the query, classifies its intent and asks the
configured LLM for a summary grounded in those chunks. When no chunk
supports the query the answer is a refusal.

The API key is read from the environment variable named by answer.api_key_env
(OPENAI_API_KEY by default).`,
		Example: `  groundedrag answer "What are the benefits of solar power?"
  groundedrag answer "Compare lithium and sodium batteries" --summary-length 120`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnswer(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.docID, "doc-id", "", "Restrict retrieval to one document")
	cmd.Flags().IntVar(&opts.summaryLength, "summary-length", 0, "Target summary length in words (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAnswer(cmd *cobra.Command, g *globalFlags, query string, opts answerOptions) error {
	ctx := cmd.Context()
	root, cfg, err := loadConfig(g.root)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, root, cfg, appOptions{withLLM: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.pipeline.Ask(ctx, query, opts.docID, opts.summaryLength)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOutput {
		return out.JSON(resp)
	}
	out.Answer(resp.Summary, resp.Refused())
	return nil
}
