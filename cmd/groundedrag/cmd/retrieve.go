package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/groundedrag/internal/output"
	"github.com/Aman-CERP/groundedrag/internal/retrieval"
)

type retrieveOptions struct {
	docID      string
	topK       int
	rerankTopK int
	jsonOutput bool
}

func newRetrieveCmd(g *globalFlags) *cobra.Command {
	opts := retrieveOptions{}

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve the chunks most relevant to a query",
		Long: `Retrieve runs dense and lexical search, merges the candidates by chunk
id and reranks them. Chunks are printed best first.`,
		Example: `  groundedrag retrieve "What is the drawback of solar power?"
  groundedrag retrieve "battery chemistry" --doc-id storage --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.docID, "doc-id", "", "Restrict dense search to one document")
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "Requested result count (default from config)")
	cmd.Flags().IntVar(&opts.rerankTopK, "rerank-top-k", 0, "Chunks kept after reranking (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runRetrieve(cmd *cobra.Command, g *globalFlags, query string, opts retrieveOptions) error {
	ctx := cmd.Context()
	root, cfg, err := loadConfig(g.root)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, root, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	chunks, err := a.retriever.Retrieve(ctx, retrieval.Request{
		Query:      query,
		DocID:      opts.docID,
		TopK:       opts.topK,
		RerankTopK: opts.rerankTopK,
	})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOutput {
		if chunks == nil {
			chunks = []string{}
		}
		return out.JSON(map[string][]string{"chunks": chunks})
	}
	out.Chunks(query, chunks)
	return nil
}
