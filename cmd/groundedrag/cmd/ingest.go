package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/groundedrag/internal/ingest"
	"github.com/Aman-CERP/groundedrag/internal/output"
)

func newIngestCmd(g *globalFlags) *cobra.Command {
	var docID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Chunk, embed and index documents",
		Long: `Ingest splits each file into overlapping chunks, embeds them and writes
them to the dense and lexical indexes under .groundedrag/.

The document id defaults to the file name without its extension. Chunk ids
are <doc_id>#<n>; ingesting the same document again overwrites its chunks.`,
		Example: `  groundedrag ingest docs/solar.md docs/wind.md
  groundedrag ingest notes.txt --doc-id energy-notes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if docID != "" && len(args) > 1 {
				return fmt.Errorf("--doc-id requires exactly one file, got %d", len(args))
			}
			return runIngest(cmd, g, args, docID, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&docID, "doc-id", "", "Document id (single file only)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runIngest(cmd *cobra.Command, g *globalFlags, paths []string, docID string, jsonOutput bool) error {
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

	in, err := a.newIngestor()
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	results := make([]ingest.Result, 0, len(paths))
	for _, p := range paths {
		res, err := in.IngestFile(ctx, p, docID)
		if err != nil {
			return err
		}
		results = append(results, res)
		if !jsonOutput {
			out.Ingested(res.DocID, res.Chunks, res.Duration)
		}
	}

	if jsonOutput {
		return out.JSON(results)
	}
	return nil
}
