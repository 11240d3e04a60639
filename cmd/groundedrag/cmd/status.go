package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/groundedrag/internal/config"
	"github.com/Aman-CERP/groundedrag/internal/embed"
	"github.com/Aman-CERP/groundedrag/internal/output"
	"github.com/Aman-CERP/groundedrag/pkg/version"
)

// statusInfo is the status command's JSON shape.
type statusInfo struct {
	Version    string `json:"version"`
	Root       string `json:"root"`
	DataDir    string `json:"data_dir"`
	Embedder   string `json:"embedder"`
	Dimensions int    `json:"dimensions"`
	Fallback   bool   `json:"fallback"`
	Dense      string `json:"dense_backend"`
	DenseCount int    `json:"dense_chunks"`
	Lexical    string `json:"lexical_backend"`
	// LexicalCount is -1 when lexical search is disabled.
	LexicalCount int    `json:"lexical_chunks"`
	Reranker     string `json:"reranker"`
	Server       string `json:"server"`
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and collaborator status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, cfg, err := loadConfig(g.root)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), root, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			info := collectStatus(a)
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(info)
			}
			printStatus(out, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func collectStatus(a *app) statusInfo {
	info := statusInfo{
		Version:      version.Version,
		Root:         a.root,
		DataDir:      config.DataDir(a.root),
		Embedder:     a.embedder.ModelName(),
		Dimensions:   a.embedder.Dimensions(),
		Fallback:     a.embedder.ModelName() == embed.ProviderStatic,
		Dense:        a.cfg.Dense.Backend,
		DenseCount:   a.dense.Count(),
		Lexical:      a.cfg.Lexical.Backend,
		LexicalCount: -1,
		Reranker:     a.cfg.Reranker.Provider,
		Server:       serverConfigSummary(a.cfg),
	}
	if a.lexical != nil {
		info.LexicalCount = a.lexical.Count()
	}
	return info
}

func printStatus(out *output.Writer, info statusInfo) {
	out.Statusf("", "Version:  %s", info.Version)
	out.Statusf("", "Project:  %s", info.Root)
	out.Statusf("", "Data:     %s", info.DataDir)
	out.Newline()
	out.Statusf("", "Embedder: %s (%d dims)", info.Embedder, info.Dimensions)
	if info.Fallback {
		out.Warning("Static embeddings in use; configure embeddings.provider for semantic search")
	}
	out.Statusf("", "Dense:    %s, %d chunks", info.Dense, info.DenseCount)
	if info.LexicalCount < 0 {
		out.Statusf("", "Lexical:  disabled")
	} else {
		out.Statusf("", "Lexical:  %s, %d chunks", info.Lexical, info.LexicalCount)
	}
	out.Statusf("", "Reranker: %s", info.Reranker)
	out.Statusf("", "Server:   %s", info.Server)
}

func serverConfigSummary(cfg *config.Config) string {
	return fmt.Sprintf("%s (http %s)", cfg.Server.Transport, cfg.Server.HTTPAddr)
}
