// Package cmd provides the CLI commands for groundedrag.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/groundedrag/internal/logging"
	"github.com/Aman-CERP/groundedrag/internal/profiling"
	"github.com/Aman-CERP/groundedrag/pkg/version"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	root    string
	debug   bool
	profile profiling.Options

	loggingCleanup func()
	session        *profiling.Session
}

// NewRootCmd creates the root command for the groundedrag CLI.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "groundedrag",
		Short: "Grounded retrieval and answering over your documents",
		Long: `groundedrag retrieves the chunks of your documents most relevant to a
question and answers it from those chunks alone.

Retrieval merges dense (vector) and lexical (BM25) candidates by chunk id
and reranks them with a cross-encoder. Answers are refused when the
retrieved chunks do not support the question.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("groundedrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&g.root, "root", "", "Project directory (default: nearest .git or .groundedrag.yaml above cwd)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.groundedrag/logs/")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = g.start
	cmd.PersistentPostRunE = g.stop

	cmd.AddCommand(newRetrieveCmd(g))
	cmd.AddCommand(newAnswerCmd(g))
	cmd.AddCommand(newIngestCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start enables debug logging and profiling when requested. serve sets
// up its own logging and is skipped here.
func (g *globalFlags) start(cmd *cobra.Command, _ []string) error {
	if g.debug && cmd.Name() != "serve" {
		cfg := logging.DefaultConfig()
		cfg.Level = "debug"
		logger, cleanup, err := logging.Setup(cfg)
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		g.loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Debug("debug_logging_enabled", slog.String("log_file", cfg.FilePath))
	}

	if g.profile.Enabled() {
		s, err := profiling.Start(g.profile)
		if err != nil {
			return err
		}
		g.session = s
	}
	return nil
}

func (g *globalFlags) stop(_ *cobra.Command, _ []string) error {
	err := g.session.Stop()
	g.session = nil

	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
