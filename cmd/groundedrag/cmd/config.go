package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/groundedrag/internal/config"
	"github.com/Aman-CERP/groundedrag/internal/output"
)

// Config sources accepted by config show.
const (
	sourceMerged   = "merged"
	sourceUser     = "user"
	sourceProject  = "project"
	sourceDefaults = "defaults"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage groundedrag configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/groundedrag/config.yaml)
  3. Project config (.groundedrag.yaml)
  4. Environment variables (GROUNDEDRAG_*)`,
		Example: `  # Create user config with defaults
  groundedrag config init

  # Show effective configuration
  groundedrag config show

  # Print user config file path
  groundedrag config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file with default values.

The file is created at ~/.config/groundedrag/config.yaml
(or $XDG_CONFIG_HOME/groundedrag/config.yaml if XDG_CONFIG_HOME is set).
With --force an existing file is backed up and rewritten with any new
defaults added; existing values are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Back up and upgrade an existing configuration")

	return cmd
}

func newConfigShowCmd(g *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Example: `  groundedrag config show
  groundedrag config show --json
  groundedrag config show --source user`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, g.root, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", sourceMerged, "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := config.GetUserConfigPath()

	cfg := config.NewConfig()
	var backup string
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("", "Location: %s", path)
			out.Status("", "Use --force to upgrade it with new defaults")
			return nil
		}
		if backup, err = config.BackupFile(path); err != nil {
			return err
		}
		// Existing values override the defaults they are decoded onto.
		if err := readYAML(path, cfg); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}

	if backup != "" {
		out.Success("Configuration upgraded")
		out.Statusf("", "Backup: %s", backup)
	} else {
		out.Success("Created user configuration")
	}
	out.Statusf("", "Location: %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, rootFlag string, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())
	dir := rootFlag
	if dir == "" {
		dir = "."
	}

	var cfg *config.Config
	var desc string

	switch source {
	case sourceMerged:
		root, merged, err := loadConfig(dir)
		if err != nil {
			return err
		}
		cfg = merged
		desc = fmt.Sprintf("merged (defaults + user + project + env) for %s", root)

	case sourceUser:
		path := config.GetUserConfigPath()
		cfg = config.NewConfig()
		if err := readYAML(path, cfg); err != nil {
			if os.IsNotExist(err) {
				out.Warning("No user configuration file found")
				out.Statusf("", "Expected at: %s", path)
				return nil
			}
			return err
		}
		desc = fmt.Sprintf("user (%s)", path)

	case sourceProject:
		root, err := config.FindProjectRoot(dir)
		if err != nil {
			return err
		}
		path := filepath.Join(root, config.ProjectConfigName)
		cfg = config.NewConfig()
		if err := readYAML(path, cfg); err != nil {
			if os.IsNotExist(err) {
				out.Warning("No project configuration file found")
				out.Statusf("", "Expected at: %s", path)
				return nil
			}
			return err
		}
		desc = fmt.Sprintf("project (%s)", path)

	case sourceDefaults:
		cfg = config.NewConfig()
		desc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, project, defaults)", source)
	}

	if jsonOutput {
		return out.JSON(cfg)
	}

	out.Statusf("", "Configuration source: %s", desc)
	out.Newline()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}

// readYAML decodes path onto cfg. A missing file returns the os error.
func readYAML(path string, cfg *config.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
