// Package cli implements the nfectl command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/garyjia/nfe-danfe/internal/config"
	"github.com/garyjia/nfe-danfe/internal/label"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/garyjia/nfe-danfe/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

// globalOptions are shared by every subcommand
type globalOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

// app is the state built once per invocation
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	stdout   io.Writer
}

// NewRootCommand builds the nfectl command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "nfectl",
		Short: "Parse NF-e documents, print DANFEs and volume labels",
		Long: `nfectl reads authorized NF-e XML documents and produces the DANFE,
volume labels and label manifests, one document at a time or in batches.

Examples:
  nfectl parse nota.xml
  nfectl danfe nota.xml -o danfe.pdf
  nfectl labels nota.xml --count 4 --consolidate -o etiquetas.pdf
  nfectl batch ./entrada --out ./saida --report lote.xlsx`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml",
		"Path to the configuration file; a missing default file is ignored")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"Environment file loaded before the configuration")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newParseCommand(opts),
		newDanfeCommand(opts),
		newLabelsCommand(opts),
		newBatchCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

// Execute runs nfectl and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	if err := loadEnvFile(opts.envFile); err != nil {
		return nil, err
	}

	cfgPath := opts.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
			cfgPath = ""
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggerSettings()
	// stdout carries command output
	if logCfg.OutputPath == "stdout" || logCfg.OutputPath == "" {
		logCfg.OutputPath = "stderr"
	}
	if opts.verbose {
		logCfg.Level = "debug"
	} else if !cmd.Flags().Changed("config") && cfgPath == "" {
		logCfg.Level = "warn"
	}
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var catalog *label.HazmatCatalog
	if path := cfg.Hazmat.CatalogPath; path != "" {
		catalog, err = label.LoadHazmatCatalog(path)
		if err != nil {
			return nil, err
		}
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline.NewDefault(cfg.QRCodeSettings(), catalog, logger),
		stdout:   cmd.OutOrStdout(),
	}, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
