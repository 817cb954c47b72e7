package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking WIC_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("WIC_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8090"
}

// NewRootCmd creates the root cobra command for the wic CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wic",
		Short: "WIC compiles YAML workflow specifications into CWL",
		Long: `WIC compiles a tree of YAML workflow specifications into CWL documents,
inferring the edges between steps, and generates JSON Schemas for editing them.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "WIC server URL (or WIC_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newCompileCmd(),
		newSchemasCmd(),
		newServeCmd(),
		newSubmitCmd(),
		newListCmd(),
		newStatusCmd(),
	)

	return root
}

// addCatalogFlags registers the flags naming the catalog and inference tables.
func addCatalogFlags(cmd *cobra.Command, cfg *config.CompilerConfig) {
	f := cmd.Flags()
	f.StringVar(&cfg.CWLDirsFile, "cwl-dirs", cfg.CWLDirsFile, "File of \"namespace dir\" lines listing tool directories")
	f.StringVar(&cfg.YMLDirsFile, "yml-dirs", cfg.YMLDirsFile, "File of \"namespace dir\" lines listing specification directories")
	f.StringVar(&cfg.RulesFile, "rules", cfg.RulesFile, "Type compatibility rules")
	f.StringVar(&cfg.ConventionsFile, "conventions", cfg.ConventionsFile, "Port name conventions")
	f.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "Concurrent sibling compilations")
}
