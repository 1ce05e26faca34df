package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/git-stunts/git-warp/internal/config"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warp",
	Short: "git-warp - a content-addressed graph database with CRDT merge semantics",
	Long: `warp builds and maintains a commit-graph-backed property graph where
every write is a CRDT operation, every commit is tamper-evidently chained
into an audit trail, and divergent writers reconcile by fetch-and-merge
rather than locking.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .git-warp/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&graphFlag, "graph", "", "graph name (default: from config)")
	rootCmd.PersistentFlags().StringVar(&writerFlag, "writer", "", "writer id (default: from config)")

	rootCmd.SetVersionTemplate(`git-warp {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(materializeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

var (
	graphFlag  string
	writerFlag string
)

func graphName() string {
	if graphFlag != "" {
		return graphFlag
	}
	return cfg.Graph.Name
}

func writerID() string {
	if writerFlag != "" {
		return writerFlag
	}
	return cfg.Graph.WriterID
}
