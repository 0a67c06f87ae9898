package cli

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"go-dm/internal/config"
	"go-dm/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the dmsync command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dmsync",
		Short: "Direct-message sync engine",
		Long: `dmsync keeps per-user conversation lists and shared message logs
consistent on top of a document store, and serves live views over websockets.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default config/dmsync.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	return cmd
}

func (o *RootOptions) load() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Log, o.Verbose), nil
}
