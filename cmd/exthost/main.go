// Command exthost loads manga provider modules and runs their operations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	config   string
	store    string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "exthost",
		Short:         "Manga catalog provider host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "config file (.toml, .yml or .yaml)")
	root.PersistentFlags().StringVar(&g.store, "store", "", "provider store root, overrides store.root")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level, overrides log.level")

	root.AddCommand(newListCmd(&g))
	root.AddCommand(newProvidersCmd(&g))
	root.AddCommand(newSearchCmd(&g))
	root.AddCommand(newLatestCmd(&g))
	root.AddCommand(newDetailCmd(&g))
	root.AddCommand(newChapterCmd(&g))
	root.AddCommand(newIndexCmd(&g))
	root.AddCommand(newInspectCmd())
	root.AddCommand(newPackCmd())
	root.AddCommand(newExploreCmd(&g))
	return root
}
