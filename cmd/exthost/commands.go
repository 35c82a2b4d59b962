package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/bridge"
	"github.com/wippyai/extension-host/bus"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/store"
	"github.com/wippyai/extension-host/wasm"
)

// withApp loads the host, runs fn and closes the host.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	a, err := loadApp(ctx, g)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid provider id %q", s)
	}
	return id, nil
}

func newListCmd(g *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				var opts []bus.ListOption
				if all {
					opts = append(opts, bus.IncludeDisabled())
				}
				providers := a.bus.List(ctx, opts...)
				if len(providers) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no providers")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tNAME\tVERSION\tLIB")
				for _, m := range providers {
					_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.ID, m.Name, m.Version, m.LibVersion)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include disabled providers")
	return cmd
}

func newProvidersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show provider status, disable reasons and pool statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				errs := make([]string, len(a.report.Errors))
				for i, err := range a.report.Errors {
					errs[i] = err.Error()
				}
				return writeJSON(cmd.OutOrStdout(), struct {
					Providers []bus.ProviderStatus `json:"providers"`
					Errors    []string             `json:"errors,omitempty"`
				}{a.bus.Providers(ctx), errs})
			})
		},
	}
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var params bridge.SearchParams
	cmd := &cobra.Command{
		Use:   "search <provider-id> <keyword>",
		Short: "Search a provider's catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			params.Keyword = args[1]
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				found, err := a.bus.Search(ctx, id, params)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), found)
			})
		},
	}
	cmd.Flags().StringVar(&params.Page, "page", "", "result page")
	cmd.Flags().StringVar(&params.SortBy, "sort-by", "", "sort field")
	cmd.Flags().StringVar(&params.SortOrder, "sort-order", "", "asc or desc")
	return cmd
}

func newLatestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "latest <provider-id>",
		Short: "Show a provider's latest updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				latest, err := a.bus.Latest(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), latest)
			})
		},
	}
}

func newDetailCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "detail <provider-id> <path>",
		Short: "Show details of a manga",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				detail, err := a.bus.Detail(ctx, id, args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), detail)
			})
		},
	}
}

func newChapterCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chapter <provider-id> <path>",
		Short: "List the pages of a chapter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				ch, err := a.bus.Chapter(ctx, id, args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), ch)
			})
		},
	}
}

func newIndexCmd(g *globalFlags) *cobra.Command {
	var pin bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Write the discovery index for the loaded providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				var entries []manifest.Entry
				for _, m := range a.bus.List(ctx) {
					e := manifest.Entry{Path: manifest.LibraryPath(m.Name), Metadata: m}
					if p, ok := a.registry.Lookup(m.ID); ok && pin && p.Source == e.Path {
						e.SHA256 = p.SHA256
					}
					entries = append(entries, e)
				}
				target := filepath.Join(a.cfg.Store.Root, manifest.IndexFile)
				if err := writeIndexFile(target, entries); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d providers to %s\n", len(entries), target)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&pin, "pin", false, "record the sha256 of each binary")
	return cmd
}

func writeIndexFile(target string, entries []manifest.Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".index-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := manifest.WriteIndex(tmp, entries); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

type inspection struct {
	Metadata *manifest.Metadata `json:"metadata,omitempty"`
	File     string             `json:"file"`
	SHA256   string             `json:"sha256"`
	Imports  []string           `json:"imports"`
	Exports  []string           `json:"exports"`
	Missing  []string           `json:"missing_operations,omitempty"`
	Size     int                `json:"size"`
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.wasm>",
		Short: "Show metadata, imports and exports of a provider binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sum, err := wasm.Scan(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := inspection{File: args[0], Size: len(data), SHA256: store.Digest(data)}
			for _, imp := range sum.Imports {
				out.Imports = append(out.Imports, fmt.Sprintf("%s.%s (%s)", imp.Module, imp.Name, wasm.KindName(imp.Kind)))
			}
			for _, exp := range sum.Exports {
				out.Exports = append(out.Exports, fmt.Sprintf("%s (%s)", exp.Name, wasm.KindName(exp.Kind)))
			}
			for _, op := range extensionhost.Operations {
				if !sum.HasExport(op, wasm.KindFunc) {
					out.Missing = append(out.Missing, op)
				}
			}
			meta, ok, err := manifest.Embedded(sum)
			if err != nil {
				return err
			}
			if ok {
				out.Metadata = &meta
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newPackCmd() *cobra.Command {
	var (
		meta   manifest.Metadata
		output string
	)
	cmd := &cobra.Command{
		Use:   "pack <file.wasm>",
		Short: "Embed provider metadata into a binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := meta.Validate(); err != nil {
				return err
			}
			if _, err := meta.Interface(); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			packed, err := manifest.Embed(data, meta)
			if err != nil {
				return err
			}
			if output == "" {
				output = args[0]
			}
			if err := os.WriteFile(output, packed, 0o644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "packed %s (%d) into %s\n", meta.Name, meta.ID, output)
			return nil
		},
	}
	cmd.Flags().Int64Var(&meta.ID, "id", 0, "provider id")
	cmd.Flags().StringVar(&meta.Name, "name", "", "provider name")
	cmd.Flags().StringVar(&meta.Version, "version", "", "provider version")
	cmd.Flags().StringVar(&meta.LibVersion, "lib-version", "", "interface version the provider was built against")
	cmd.Flags().StringVar(&meta.Icon, "icon", "", "icon url")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, default rewrites the input")
	return cmd
}
