package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
)

func newBuildCommand(opts *rootOptions, version string) *cobra.Command {
	var (
		build       documents.BuildIROptions
		settings    map[string]string
		optionsFile string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a schema IR from a file, database or inline document",
		Example: `  ekaya-reconcile build --format csv --path customers.csv
  ekaya-reconcile build --source-type db --format postgres \
      --set host=localhost --set database=shop --set user=ekaya --set schema=public
  ekaya-reconcile build --options build.json -o table`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if optionsFile != "" {
				loaded, err := readBuildOptions(cmd, optionsFile)
				if err != nil {
					return err
				}
				build = *loaded
			}
			if len(settings) > 0 {
				if build.Config == nil {
					build.Config = make(map[string]any, len(settings))
				}
				for k, v := range settings {
					build.Config[k] = v
				}
			}
			return withApp(cmd, opts, version, func(ctx context.Context, rt *app, p *printer) error {
				doc, err := rt.svc.BuildIR(ctx, build)
				if err != nil {
					return err
				}
				return p.print(doc, schemaTable)
			})
		},
	}
	cmd.Flags().StringVar(&build.SourceType, "source-type", "file", "Source type: file, db or memory")
	cmd.Flags().StringVar(&build.Format, "format", "", "Source format, e.g. json, csv, yaml, toml, postgres, mssql")
	cmd.Flags().StringVar(&build.Path, "path", "", "Input file for file sources")
	cmd.Flags().StringToStringVar(&settings, "set", nil, "Source config key=value (repeatable)")
	cmd.Flags().StringVar(&optionsFile, "options", "", "JSON file holding the full build options")
	return cmd
}

func readBuildOptions(cmd *cobra.Command, path string) (*documents.BuildIROptions, error) {
	data, err := readDocument(cmd, path)
	if err != nil {
		return nil, err
	}
	var opts documents.BuildIROptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJSON, fmt.Sprintf("invalid build options in %s", path), err)
	}
	return &opts, nil
}

func newCompareCommand(opts *rootOptions, version string) *cobra.Command {
	var (
		compare         documents.CompareOptions
		threshold       float64
		caseInsensitive bool
		fromSources     bool
	)
	cmd := &cobra.Command{
		Use:   "compare <ir-a> <ir-b>",
		Short: "Compare two schema IR documents",
		Long: `Compare two schema IR documents and print the comparison document.

With --from-sources the arguments are build option files instead; both sides
are built concurrently before comparing.`,
		Example: `  ekaya-reconcile compare crm.json billing.json --strategy hybrid
  ekaya-reconcile compare --from-sources a.build.json b.build.json -o table`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("threshold") {
				compare.Threshold = &threshold
			}
			if caseInsensitive {
				compare.Config = map[string]any{"case_insensitive": true}
			}
			return withApp(cmd, opts, version, func(ctx context.Context, rt *app, p *printer) error {
				var sides [2][]byte
				if fromSources {
					built, err := buildBoth(ctx, cmd, rt, args)
					if err != nil {
						return err
					}
					sides = built
				} else {
					for i, path := range args {
						doc, err := readDocument(cmd, path)
						if err != nil {
							return err
						}
						sides[i] = doc
					}
				}
				doc, err := rt.svc.Compare(ctx, sides[0], sides[1], compare)
				if err != nil {
					return err
				}
				return p.print(doc, comparisonTable)
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold in [0, 1] (default from config)")
	cmd.Flags().StringVar(&compare.Strategy, "strategy", "", "Matching strategy: structural, semantic or hybrid")
	cmd.Flags().StringSliceVar(&compare.IgnoreFields, "ignore-fields", nil, "Field names excluded from comparison")
	cmd.Flags().BoolVar(&caseInsensitive, "case-insensitive", false, "Match names ignoring case")
	cmd.Flags().BoolVar(&fromSources, "from-sources", false, "Treat arguments as build option files")
	return cmd
}

// buildBoth builds the two sides of a comparison concurrently.
func buildBoth(ctx context.Context, cmd *cobra.Command, rt *app, paths []string) ([2][]byte, error) {
	var out [2][]byte
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			build, err := readBuildOptions(cmd, path)
			if err != nil {
				return err
			}
			doc, err := rt.svc.BuildIR(gctx, *build)
			if err != nil {
				return err
			}
			out[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func newProposeCommand(opts *rootOptions, version string) *cobra.Command {
	var (
		resolve    documents.ResolveOptions
		similarity float64
	)
	cmd := &cobra.Command{
		Use:     "propose <comparison>",
		Short:   "Propose a resolution plan for a comparison document",
		Example: `  ekaya-reconcile propose diff.json --strategy conservative --prefer-source b`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("auto-resolve-similarity") {
				resolve.Config = map[string]any{"auto_resolve_similarity": similarity}
			}
			return withApp(cmd, opts, version, func(ctx context.Context, rt *app, p *printer) error {
				comparison, err := readDocument(cmd, args[0])
				if err != nil {
					return err
				}
				doc, err := rt.svc.ProposeResolution(ctx, comparison, resolve)
				if err != nil {
					return err
				}
				return p.print(doc, planTable)
			})
		},
	}
	cmd.Flags().StringVar(&resolve.Strategy, "strategy", "", "Resolution strategy: conservative, balanced or aggressive")
	cmd.Flags().StringVar(&resolve.PreferSource, "prefer-source", "", "Side that wins conflicts: a, b or merge")
	cmd.Flags().Float64Var(&similarity, "auto-resolve-similarity", 0, "Minimum similarity for balanced auto-resolution")
	return cmd
}

func newApplyCommand(opts *rootOptions, version string) *cobra.Command {
	var (
		dryRun        bool
		backup        bool
		stopOnFailure bool
		timeout       time.Duration
		store         string
		basePath      string
		resultOut     string
	)
	cmd := &cobra.Command{
		Use:   "apply <plan>",
		Short: "Apply a resolution plan to a schema store",
		Long: `Apply a resolution plan to a schema store and print the apply result.

With the memory store driver the store only lives for this command: seed it
with --base and write the resulting schema with --result-out.`,
		Example: `  ekaya-reconcile apply plan.json --base crm.json --dry-run -o table
  ekaya-reconcile apply plan.json --base crm.json --result-out merged.json
  STORE_DRIVER=postgres ekaya-reconcile apply plan.json --store web`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apply := documents.ApplyOptions{Config: map[string]any{}}
			if cmd.Flags().Changed("dry-run") {
				apply.DryRun = &dryRun
			}
			if cmd.Flags().Changed("backup") {
				apply.Backup = &backup
			}
			if stopOnFailure {
				apply.Config["stop_on_failure"] = true
			}
			if timeout > 0 {
				apply.Config["timeout_ms"] = timeout.Milliseconds()
			}
			if store != "" {
				apply.Config["store"] = store
			}
			return withApp(cmd, opts, version, func(ctx context.Context, rt *app, p *printer) error {
				plan, err := readDocument(cmd, args[0])
				if err != nil {
					return err
				}
				if basePath != "" {
					base, err := readDocument(cmd, basePath)
					if err != nil {
						return err
					}
					apply.BaseIR = base
				}
				doc, err := rt.svc.ApplyResolution(ctx, plan, apply)
				if err != nil {
					return err
				}
				if resultOut != "" {
					if err := writeStoreSnapshot(ctx, rt, apply.StoreKey(rt.cfg.Store.Label), resultOut); err != nil {
						return err
					}
				}
				return p.print(doc, applyTable)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate the plan without mutating the store")
	cmd.Flags().BoolVar(&backup, "backup", true, "Back up touched entities before mutating")
	cmd.Flags().BoolVar(&stopOnFailure, "stop-on-failure", false, "Skip remaining actions after the first failure")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Bound the whole apply (default from config)")
	cmd.Flags().StringVar(&store, "store", "", "Store key (default from config)")
	cmd.Flags().StringVar(&basePath, "base", "", "Schema IR document that seeds the store first")
	cmd.Flags().StringVar(&resultOut, "result-out", "", "Write the store's schema after the apply to this file")
	return cmd
}

func writeStoreSnapshot(ctx context.Context, rt *app, store, path string) error {
	snap, err := rt.svc.StoreSnapshot(ctx, store)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, snap, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

func newValidateCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <ir>",
		Short: "Validate a schema IR document",
		Long: `Validate a schema IR document. The validation report is always printed;
the exit status is 2 when the report lists errors.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, version, func(ctx context.Context, rt *app, p *printer) error {
				ir, err := readDocument(cmd, args[0])
				if err != nil {
					return err
				}
				doc, err := rt.svc.ValidateIR(ctx, ir)
				if err != nil {
					return err
				}
				if err := p.print(doc, validationTable); err != nil {
					return err
				}
				var report documents.ValidationDocument
				if err := json.Unmarshal(doc, &report); err == nil && !report.OK {
					return &exitError{code: 2}
				}
				return nil
			})
		},
	}
}

func newRollbackCommand(opts *rootOptions, version string) *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:     "rollback <backup-ref>",
		Short:   "Restore the entities captured by an apply backup",
		Example: `  STORE_DRIVER=postgres ekaya-reconcile rollback 0b6f... --store web`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, version, func(ctx context.Context, rt *app, p *printer) error {
				key := store
				if key == "" {
					key = rt.cfg.Store.Label
				}
				doc, err := rt.svc.Rollback(ctx, key, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return p.print(doc, rollbackTable)
			})
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "Store key (default from config)")
	return cmd
}

func newSourcesCommand(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the registered ingestion adapters",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, version, func(_ context.Context, rt *app, p *printer) error {
				doc, err := json.Marshal(rt.svc.Sources())
				if err != nil {
					return apperrors.Wrap(apperrors.CodeInternal, "encode sources", err)
				}
				return p.print(doc, sourcesTable)
			})
		},
	}
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ekaya-reconcile %s (%s)\n", version, runtime.Version())
			return err
		},
	}
}
