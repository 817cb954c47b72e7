package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/wic/internal/bundle"
	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/pipeline"
	"github.com/me/wic/pkg/model"
)

// readOverrides loads an override block from a YAML file. An empty path
// yields nil.
func readOverrides(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	var ovr map[string]any
	if err := yaml.Unmarshal(data, &ovr); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	return ovr, nil
}

// printErrors writes one line per failure in err.
func printErrors(w io.Writer, err error) {
	for _, fe := range model.FieldErrors(err) {
		if fe.Kind != "" {
			fmt.Fprintf(w, "  %s: %s\n", fe.Kind, fe.Message)
		} else {
			fmt.Fprintf(w, "  %s\n", fe.Message)
		}
	}
}

func newCompileCmd() *cobra.Command {
	cfg := config.DefaultCompilerConfig()
	var overridesFile string

	cmd := &cobra.Command{
		Use:   "compile <root.yml>",
		Short: "Compile a workflow specification into CWL",
		Long: `Resolve the step tree of a workflow specification, infer its edges and
write one CWL document per distinct workflow, the root input values, and the
workflow graph in JSON and DOT form.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root := args[0]

			ovr, err := readOverrides(overridesFile)
			if err != nil {
				return err
			}
			env, err := pipeline.Load(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			for _, w := range env.Warnings {
				logger.Warn("catalog", "warning", w.String())
			}
			p, err := pipeline.New(env, cfg, logger)
			if err != nil {
				return err
			}

			res, err := p.Compile(ctx, root, ovr)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Compilation of %s failed:\n", root)
				printErrors(cmd.ErrOrStderr(), err)
				return fmt.Errorf("compile %s: %d error(s)", root, len(model.FieldErrors(err)))
			}

			written, err := bundle.Write(cfg.OutDir, res.Compiled, bundle.Options{Pack: cfg.Pack, Read: env.ReadFile})
			if err != nil {
				return err
			}
			if cfg.WriteTrees {
				trees, err := bundle.WriteTrees(cfg.OutDir, res.Compiled.Root.Name, res.Raw, res.Merged, res.Inlined)
				if err != nil {
					return err
				}
				written = append(written, trees...)
			}
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			logger.Info("compiled", "root", root, "files", len(written),
				"subworkflows_inlined", res.SubworkflowsInlined, "documents_inlined", res.DocumentsInlined)
			return nil
		},
	}

	addCatalogFlags(cmd, &cfg)
	f := cmd.Flags()
	f.StringVarP(&cfg.OutDir, "out", "o", cfg.OutDir, "Output directory")
	f.StringVar(&overridesFile, "overrides", "", "YAML file with an override block applied to the root")
	f.BoolVar(&cfg.InlineSubworkflows, "inline-subworkflows", false, "Splice eligible subworkflows into their parents before compiling")
	f.BoolVar(&cfg.InlineCWL, "inline-cwl", false, "Splice eligible subworkflows in the compiled documents")
	f.BoolVar(&cfg.Pack, "pack", false, "Also write a packed $graph document")
	f.BoolVar(&cfg.WriteTrees, "write-trees", false, "Dump the raw, merged and inlined trees")
	f.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "Compiled subworkflow memo entries")
	return cmd
}

func newSchemasCmd() *cobra.Command {
	cfg := config.DefaultCompilerConfig()

	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Generate JSON Schemas for the catalog",
		Long: `Write one schema per tool and specification, the override block schema
(wic_tag.json) and the grammar schema (wic.json).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := pipeline.Load(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			p, err := pipeline.New(env, cfg, logger)
			if err != nil {
				return err
			}
			written, err := p.Schemas().WriteDir(cfg.SchemaDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d schemas to %s\n", len(written), cfg.SchemaDir)
			return nil
		},
	}

	addCatalogFlags(cmd, &cfg)
	cmd.Flags().StringVarP(&cfg.SchemaDir, "out", "o", cfg.SchemaDir, "Schema output directory")
	return cmd
}
