package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/pipeline"
	"github.com/me/wic/pkg/model"
)

// fileKey places a catalog entry in the posted file set. Entries of the
// default namespace sit at the top level; others under their namespace.
func fileKey(id model.StepID, path string) string {
	if id.Namespace == model.DefaultNamespace {
		return filepath.Base(path)
	}
	return id.Namespace + "/" + filepath.Base(path)
}

// collectFiles reads every catalog document plus root into a file set and
// returns it with root's key.
func collectFiles(cat *model.Catalog, root string) (map[string]string, string, error) {
	files := map[string]string{}
	add := func(key, path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[key] = string(data)
		return nil
	}
	for _, t := range cat.Tools() {
		if err := add(fileKey(t.ID, t.Path), t.Path); err != nil {
			return nil, "", err
		}
	}
	for _, s := range cat.Specs() {
		if err := add(fileKey(s.ID, s.Path), s.Path); err != nil {
			return nil, "", err
		}
	}
	rootKey := filepath.Base(root)
	if err := add(rootKey, root); err != nil {
		return nil, "", err
	}
	return files, rootKey, nil
}

func newSubmitCmd() *cobra.Command {
	cfg := config.DefaultCompilerConfig()
	var overridesFile, packedOut string

	cmd := &cobra.Command{
		Use:   "submit <root.yml>",
		Short: "Compile a workflow specification on a WIC server",
		Long:  "Post the root specification and every catalog document to the compile service and record the result there.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ovr, err := readOverrides(overridesFile)
			if err != nil {
				return err
			}
			env, err := pipeline.Load(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			files, root, err := collectFiles(env.Catalog, args[0])
			if err != nil {
				return fmt.Errorf("collect files: %w", err)
			}
			logger.Debug("submitting", "root", root, "files", len(files))

			res, err := client.Compile(cmd.Context(), compileBody{
				Root:               root,
				Files:              files,
				Overrides:          ovr,
				InlineSubworkflows: cfg.InlineSubworkflows,
				InlineCWL:          cfg.InlineCWL,
			})
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					for _, d := range apiErr.Details {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", d.Kind, d.Message)
					}
				}
				return fmt.Errorf("compile: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Compilation: %s\n", res.ID)
			fmt.Fprintf(out, "  Status:    %s\n", res.Status)
			fmt.Fprintf(out, "  Documents: %d\n", res.Documents)
			if res.Cached {
				fmt.Fprintln(out, "  (reused an earlier compilation of the same input)")
			}
			if packedOut != "" {
				if err := os.WriteFile(packedOut, []byte(res.Packed), 0o644); err != nil {
					return fmt.Errorf("write packed document: %w", err)
				}
				fmt.Fprintf(out, "  Packed:    %s\n", packedOut)
			}
			return nil
		},
	}

	addCatalogFlags(cmd, &cfg)
	f := cmd.Flags()
	f.StringVar(&overridesFile, "overrides", "", "YAML file with an override block applied to the root")
	f.BoolVar(&cfg.InlineSubworkflows, "inline-subworkflows", false, "Splice eligible subworkflows into their parents before compiling")
	f.BoolVar(&cfg.InlineCWL, "inline-cwl", false, "Splice eligible subworkflows in the compiled documents")
	f.StringVarP(&packedOut, "output", "o", "", "Write the packed CWL document to this file")
	return cmd
}

func newListCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List compilations recorded by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, page, err := client.Compilations(cmd.Context(), status, limit)
			if err != nil {
				return fmt.Errorf("list compilations: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(data) == 0 {
				fmt.Fprintln(out, "No compilations found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-10s  %-24s  %-4s  %s\n", "ID", "STATUS", "NAME", "DOCS", "CREATED")
			fmt.Fprintf(out, "%-40s  %-10s  %-24s  %-4s  %s\n", "----", "------", "----", "----", "-------")
			for _, c := range data {
				fmt.Fprintf(out, "%-40s  %-10s  %-24s  %-4d  %s\n", c.ID, c.Status, c.Name, c.Documents, c.CreatedAt.Format("2006-01-02T15:04:05Z"))
			}

			if page != nil && page.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(data), page.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show compilations with this status (succeeded, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of compilations to show")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <compilation_id>",
		Short: "Show a recorded compilation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Compilation(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get compilation: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Compilation: %s\n", c.ID)
			fmt.Fprintf(out, "  Name:      %s\n", c.Name)
			fmt.Fprintf(out, "  Status:    %s\n", c.Status)
			if c.Status == model.CompilationSucceeded {
				fmt.Fprintf(out, "  Documents: %d\n", c.Documents)
				fmt.Fprintf(out, "  Inlined:   %d\n", c.Inlined)
			}
			if len(c.Errors) > 0 {
				fmt.Fprintln(out, "  Errors:")
				for _, e := range c.Errors {
					fmt.Fprintf(out, "    - %s: %s\n", e.Kind, e.Message)
				}
			}
			fmt.Fprintf(out, "  Created:   %s\n", c.CreatedAt.Format("2006-01-02T15:04:05Z"))
			return nil
		},
	}
}
