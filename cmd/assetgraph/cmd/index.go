package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asset-graph/internal/index"
	apperrors "github.com/asset-graph/pkg/errors"
	"github.com/asset-graph/pkg/parallel"
)

var (
	indexDumpOut   string
	indexVerifyOut string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the GUID index used to resolve references",
}

var indexImportCmd = &cobra.Command{
	Use:   "import <path2guid.json>",
	Short: "Load a path to GUID table into the badger or redis index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		table, err := index.ReadJSON(f)
		if err != nil {
			return apperrors.Wrapf(apperrors.CodeInvalidInput, err, "decode %s", args[0])
		}

		idx, err := index.OpenWritable(cfg, logger)
		if err != nil {
			return err
		}
		defer idx.Close()
		imp, ok := idx.(index.Importer)
		if !ok {
			return apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("index type %q cannot be imported into", cfg.Index.Type))
		}
		n, err := imp.Import(cmd.Context(), table)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries (%d skipped)\n", n, len(table)-n)
		return nil
	},
}

var indexLookupCmd = &cobra.Command{
	Use:   "lookup <guid|path>",
	Short: "Look a GUID or a path up in the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := index.Open(cfg, logger)
		if err != nil {
			return err
		}
		defer idx.Close()

		key := args[0]
		var (
			value string
			found bool
		)
		if index.IsGUID(key) {
			value, found, err = idx.PathByGUID(cmd.Context(), strings.ToLower(key))
		} else {
			value, found, err = idx.GUIDByPath(cmd.Context(), index.NormalizePath(key))
		}
		if err != nil {
			return apperrors.Wrap(apperrors.CodeIndexError, "lookup", err)
		}
		if !found {
			return apperrors.New(apperrors.CodeNotFound, "not in index: "+key)
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var indexDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the index content as a path to GUID JSON object",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := dumpIndex(cmd)
		if err != nil {
			return err
		}
		if indexDumpOut != "" {
			if err := index.WriteJSONFile(indexDumpOut, table); err != nil {
				return fmt.Errorf("failed to write %s: %w", indexDumpOut, err)
			}
			logger.Info("wrote %d entries to %s", len(table), indexDumpOut)
			return nil
		}
		return index.WriteJSON(cmd.OutOrStdout(), table)
	},
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the index against the GUIDs in the project's .meta files",
	Long: `Verify reads every path to GUID entry of the index and flags the paths
whose .meta file exists but does not contain the recorded GUID. Flagged
paths are printed and written as a JSON array to --output (default
<root>/verify-result.json); the command then fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := cfg.ProjectRoot()
		if err != nil {
			return err
		}
		table, err := dumpIndex(cmd)
		if err != nil {
			return err
		}

		pool := parallel.DefaultPoolConfig().WithWorkers(cfg.Analysis.TraverseWorkers)
		report, err := index.Verify(cmd.Context(), root, table, pool)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeIndexError, "verify index", err)
		}
		logger.Info("verified %d entries, %d without .meta", report.Checked, report.NoMeta)

		out := cmd.OutOrStdout()
		if report.OK() {
			fmt.Fprintf(out, "%d entries match\n", report.Checked)
			return nil
		}
		for _, p := range report.Mismatched {
			fmt.Fprintln(out, p)
		}
		path := indexVerifyOut
		if path == "" {
			path = filepath.Join(root, "verify-result.json")
		}
		if err := writeVerifyResult(path, report.Mismatched); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		return apperrors.New(apperrors.CodeVerifyFailed,
			fmt.Sprintf("%d of %d entries do not match their .meta file (see %s)", len(report.Mismatched), report.Checked, path))
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexImportCmd, indexLookupCmd, indexDumpCmd, indexVerifyCmd)

	indexDumpCmd.Flags().StringVarP(&indexDumpOut, "output", "o", "", "Write to this file instead of stdout")
	indexVerifyCmd.Flags().StringVarP(&indexVerifyOut, "output", "o", "", "Write mismatched paths to this file (default <root>/verify-result.json)")
}

func writeVerifyResult(path string, mismatched []string) error {
	data, err := json.MarshalIndent(mismatched, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func dumpIndex(cmd *cobra.Command) (map[string]string, error) {
	if cfg.Index.Type == "json" {
		path, err := cfg.IndexPath()
		if err != nil {
			return nil, err
		}
		m, err := index.LoadJSON(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeIndexError, "load index", err)
		}
		return m.Dump(cmd.Context())
	}

	idx, err := index.OpenWritable(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	d, ok := idx.(index.Dumper)
	if !ok {
		return nil, apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("index type %q cannot be dumped", cfg.Index.Type))
	}
	return d.Dump(cmd.Context())
}
