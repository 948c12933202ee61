package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/asset-graph/internal/graph"
	"github.com/asset-graph/internal/index"
	"github.com/asset-graph/internal/mirror"
	"github.com/asset-graph/internal/query"
	"github.com/asset-graph/internal/resolve"
	"github.com/asset-graph/internal/snapshot"
	"github.com/asset-graph/pkg/compression"
	apperrors "github.com/asset-graph/pkg/errors"
)

var (
	queryArtifact string
	queryJSON     bool
	queryMirror   bool
	deleteForce   bool
	deleteDryRun  bool
	unusedKind    string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a saved dependency graph",
	Long: `Query reads the artifact written by build. Paths are matched
case-insensitively and may be given relative to the project root or
absolute; refcount also accepts a GUID.`,
}

var queryNodeCmd = &cobra.Command{
	Use:   "node <path>",
	Short: "Show a node with its dependencies and dependents",
	Long: `Node prints one node of the artifact. With --mirror the node is read
from the SQL mirror instead, which must be enabled in the configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if queryMirror {
			return mirrorNode(cmd, args[0])
		}
		s, closeFn, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := s.FindNode(args[0])
		if err != nil {
			return err
		}
		return printView(cmd.OutOrStdout(), viewOfNode(n))
	},
}

var queryRefCountCmd = &cobra.Command{
	Use:   "refcount <path|guid>",
	Short: "Count the assets that depend on a node (folders excluded)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeFn, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := s.ReferenceCount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var queryUnusedCmd = &cobra.Command{
	Use:   "unused",
	Short: "List assets nothing depends on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeFn, err := openSession(cmd, false)
		if err != nil {
			return err
		}
		defer closeFn()

		out := cmd.OutOrStdout()
		for _, n := range s.Unused() {
			if unusedKind != "" && n.Kind.String() != unusedKind {
				continue
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", n.Path(), n.Kind, n.AssetType())
		}
		return nil
	},
}

var queryDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Remove a node from the graph and save the artifact",
	Long: `Delete refuses to remove a node other assets still depend on unless
--force is given. The artifact is rewritten in place and, when the mirror
is enabled, the mirror rows are updated as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeFn, err := openSession(cmd, !deleteDryRun)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := s.DeleteNode(cmd.Context(), args[0], deleteForce); err != nil {
			return err
		}
		if deleteDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "would delete %s\n", args[0])
			return nil
		}
		if _, err := s.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(queryNodeCmd, queryRefCountCmd, queryUnusedCmd, queryDeleteCmd)

	queryCmd.PersistentFlags().StringVarP(&queryArtifact, "artifact", "a", "", "Artifact to read (default analysis.artifact_path)")
	queryNodeCmd.Flags().BoolVar(&queryJSON, "json", false, "Print the node as JSON")
	queryNodeCmd.Flags().BoolVar(&queryMirror, "mirror", false, "Read the node from the SQL mirror instead of the artifact")
	queryUnusedCmd.Flags().StringVar(&unusedKind, "kind", "", "Only list nodes of this kind: asset or package")
	queryDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Delete even if other assets depend on the node")
	queryDeleteCmd.Flags().BoolVar(&deleteDryRun, "dry-run", false, "Check the deletion without saving")
}

// openSession loads the artifact. The GUID index is optional: without it
// refcount only accepts paths and GUIDs of unresolved references. With
// withSink and the mirror enabled, deletions are applied to the mirror.
func openSession(cmd *cobra.Command, withSink bool) (*query.Session, func(), error) {
	path := queryArtifact
	if path == "" {
		var err error
		if path, err = cfg.ArtifactPath(); err != nil {
			return nil, nil, err
		}
	}
	root, err := cfg.ProjectRoot()
	if err != nil {
		return nil, nil, err
	}
	ct, err := compression.ParseType(cfg.Analysis.Compression)
	if err != nil {
		return nil, nil, err
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	idx, err := index.Open(cfg, logger.WithField("component", "index"))
	if err != nil {
		logger.Warn("guid index unavailable, guids stay unresolved: %v", err)
		idx = index.Empty{}
	}
	closers = append(closers, func() { _ = idx.Close() })

	opts := query.Options{Snapshot: snapshot.Options{Compression: ct, Level: compression.LevelDefault}}
	if withSink && cfg.Mirror.Enabled {
		m, err := mirror.Open(cmd.Context(), cfg.Mirror, logger.WithField("component", "mirror"))
		if err != nil {
			logger.Warn("mirror unavailable, only the artifact is updated: %v", err)
		} else {
			opts.Sink = m
			closers = append(closers, func() { _ = m.Close() })
		}
	}

	s, err := query.Open(filepath.Clean(path), resolve.New(root, idx, logger), opts, logger)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return s, closeAll, nil
}

type nodeView struct {
	Path         string   `json:"path"`
	Kind         string   `json:"kind"`
	Type         string   `json:"type"`
	GUID         string   `json:"guid,omitempty"`
	ContentHash  string   `json:"content_hash,omitempty"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

func viewOfNode(n *graph.Node) nodeView {
	return nodeView{
		Path:         n.Path(),
		Kind:         n.Kind.String(),
		Type:         n.AssetType(),
		GUID:         n.Self.GUID,
		ContentHash:  n.Self.ContentHash,
		Dependencies: n.Dependencies.Paths(),
		Dependents:   n.Dependents.Paths(),
	}
}

func viewOfRecord(r *mirror.Record) nodeView {
	v := nodeView{
		Path:         r.Path,
		Kind:         r.Kind.String(),
		Type:         r.AssetType,
		GUID:         r.GUID,
		ContentHash:  r.ContentHash,
		Dependencies: r.Dependencies,
		Dependents:   r.Dependents,
	}
	if v.Dependencies == nil {
		v.Dependencies = []string{}
	}
	if v.Dependents == nil {
		v.Dependents = []string{}
	}
	return v
}

// mirrorNode looks a node up in the SQL mirror.
func mirrorNode(cmd *cobra.Command, arg string) error {
	if !cfg.Mirror.Enabled {
		return apperrors.New(apperrors.CodeInvalidInput, "mirror is not enabled (mirror.enabled)")
	}
	root, err := cfg.ProjectRoot()
	if err != nil {
		return err
	}
	m, err := mirror.Open(cmd.Context(), cfg.Mirror, logger.WithField("component", "mirror"))
	if err != nil {
		return err
	}
	defer m.Close()

	path := resolve.New(root, index.Empty{}, logger).Canonicalize(arg)
	r, err := m.Find(cmd.Context(), path)
	if err != nil {
		return err
	}
	return printView(cmd.OutOrStdout(), viewOfRecord(r))
}

func printView(out io.Writer, v nodeView) error {
	if queryJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	fmt.Fprintf(out, "%s\n  kind: %s\n  type: %s\n", v.Path, v.Kind, v.Type)
	if v.GUID != "" {
		fmt.Fprintf(out, "  guid: %s\n", v.GUID)
	}
	fmt.Fprintf(out, "  dependencies (%d):\n", len(v.Dependencies))
	for _, p := range v.Dependencies {
		fmt.Fprintf(out, "    %s\n", p)
	}
	fmt.Fprintf(out, "  dependents (%d):\n", len(v.Dependents))
	for _, p := range v.Dependents {
		fmt.Fprintf(out, "    %s\n", p)
	}
	return nil
}
