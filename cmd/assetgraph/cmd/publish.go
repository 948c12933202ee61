package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asset-graph/internal/storage"
)

var (
	publishArtifact string
	publishKey      string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the artifact to the configured storage",
	Long: `Publish uploads the artifact and a JSON manifest next to it
(<key>.manifest.json) to the storage configured under storage: local,
cos or s3 (any S3-compatible endpoint such as MinIO).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPublisher()
		if err != nil {
			return err
		}
		path := publishArtifact
		if path == "" {
			if path, err = cfg.ArtifactPath(); err != nil {
				return err
			}
		}
		url, err := p.Publish(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the published artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPublisher()
		if err != nil {
			return err
		}
		path := publishArtifact
		if path == "" {
			if path, err = cfg.ArtifactPath(); err != nil {
				return err
			}
		}
		meta, err := p.Fetch(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d nodes, format v%d, created %s\n",
			path, meta.Nodes, meta.Version, meta.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd, fetchCmd)

	for _, c := range []*cobra.Command{publishCmd, fetchCmd} {
		c.Flags().StringVarP(&publishArtifact, "artifact", "a", "", "Local artifact path (default analysis.artifact_path)")
		c.Flags().StringVarP(&publishKey, "key", "k", "", "Object key (overrides storage.key)")
	}
}

func newPublisher() (*storage.Publisher, error) {
	if publishKey != "" {
		cfg.Storage.Key = publishKey
	}
	if err := storage.ValidateConfig(&cfg.Storage); err != nil {
		return nil, err
	}
	store, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	return storage.NewPublisher(store, cfg.Storage.Key, logger), nil
}
