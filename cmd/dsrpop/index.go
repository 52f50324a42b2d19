package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clindoc/dsrpop/internal/cache"
	"github.com/clindoc/dsrpop/internal/config"
	"github.com/clindoc/dsrpop/internal/indexer"
	"github.com/clindoc/dsrpop/internal/secdoc"
)

var (
	indexDocument string
	indexForce    bool
	indexCacheDir string
	indexVerbose  bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and print the section index for a document",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log := newLogger(indexVerbose)

		result, err := extractDocument(indexDocument, cfg.PDFFallbackPdftotext)
		if err != nil {
			return err
		}

		store, err := cache.NewDirStore(filepath.Join(indexCacheDir, "index"))
		if err != nil {
			return fmt.Errorf("index cache: %w", err)
		}

		idx, err := indexer.New(store, log).Index(result.Blocks, result.Tables, indexForce)
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}

		data, err := secdoc.Marshal(idx)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexDocument, "document", "", "Source document (.pdf, .docx, .html, .txt)")
	indexCmd.Flags().BoolVar(&indexForce, "force-reindex", false, "Rebuild the section index even if cached")
	indexCmd.Flags().StringVar(&indexCacheDir, "cache-dir", "data/cache", "Cache directory")
	indexCmd.Flags().BoolVarP(&indexVerbose, "verbose", "v", false, "Verbose logging")
	indexCmd.MarkFlagRequired("document")
	rootCmd.AddCommand(indexCmd)
}
