package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clindoc/dsrpop/internal/cache"
	"github.com/clindoc/dsrpop/internal/config"
	"github.com/clindoc/dsrpop/internal/extractor"
	"github.com/clindoc/dsrpop/internal/indexer"
	"github.com/clindoc/dsrpop/internal/mapping"
	"github.com/clindoc/dsrpop/internal/populate"
	"github.com/clindoc/dsrpop/internal/resolver"
	"github.com/clindoc/dsrpop/internal/synth"
)

var (
	runDocument string
	runMapping  string
	runTemplate string
	runOutput   string
	runForce    bool
	runCacheDir string
	runVerbose  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full population pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}

		log := newLogger(runVerbose)

		result, err := extractDocument(runDocument, cfg.PDFFallbackPdftotext)
		if err != nil {
			return err
		}

		indexStore, err := cache.NewDirStore(filepath.Join(runCacheDir, "index"))
		if err != nil {
			return fmt.Errorf("index cache: %w", err)
		}
		synthStore, err := cache.NewDirStore(filepath.Join(runCacheDir, "synth"))
		if err != nil {
			return fmt.Errorf("synth cache: %w", err)
		}

		idx, err := indexer.New(indexStore, log).Index(result.Blocks, result.Tables, runForce)
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		log.Info("indexed document", "sections", idx.Len(), "pages", idx.Meta.TotalPages)

		mapData, err := os.ReadFile(runMapping)
		if err != nil {
			return fmt.Errorf("read mapping: %w", err)
		}
		rules, err := mapping.Load(mapData)
		if err != nil {
			return fmt.Errorf("mapping: %w", err)
		}
		log.Info("loaded mapping", "fields", len(rules))

		openai := synth.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.SynthTimeout)
		res := resolver.New(openai, synthStore, log, resolver.Config{
			MaxSectionsPerRef:   cfg.MaxSectionsPerRef,
			MaxBundleTokens:     cfg.MaxBundleTokens,
			MaxCompletionTokens: cfg.MaxCompletionTokens,
			MaxConcurrentSynth:  cfg.MaxConcurrentSynth,
			MaxRetries:          cfg.MaxRetries,
		})
		records := res.ResolveAll(context.Background(), rules, idx)

		tplData, err := os.ReadFile(runTemplate)
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		sink, err := populate.Load(tplData)
		if err != nil {
			return fmt.Errorf("template: %w", err)
		}
		placeholders := sink.Placeholders()
		sink.Populate(populate.Values(records))

		var out bytes.Buffer
		if err := sink.WriteTo(&out); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		if err := os.WriteFile(runOutput, out.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", runOutput, err)
		}

		report := populate.BuildReport(records, placeholders)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"output":  runOutput,
			"report":  report,
			"records": records,
		})
	},
}

func init() {
	runCmd.Flags().StringVar(&runDocument, "document", "", "Source document (.pdf, .docx, .html, .txt)")
	runCmd.Flags().StringVar(&runMapping, "mapping", "", "Markdown mapping file")
	runCmd.Flags().StringVar(&runTemplate, "template", "", "DOCX template to populate")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "populated.docx", "Output DOCX path")
	runCmd.Flags().BoolVar(&runForce, "force-reindex", false, "Rebuild the section index even if cached")
	runCmd.Flags().StringVar(&runCacheDir, "cache-dir", "data/cache", "Cache directory")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Verbose logging")
	runCmd.MarkFlagRequired("document")
	runCmd.MarkFlagRequired("mapping")
	runCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(runCmd)
}

func extractDocument(path string, pdfFallback bool) (*extractor.Result, error) {
	ex, err := extractor.ForFile(path)
	if err != nil {
		return nil, err
	}
	if p, ok := ex.(*extractor.PDFExtractor); ok {
		p.FallbackPdftotext = pdfFallback
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	result, err := ex.Extract(f, path)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if len(result.Blocks) == 0 {
		return nil, fmt.Errorf("document contains no extractable text")
	}
	return result, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
