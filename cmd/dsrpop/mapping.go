package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clindoc/dsrpop/internal/mapping"
)

var mappingFile string

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Parse a mapping file and print the classified field rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(mappingFile)
		if err != nil {
			return fmt.Errorf("read mapping: %w", err)
		}
		rules, err := mapping.Load(data)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"fields":   rules,
			"strategy": mapping.CountByStrategy(rules),
		})
	},
}

func init() {
	mappingCmd.Flags().StringVar(&mappingFile, "mapping", "", "Markdown mapping file")
	mappingCmd.MarkFlagRequired("mapping")
	rootCmd.AddCommand(mappingCmd)
}
