// Command dsrpop runs the template population pipeline one shot from
// the command line, without the HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dsrpop",
	Short: "Populate a report template from a source document",
	Long: `dsrpop indexes a source safety report into sections, resolves the
fields of a markdown mapping against those sections (verbatim copy, LLM
synthesis, or unavailable placeholder), and writes the populated DOCX
template.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
