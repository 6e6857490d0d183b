package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/pseudoconn/internal/config"
	"firestige.xyz/pseudoconn/internal/scenario"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a scenario file",
	Long: `Parse a scenario and play it against a session that discards its output.

This catches unknown keys, bad options and illegal operations (such as
sending on a closed connection) without writing a capture.

Examples:
  pseudoconn validate -f web.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(globalCfg, validateFile, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

var validateFile string

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "",
		"scenario file to validate (required)")
	validateCmd.MarkFlagRequired("file")
}

func runValidate(cfg *config.GlobalConfig, path string, w io.Writer) error {
	sc, err := scenario.ParseFile(path)
	if err != nil {
		return err
	}
	scfg, err := sessionConfig(cfg, sc, generateOptions{})
	if err != nil {
		return err
	}
	frames, err := scenario.DryRun(scfg, sc)
	if err != nil {
		return err
	}
	name := sc.Name
	if name == "" {
		name = path
	}
	fmt.Fprintf(w, "VALID: scenario %q, %d step(s), %d frame(s)\n", name, len(sc.Steps), frames)
	return nil
}
