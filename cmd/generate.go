package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pseudoconn/internal/config"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/scenario"
	"firestige.xyz/pseudoconn/internal/session"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render a scenario into a pcap file",
	Long: `Render a YAML scenario into a classic pcap file.

Examples:
  pseudoconn generate -f web.yaml -o web.pcap
  pseudoconn generate -f web.yaml -o - --seed 42 | tcpdump -r -`,
	Run: func(cmd *cobra.Command, args []string) {
		genOpts.seedSet = cmd.Flags().Changed("seed")
		if err := runGenerate(globalCfg, genOpts, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
			exitWithError("generate failed", err)
		}
	},
}

type generateOptions struct {
	scenario string
	output   string
	seed     uint64
	seedSet  bool
	delay    time.Duration
	start    string
}

var genOpts generateOptions

func init() {
	generateCmd.Flags().StringVarP(&genOpts.scenario, "file", "f", "", "scenario file (required)")
	generateCmd.Flags().StringVarP(&genOpts.output, "output", "o", "out.pcap", "output pcap file, - for stdout")
	generateCmd.Flags().Uint64Var(&genOpts.seed, "seed", 0, "override the generator seed")
	generateCmd.Flags().DurationVar(&genOpts.delay, "delay", 0, "override the per-frame clock advance")
	generateCmd.Flags().StringVar(&genOpts.start, "start", "", "override the first timestamp (RFC 3339)")
	generateCmd.MarkFlagRequired("file")
}

// sessionConfig merges configuration, scenario settings and flag overrides,
// in increasing order of precedence.
func sessionConfig(cfg *config.GlobalConfig, sc *scenario.Scenario, o generateOptions) (session.Config, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Load(""); err != nil {
			return session.Config{}, err
		}
	}
	g := cfg.Generator
	if o.start != "" {
		g.Start = o.start
	}
	if o.delay > 0 {
		g.Delay = o.delay
	}
	sc2, err := g.SessionConfig()
	if err != nil {
		return sc2, err
	}
	sc.Apply(&sc2)
	if o.seedSet {
		sc2.Seed = o.seed
	}
	return sc2, nil
}

func runGenerate(cfg *config.GlobalConfig, o generateOptions, stdout, stderr io.Writer) error {
	sc, err := scenario.ParseFile(o.scenario)
	if err != nil {
		return err
	}
	scfg, err := sessionConfig(cfg, sc, o)
	if err != nil {
		return err
	}

	s, err := session.New(scfg)
	if err != nil {
		return err
	}
	if err := scenario.Run(s, sc); err != nil {
		return err
	}

	out := stdout
	if o.output != "-" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	n, err := s.WriteTo(out)
	if err != nil {
		return fmt.Errorf("write %s: %w", o.output, err)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"scenario": o.scenario,
		"frames":   s.Frames(),
		"bytes":    n,
	}).Info("capture generated")
	if o.output != "-" {
		fmt.Fprintf(stderr, "wrote %d frame(s), %d bytes to %s\n", s.Frames(), n, o.output)
	}
	return nil
}
