package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/pseudoconn/internal/config"
	"firestige.xyz/pseudoconn/internal/inject"
	"firestige.xyz/pseudoconn/internal/log"
	"firestige.xyz/pseudoconn/internal/scenario"
	"firestige.xyz/pseudoconn/internal/session"
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Play a scenario onto a live interface",
	Long: `Play a YAML scenario onto a network interface through an AF_PACKET
socket instead of writing a capture file. Requires CAP_NET_RAW.

Examples:
  pseudoconn inject -f web.yaml -i eth0
  pseudoconn inject -f web.yaml -i eth0 --pace --filter udp`,
	Run: func(cmd *cobra.Command, args []string) {
		injOpts.paceSet = cmd.Flags().Changed("pace")
		if err := runInject(globalCfg, injOpts, openLive, cmd.OutOrStdout()); err != nil {
			exitWithError("inject failed", err)
		}
	},
}

type injectOptions struct {
	scenario string
	iface    string
	filter   string
	pace     bool
	paceSet  bool
}

var injOpts injectOptions

func init() {
	injectCmd.Flags().StringVarP(&injOpts.scenario, "file", "f", "", "scenario file (required)")
	injectCmd.Flags().StringVarP(&injOpts.iface, "interface", "i", "", "interface to write to (overrides inject.interface)")
	injectCmd.Flags().StringVar(&injOpts.filter, "filter", "", "only inject matching frames (overrides inject.filter)")
	injectCmd.Flags().BoolVar(&injOpts.pace, "pace", false, "sleep between frames as the capture clock advances")
	injectCmd.MarkFlagRequired("file")
}

// liveSink is what runInject needs from an injection sink.
type liveSink interface {
	session.Sink
	Written() int
	Skipped() int
	Close() error
}

func openLive(cfg inject.Config) (liveSink, error) {
	s, err := inject.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runInject(cfg *config.GlobalConfig, o injectOptions, open func(inject.Config) (liveSink, error), w io.Writer) error {
	if cfg == nil {
		var err error
		if cfg, err = config.Load(""); err != nil {
			return err
		}
	}
	sc, err := scenario.ParseFile(o.scenario)
	if err != nil {
		return err
	}
	scfg, err := sessionConfig(cfg, sc, generateOptions{})
	if err != nil {
		return err
	}

	icfg := cfg.Inject
	if o.iface != "" {
		icfg.Interface = o.iface
	}
	if o.filter != "" {
		icfg.Filter = o.filter
	}
	if o.paceSet {
		icfg.Pace = o.pace
	}

	sink, err := open(icfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	scfg.Sink = sink
	s, err := session.New(scfg)
	if err != nil {
		return err
	}
	if err := scenario.Run(s, sc); err != nil {
		return err
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"iface":   icfg.Interface,
		"written": sink.Written(),
		"skipped": sink.Skipped(),
	}).Info("scenario injected")
	fmt.Fprintf(w, "injected %d frame(s) on %s, %d filtered\n", sink.Written(), icfg.Interface, sink.Skipped())
	return nil
}
