package main

import (
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/biosim/internal/automation"
	"github.com/san-kum/biosim/internal/config"
	"github.com/san-kum/biosim/internal/experiment"
	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/progress"
)

func newScenarioCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "scenario [scenario.yaml]",
		Short: "run a scripted sequence of jobs or a parameter sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(logLevel, "text", os.Stderr)
			if err != nil {
				return err
			}
			s, err := automation.LoadScenario(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			base := config.DefaultConfig()
			base.DataDir = dataDir
			base.Store = storeKind
			token := progress.NewToken()
			opts := []experiment.Option{
				experiment.WithLogger(log),
				experiment.WithToken(token),
				experiment.WithProgress(progress.LogSink{Logger: log}),
			}
			if storeKind != "none" {
				st, err := openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, experiment.WithStore(st))
			}
			go func() {
				<-ctx.Done()
				token.Cancel()
			}()

			if s.Name != "" {
				fmt.Printf("scenario: %s\n", s.Name)
			}
			results, err := (&automation.Runner{Base: base, Options: opts, Logger: log}).Run(ctx, s)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tRUNS\tRUN IDS\tSUMMARY")
			for _, res := range results {
				fmt.Fprintf(w, "%s\t%d\t%v\t%s\n", res.Step, len(res.Outcome.Results), res.Outcome.RunIDs, res.Outcome.Describe())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}
