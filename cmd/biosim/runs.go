package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/biosim/internal/analysis"
	"github.com/san-kum/biosim/internal/config"
	"github.com/san-kum/biosim/internal/export"
	"github.com/san-kum/biosim/internal/output"
	"github.com/san-kum/biosim/internal/storage"
)

const maxPlots = 6

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [run_id]",
		Short: "print run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}
}

func newPlotCmd() *cobra.Command {
	var (
		species []string
		svgPath string
	)
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return plotRun(cmd.Context(), args[0], species, svgPath)
		},
	}
	cmd.Flags().StringSliceVar(&species, "species", nil, "columns to plot")
	cmd.Flags().StringVar(&svgPath, "svg", "", "also write the plot to this SVG file")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var (
		species []string
		phase   []string
		svgPath string
	)
	cmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "frequency analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyzeRun(cmd.Context(), args[0], species, phase, svgPath)
		},
	}
	cmd.Flags().StringSliceVar(&species, "species", nil, "columns to analyze")
	cmd.Flags().StringSliceVar(&phase, "phase", nil, "two columns to draw as a phase portrait (x,y)")
	cmd.Flags().StringVar(&svgPath, "svg", "", "write the phase portrait to this SVG file")
	return cmd
}

func newExportCSVCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run data to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportCSV(cmd.Context(), args[0], outPath)
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list solver presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMETHOD\tREL\tABS\tSTEPS\tMAX STEP")
			for _, name := range config.ListPresets() {
				p := config.GetPreset(name)
				fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%d\t%g\n", name, p.Method, p.RelError, p.AbsError, p.NumSteps, p.MaxStep)
			}
			return w.Flush()
		},
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tRUN\tMETHOD\tEND\tROWS\tEVENTS\tSTATUS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%g\t%d\t%d\t%s\n",
			run.ID,
			run.Model,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Run,
			run.Method,
			run.EndTime,
			run.Rows,
			run.EventsFired,
			status(run),
		)
	}
	return w.Flush()
}

func status(run storage.Run) string {
	switch {
	case run.Canceled:
		return "canceled"
	case run.ConstraintViolated:
		return "constraint"
	case run.DegradedSteps > 0:
		return "degraded"
	}
	return "ok"
}

func showRun(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func loadRun(ctx context.Context, id string) (*storage.Run, output.Series, error) {
	st, err := openStore()
	if err != nil {
		return nil, output.Series{}, err
	}
	defer st.Close()

	meta, err := st.Load(ctx, id)
	if err != nil {
		return nil, output.Series{}, err
	}
	series, err := st.LoadSeries(ctx, id)
	if err != nil {
		return nil, output.Series{}, err
	}
	if len(series.Times) == 0 {
		return nil, output.Series{}, fmt.Errorf("no data in run %s", id)
	}
	return meta, series, nil
}

func columns(series output.Series, requested []string) ([]string, error) {
	if len(requested) == 0 {
		names := series.Names
		if len(names) > maxPlots {
			names = names[:maxPlots]
		}
		return names, nil
	}
	for _, name := range requested {
		if series.Column(name) == nil {
			return nil, fmt.Errorf("run has no column %q (have %v)", name, series.Names)
		}
	}
	return requested, nil
}

func plotRun(ctx context.Context, id string, species []string, svgPath string) error {
	meta, series, err := loadRun(ctx, id)
	if err != nil {
		return err
	}
	names, err := columns(series, species)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(series.Times))

	for _, name := range names {
		graph := asciigraph.Plot(series.Column(name),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs time (0 .. %g)", name, series.Times[len(series.Times)-1])),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	if svgPath == "" {
		return nil
	}
	svg, err := export.SeriesToSVG(series, names, 800, 400)
	if err != nil {
		return err
	}
	return writeFile(svgPath, svg)
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func analyzeRun(ctx context.Context, id string, species, phase []string, svgPath string) error {
	meta, series, err := loadRun(ctx, id)
	if err != nil {
		return err
	}
	names, err := columns(series, species)
	if err != nil {
		return err
	}

	fmt.Printf("frequency analysis: %s\n", meta.ID)
	fmt.Printf("model: %s\n\n", meta.Model)

	type peak struct {
		name string
		freq float64
	}
	var peaks []peak
	for i, name := range names {
		values := series.Column(name)
		freq, err := analysis.DominantFrequency(series.Times, values)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		peaks = append(peaks, peak{name, freq})

		if i > 0 {
			continue
		}
		dt := (series.Times[len(series.Times)-1] - series.Times[0]) / float64(len(series.Times)-1)
		ps, _, err := analysis.Spectrum(values, dt)
		if err != nil {
			return err
		}
		graph := asciigraph.Plot(ps[:max(len(ps)/4, 1)],
			asciigraph.Height(15),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("power spectrum (%s)", name)),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].name < peaks[j].name })
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SPECIES\tFREQUENCY\tPERIOD")
	for _, p := range peaks {
		period := "-"
		if p.freq > 0 {
			period = fmt.Sprintf("%.3f", 1/p.freq)
		}
		fmt.Fprintf(w, "%s\t%.3f\t%s\n", p.name, p.freq, period)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(phase) == 0 {
		return nil
	}
	if len(phase) != 2 {
		return fmt.Errorf("--phase wants two columns, got %d", len(phase))
	}
	portrait, err := analysis.NewPhasePortrait(series, phase[0], phase[1])
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(portrait.ASCII(60, 20))

	if svgPath == "" {
		return nil
	}
	svg, err := export.PhaseToSVG(portrait, 600, 600)
	if err != nil {
		return err
	}
	return writeFile(svgPath, svg)
}

func exportCSV(ctx context.Context, id, outPath string) error {
	_, series, err := loadRun(ctx, id)
	if err != nil {
		return err
	}

	// stdout is wrapped so closing the writer leaves it open
	var dst io.Writer = struct{ io.Writer }{os.Stdout}
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		dst = f
	}

	w := output.NewCSV(dst)
	if err := w.WriteHeader(series.Names); err != nil {
		return err
	}
	for i, t := range series.Times {
		if err := w.WriteRow(t, series.Values[i]); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if outPath != "" {
		fmt.Fprintf(os.Stderr, "exported %d rows to %s\n", len(series.Times), outPath)
	}
	return nil
}
