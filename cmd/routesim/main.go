package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/netsim-lab/routesim"
)

var (
	topoFile    string
	paramsFile  string
	outFile     string
	traceFile   string
	metricsFile string
	seed        int64
	useTUI      bool
	logLevel    string
	logFormat   string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "routesim",
		Short: "A discrete-event simulator of packet routing",
		Long: `routesim simulates packets sent between the computers of a network of
routers and firewalls, resent when they are not delivered in time, and reports
how many arrived and how long they took.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&topoFile, "topo", "", "Topology file, yaml or json (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: 'text' or 'json'")
	rootCmd.MarkPersistentFlagRequired("topo")

	rootCmd.AddCommand(newRunCmd(), newValidateCmd(), newRoutesCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and report its statistics",
		RunE:  runSimulation,
	}

	runCmd.Flags().StringVar(&paramsFile, "params", "", "Simulation parameters file, yaml or json (defaults apply when omitted)")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed, overrides the parameters file when given")
	runCmd.Flags().StringVar(&outFile, "out", "", "Result file (.yaml, .json or .txt), or a directory to hold a dated .txt file")
	runCmd.Flags().StringVar(&traceFile, "trace", "", "Packet trace file (.yaml or .json, append .sz to compress)")
	runCmd.Flags().StringVar(&metricsFile, "metrics", "", "File to write run metrics to, in prometheus text format")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Show live progress in the terminal")
	return runCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a topology and report the computers that cannot reach each other",
		RunE:  validateTopology,
	}
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the path between every pair of computers",
		RunE:  printRoutes,
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel, logFormat, cmd.ErrOrStderr())

	topo, params, err := routesim.ReadExperiment(topoFile, paramsFile)
	if err != nil {
		logger.Error("Failed to read experiment", "error", err)
		return err
	}
	if cmd.Flags().Changed("seed") {
		params.RandomSeed = seed
	}

	sim := routesim.CreateSimulation(topo, *params)
	sim.SetLogger(logger)

	var reg *prometheus.Registry
	if len(metricsFile) > 0 {
		reg = prometheus.NewRegistry()
		sim.SetMetrics(routesim.CreateMetrics(reg))
	}

	var tm *routesim.TraceManager
	if len(traceFile) > 0 {
		tm = routesim.CreateTraceManager(topo.Name, true)
		sim.SetTraceManager(tm)
	}

	var res *routesim.Result
	if useTUI {
		res, err = runWithTUI(sim, params)
	} else {
		res, err = sim.Run()
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), routesim.AbortReason(err))
		return err
	}

	rpt := res.Report(newRunID())
	if !useTUI {
		printReport(cmd.OutOrStdout(), &rpt)
	}

	if len(outFile) > 0 {
		written, err := writeReport(outFile, &rpt)
		if err != nil {
			logger.Error("Failed to write result", "path", outFile, "error", err)
			return err
		}
		logger.Info("Result written", "path", written)
	}

	if tm != nil {
		if err := tm.WriteToFile(traceFile); err != nil {
			logger.Error("Failed to write trace", "path", traceFile, "error", err)
			return err
		}
	}

	if reg != nil {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			logger.Error("Failed to write metrics", "path", metricsFile, "error", err)
			return err
		}
	}
	return nil
}

func validateTopology(cmd *cobra.Command, args []string) error {
	topo, err := routesim.ReadTopoCfg(topoFile, routesim.UseYAML(topoFile), nil)
	if err != nil {
		return err
	}
	if err := topo.Validate(); err != nil {
		return err
	}
	if topo.NumComputers() < 2 {
		return fmt.Errorf("%s", routesim.AbortReason(routesim.ErrTooFewComputers))
	}

	rt := routesim.BuildRouting(topo)
	pairs := rt.UnreachablePairs()
	out := cmd.OutOrStdout()
	if len(pairs) == 0 {
		fmt.Fprintf(out, "%s: %d devices, every computer reaches every other\n", topo.Name, len(topo.Devices))
		return nil
	}
	for _, pair := range pairs {
		fmt.Fprintf(out, "no path from %d to %d\n", pair[0], pair[1])
	}
	return fmt.Errorf("%s", routesim.AbortReason(routesim.ErrUnreachable))
}

func printRoutes(cmd *cobra.Command, args []string) error {
	topo, err := routesim.ReadTopoCfg(topoFile, routesim.UseYAML(topoFile), nil)
	if err != nil {
		return err
	}
	if err := topo.Validate(); err != nil {
		return err
	}

	rt := routesim.BuildRouting(topo)
	out := cmd.OutOrStdout()
	for _, src := range topo.Devices {
		if src.Kind != routesim.ComputerKind {
			continue
		}
		for _, dst := range topo.Devices {
			if dst.Kind != routesim.ComputerKind || dst.ID == src.ID {
				continue
			}
			weight := rt.Weight(src.ID, dst.ID)
			if weight == routesim.InfiniteWeight {
				fmt.Fprintf(out, "%s -> %s: unreachable\n", src.DevName(), dst.DevName())
				continue
			}
			fmt.Fprintf(out, "%s -> %s (%d): %s\n", src.DevName(), dst.DevName(), weight, rt.ShowPath(src.ID, dst.ID))
		}
	}
	return nil
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
