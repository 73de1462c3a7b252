package routesim

// routesim.go assembles a model from a topology and run parameters, drives the
// event loop to completion, and reports the outcome of the run

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	// ErrInvalidConfig marks a topology or parameter set that fails validation
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTooFewComputers marks a topology with fewer than two computers
	ErrTooFewComputers = errors.New("there need to be at least 2 computers in network")

	// ErrUnreachable marks a topology where some computer cannot reach another
	ErrUnreachable = errors.New("some devices are unreachable")

	// ErrOverflow marks a time computation that went past the largest tick
	ErrOverflow = errors.New("overflow has occurred")
)

// AbortReason gives the message shown to a user for a run that ended with err
func AbortReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooFewComputers):
		return "There need to be at least 2 computers in network."
	case errors.Is(err, ErrUnreachable):
		return "Some devices are unreachable."
	case errors.Is(err, ErrOverflow):
		return "Overflow has occurred. Consider lowering Timeout and Send until simulation parameters."
	}
	return err.Error()
}

// ProgressFunc is called once the last event of a tick has been dispatched,
// with that tick and a copy of the statistics gathered so far
type ProgressFunc func(now uint64, stats Statistics)

// Result is the outcome of a completed run
type Result struct {
	Stats   Statistics
	Latency LatencySummary
}

// Report builds the serializable view of the result, labeled with runID
func (res *Result) Report(runID string) Report {
	return Report{
		RunID:               runID,
		Statistics:          res.Stats,
		AverageDeliveryTime: definedOrNil(res.Stats.AverageDeliveryTime()),
		AverageAttempts:     definedOrNil(res.Stats.AverageAttempts()),
		Latency:             res.Latency,
	}
}

// Simulation holds what is needed to run one simulation.  A Simulation may be
// run more than once; every run builds its state anew
type Simulation struct {
	topo     *TopoCfg
	params   SimParams
	logger   *slog.Logger
	progress ProgressFunc
	metrics  *Metrics
	trace    *TraceManager
}

// CreateSimulation is a constructor
func CreateSimulation(topo *TopoCfg, params SimParams) *Simulation {
	sim := new(Simulation)
	sim.topo = topo
	sim.params = params
	sim.logger = discardLogger()
	return sim
}

// SetLogger directs the log records of runs to logger
func (sim *Simulation) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = discardLogger()
	}
	sim.logger = logger
}

// SetProgress installs a function called at every tick boundary of a run
func (sim *Simulation) SetProgress(progress ProgressFunc) {
	sim.progress = progress
}

// SetMetrics installs the collectors runs update
func (sim *Simulation) SetMetrics(metrics *Metrics) {
	sim.metrics = metrics
}

// SetTraceManager installs the trace manager runs record packet passages in
func (sim *Simulation) SetTraceManager(tm *TraceManager) {
	sim.trace = tm
}

// Run executes the simulation: it checks the inputs, builds the model and its
// routing tables, generates the traffic, and dispatches events in time order until
// none remain.  Nothing of a run that fails is returned
func (sim *Simulation) Run() (*Result, error) {
	if sim.topo == nil {
		return nil, sim.abort(fmt.Errorf("%w: no topology", ErrInvalidConfig))
	}
	if err := sim.topo.Validate(); err != nil {
		return nil, sim.abort(err)
	}
	if err := sim.params.Validate(); err != nil {
		return nil, sim.abort(err)
	}

	if sim.topo.NumComputers() < 2 {
		return nil, sim.abort(ErrTooFewComputers)
	}

	// the processes are created against the routing indices, then the tables are filled in
	routing := CreateRouting(sim.topo)
	routing.AssignRoutingIndices()

	m := createModel(sim.topo, &sim.params, routing, sim.logger, sim.metrics, sim.trace)

	routing.InitializeRoutingTables()
	routing.ComputeRoutingTables()

	if pairs := routing.UnreachablePairs(); len(pairs) > 0 {
		return nil, sim.abort(fmt.Errorf("%w: no path for computer pairs %v", ErrUnreachable, pairs))
	}

	m.generateTraffic(&sim.params)

	sim.logger.Info("simulation started", "topology", sim.topo.Name, "devices", routing.NumDevices(),
		"packets", sim.params.TotalPackets, "seed", sim.params.RandomSeed)

	if err := sim.drain(m); err != nil {
		return nil, sim.abort(err)
	}

	res := &Result{Stats: *m.stats, Latency: summarizeLatencies(m.latencies)}
	sim.logger.Info("simulation finished", "length", res.Stats.LengthOfSimulation,
		"sent", res.Stats.SentPackets, "delivered", res.Stats.DeliveredPackets)
	return res, nil
}

// drain dispatches the events of m in time order until none remain
func (sim *Simulation) drain(m *Model) error {
	for {
		evt, ok := m.sched.PopEarliest()
		if !ok {
			return nil
		}
		m.time = evt.Time
		m.stats.LengthOfSimulation = evt.Time

		if err := m.HandleEvent(evt); err != nil {
			return fmt.Errorf("at time %d, %s event of %s %d: %w",
				evt.Time, evt.Type, evt.Target.Kind, evt.Target.Idx, err)
		}

		if sim.progress == nil {
			continue
		}
		// the tick is complete once the next event is later, or there is none
		if nxt, more := m.sched.PeekTime(); !more || nxt != m.time {
			sim.progress(m.time, *m.stats)
		}
	}
}

// abort logs the reason a run is given up and passes err back
func (sim *Simulation) abort(err error) error {
	sim.logger.Error("simulation aborted", "reason", AbortReason(err), "error", err)
	return err
}

// Run is shorthand for running a Simulation without logging, progress, metrics or tracing
func Run(topo *TopoCfg, params SimParams) (*Result, error) {
	return CreateSimulation(topo, params).Run()
}

// ReadExperiment reads the topology and the run parameters from the named files.
// The serialization of each file is selected by its extension
func ReadExperiment(topoFile, paramFile string) (*TopoCfg, *SimParams, error) {
	topo, err := ReadTopoCfg(topoFile, UseYAML(topoFile), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("reading topology %s: %w", topoFile, err)
	}

	params := DefaultSimParams()
	if len(paramFile) > 0 {
		read, err := ReadSimParams(paramFile, UseYAML(paramFile), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("reading parameters %s: %w", paramFile, err)
		}
		params = *read
	}
	return topo, &params, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
