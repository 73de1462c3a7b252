package routesim

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleParams() SimParams {
	return SimParams{
		TotalPackets:         5,
		SendUntil:            100,
		Timeout:              10,
		MaxAttempts:          3,
		MaliciousProbability: 0,
		Distribution:         Uniform,
		RandomSeed:           123,
	}
}

func TestRunExampleScenario(t *testing.T) {
	res, err := Run(pairTopo(t), exampleParams())
	require.NoError(t, err)

	// every route takes 9 ticks and none of them queues behind another
	assert.Equal(t, Statistics{
		LengthOfSimulation: 66,
		SentPackets:        5,
		DeliveredPackets:   5,
		TotalDeliveryTime:  45,
		TotalAttempts:      5,
	}, res.Stats)
	assert.Equal(t, 9.0, res.Stats.AverageDeliveryTime())
	assert.Equal(t, 1.0, res.Stats.AverageAttempts())

	assert.Equal(t, 5, res.Latency.Count)
	assert.Equal(t, 9.0, res.Latency.Min)
	assert.Equal(t, 9.0, res.Latency.Max)
}

func TestRunDeliversAcrossSeeds(t *testing.T) {
	for seed := int64(1); seed <= 7; seed++ {
		params := exampleParams()
		params.RandomSeed = seed
		res, err := Run(pairTopo(t), params)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), res.Stats.DeliveredPackets, "seed %d", seed)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	first, err := Run(pairTopo(t), exampleParams())
	require.NoError(t, err)
	second, err := Run(pairTopo(t), exampleParams())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// one Simulation run twice gives the same result too
	sim := CreateSimulation(pairTopo(t), exampleParams())
	a, err := sim.Run()
	require.NoError(t, err)
	b, err := sim.Run()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, first, a)
}

// meshTopo has three routers in a triangle, one with a firewall, and six computers
func meshTopo(t *testing.T) *TopoCfg {
	tc := CreateTopoCfg("mesh")
	tc.AddRouter(1, "", 1)
	tc.AddRouter(2, "", 2)
	tc.AddRouter(3, "", 1)
	require.NoError(t, tc.SetFirewall(2, 1))
	require.NoError(t, tc.Connect(1, 2, 4, 4))
	require.NoError(t, tc.Connect(2, 3, 2, 3))
	require.NoError(t, tc.Connect(1, 3, 7, 7))
	for id := 10; id < 16; id++ {
		tc.AddComputer(id, "", id%3 == 0)
		require.NoError(t, tc.Connect(id, 1+id%3, 2, 2))
	}
	require.NoError(t, tc.Validate())
	return tc
}

func TestRunProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)
	topo := meshTopo(t)

	properties.Property("runs with the same seed agree and respect the counters' bounds", prop.ForAll(
		func(seed int64, gaussian bool, timeout uint64, attempts uint32) bool {
			params := exampleParams()
			params.TotalPackets = 60
			params.MaliciousProbability = 0.5
			params.RandomSeed = seed
			params.Timeout = timeout
			params.MaxAttempts = attempts
			if gaussian {
				params.Distribution = DiscreteGaussian
			}

			a, err := Run(topo, params)
			if err != nil {
				return false
			}
			b, err := Run(topo, params)
			if err != nil {
				return false
			}
			st := a.Stats
			return *a == *b &&
				st.SentPackets == params.TotalPackets &&
				st.DeliveredPackets <= st.SentPackets &&
				st.DeliveredPacketsMalicious <= st.SentPacketsMalicious &&
				st.SentPacketsMalicious <= st.SentPackets &&
				st.TotalAttempts >= st.DeliveredPackets-st.DeliveredPacketsMalicious &&
				st.TotalAttempts <= uint64(attempts)*(st.DeliveredPackets-st.DeliveredPacketsMalicious)
		},
		gen.Int64(),
		gen.Bool(),
		gen.UInt64Range(0, 60),
		gen.UInt32Range(1, 4),
	))

	properties.Property("progress is reported once per tick, in increasing order", prop.ForAll(
		func(seed int64) bool {
			params := exampleParams()
			params.TotalPackets = 30
			params.RandomSeed = seed

			ticks := []uint64{}
			sim := CreateSimulation(topo, params)
			sim.SetProgress(func(now uint64, stats Statistics) {
				ticks = append(ticks, now)
			})
			res, err := sim.Run()
			if err != nil || len(ticks) == 0 {
				return false
			}
			for i := 1; i < len(ticks); i++ {
				if ticks[i] <= ticks[i-1] {
					return false
				}
			}
			return ticks[len(ticks)-1] == res.Stats.LengthOfSimulation
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestRunFirewallStopsMalicious(t *testing.T) {
	// every route between the two computers passes the firewall of router 1
	tc := pairTopo(t)
	require.NoError(t, tc.SetFirewall(1, 1))
	for _, id := range []int{2, 3} {
		dev, _ := tc.Device(id)
		dev.Malicious = true
	}

	params := exampleParams()
	params.TotalPackets = 50
	params.MaliciousProbability = 1
	params.Timeout = 50
	res, err := Run(tc, params)
	require.NoError(t, err)

	assert.Equal(t, uint64(50), res.Stats.SentPacketsMalicious)
	assert.Equal(t, uint64(0), res.Stats.DeliveredPackets)
	assert.Equal(t, uint64(0), res.Stats.DeliveredPacketsMalicious)
}

func TestRunErrors(t *testing.T) {
	lonely := CreateTopoCfg("lonely")
	lonely.AddRouter(1, "", 1)
	lonely.AddComputer(2, "", false)
	require.NoError(t, lonely.Connect(1, 2, 1, 1))

	split := CreateTopoCfg("split")
	split.AddRouter(1, "", 1)
	split.AddComputer(2, "", false)
	split.AddComputer(3, "", false)
	require.NoError(t, split.Connect(1, 2, 1, 1))

	badParams := exampleParams()
	badParams.MaxAttempts = 0

	overflow := exampleParams()
	overflow.Timeout = ^uint64(0)

	tests := []struct {
		name   string
		topo   *TopoCfg
		params SimParams
		want   error
		reason string
	}{
		{"too few computers", lonely, exampleParams(), ErrTooFewComputers, "There need to be at least 2 computers in network."},
		{"unreachable", split, exampleParams(), ErrUnreachable, "Some devices are unreachable."},
		{"invalid params", pairTopo(t), badParams, ErrInvalidConfig, ""},
		{"overflow", pairTopo(t), overflow, ErrOverflow,
			"Overflow has occurred. Consider lowering Timeout and Send until simulation parameters."},
		{"no topology", nil, exampleParams(), ErrInvalidConfig, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(tt.topo, tt.params)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			if len(tt.reason) > 0 {
				assert.Equal(t, tt.reason, AbortReason(err))
			}
		})
	}
}

func TestRunLogsConfigAborts(t *testing.T) {
	badParams := exampleParams()
	badParams.MaxAttempts = 0

	for _, topo := range []*TopoCfg{nil, CreateTopoCfg("empty"), pairTopo(t)} {
		var logs bytes.Buffer
		sim := CreateSimulation(topo, badParams)
		sim.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
		_, err := sim.Run()
		require.Error(t, err)
		assert.Contains(t, logs.String(), "simulation aborted")
	}
}

func TestAbortReason(t *testing.T) {
	assert.Equal(t, "", AbortReason(nil))
	other := errors.New("disk full")
	assert.Equal(t, "disk full", AbortReason(other))
}

func TestRunLogsAndMetrics(t *testing.T) {
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	metrics := CreateMetrics(reg)

	sim := CreateSimulation(pairTopo(t), exampleParams())
	sim.SetLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	sim.SetMetrics(metrics)
	res, err := sim.Run()
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "simulation started")
	assert.Contains(t, logs.String(), "simulation finished")
	assert.Contains(t, logs.String(), "computer received packet")

	assert.Equal(t, float64(res.Stats.SentPackets), testutil.ToFloat64(metrics.PacketsSent.WithLabelValues("benign")))
	assert.Equal(t, float64(res.Stats.DeliveredPackets),
		testutil.ToFloat64(metrics.PacketsDelivered.WithLabelValues("benign")))
	// computers, links and routers all receive SendPacket events
	assert.Greater(t, testutil.ToFloat64(metrics.EventsDispatched.WithLabelValues(SendPacket.String())),
		float64(res.Stats.SentPackets))

	filename := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, prometheus.WriteToTextfile(filename, reg))
}

func TestReadExperiment(t *testing.T) {
	dir := t.TempDir()
	topoFile := filepath.Join(dir, "topo.yaml")
	paramFile := filepath.Join(dir, "params.json")
	require.NoError(t, pairTopo(t).WriteToFile(topoFile))
	params := exampleParams()
	require.NoError(t, params.WriteToFile(paramFile))

	topo, back, err := ReadExperiment(topoFile, paramFile)
	require.NoError(t, err)
	assert.Equal(t, pairTopo(t), topo)
	assert.Equal(t, params, *back)

	_, defaults, err := ReadExperiment(topoFile, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSimParams(), *defaults)

	_, _, err = ReadExperiment(filepath.Join(dir, "missing.yaml"), "")
	assert.Error(t, err)
}
