package routesim

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genParams(seed int64, horizon uint64, dist Distribution) *SimParams {
	params := DefaultSimParams()
	params.RandomSeed = seed
	params.SendUntil = horizon
	params.Distribution = dist
	return &params
}

func TestTrafficGenProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("uniform send times stay within the horizon", prop.ForAll(
		func(seed int64, horizon uint64) bool {
			tg := CreateTrafficGen(genParams(seed, horizon, Uniform))
			for i := 0; i < 50; i++ {
				if tg.SendTime() > horizon {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.UInt64Range(0, 1_000_000),
	))

	properties.Property("gaussian send times stay within the horizon", prop.ForAll(
		func(seed int64, horizon uint64) bool {
			tg := CreateTrafficGen(genParams(seed, horizon, DiscreteGaussian))
			for i := 0; i < 50; i++ {
				if tg.SendTime() > horizon {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.UInt64Range(0, 1_000_000),
	))

	properties.Property("endpoints are distinct and in range", prop.ForAll(
		func(seed int64, n int) bool {
			tg := CreateTrafficGen(genParams(seed, 10, Uniform))
			for i := 0; i < 50; i++ {
				from, to := tg.Endpoints(n)
				if from == to || from < 0 || to < 0 || from >= n || to >= n {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(2, 40),
	))

	properties.Property("same seed draws the same sequence", prop.ForAll(
		func(seed int64) bool {
			a := CreateTrafficGen(genParams(seed, 1000, DiscreteGaussian))
			b := CreateTrafficGen(genParams(seed, 1000, DiscreteGaussian))
			for i := 0; i < 20; i++ {
				fa, ta := a.Endpoints(5)
				fb, tb := b.Endpoints(5)
				if fa != fb || ta != tb || a.SendTime() != b.SendTime() || a.Malicious() != b.Malicious() {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestSendTimeEdgeHorizons(t *testing.T) {
	for _, dist := range []Distribution{Uniform, DiscreteGaussian} {
		tg := CreateTrafficGen(genParams(1, 0, dist))
		for i := 0; i < 10; i++ {
			assert.Equal(t, uint64(0), tg.SendTime())
		}
	}

	// truncation keeps gaussian draws on a short horizon inside it
	for _, h := range []uint64{1, 2, 3} {
		tg := CreateTrafficGen(genParams(int64(h), h, DiscreteGaussian))
		for i := 0; i < 200; i++ {
			assert.LessOrEqual(t, tg.SendTime(), h)
		}
	}

	// the full tick range must not wrap around when one is added to the horizon
	tg := CreateTrafficGen(genParams(1, math.MaxUint64, Uniform))
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		seen[tg.SendTime()] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestGaussianCentersOnHalfHorizon(t *testing.T) {
	tg := CreateTrafficGen(genParams(42, 1000, DiscreteGaussian))
	sum := 0.0
	const n = 4000
	for i := 0; i < n; i++ {
		sum += float64(tg.SendTime())
	}
	assert.InDelta(t, 500, sum/n, 25)
}

func TestMaliciousProbabilityExtremes(t *testing.T) {
	params := genParams(3, 10, Uniform)
	params.MaliciousProbability = 0
	never := CreateTrafficGen(params)
	params.MaliciousProbability = 1
	always := CreateTrafficGen(params)
	for i := 0; i < 100; i++ {
		assert.False(t, never.Malicious())
		assert.True(t, always.Malicious())
	}
}

func TestGenerateTraffic(t *testing.T) {
	tc := pairTopo(t)
	dev, _ := tc.Device(2)
	dev.Malicious = true

	params := testParams(10, 3)
	params.TotalPackets = 40
	params.SendUntil = 50
	params.MaliciousProbability = 1
	m := buildTestModel(t, tc, params, nil, nil)
	m.generateTraffic(&params)

	require.Equal(t, 40, m.sched.Len())
	ids := map[uint64]bool{}
	for _, cmptr := range m.computers {
		for _, pckt := range cmptr.outQ.pckts {
			assert.Equal(t, cmptr.id, pckt.Source)
			assert.NotEqual(t, pckt.Source, pckt.Destination)
			assert.Equal(t, uint32(1), pckt.AttemptNumber)

			// only the malicious computer originates malicious packets
			assert.Equal(t, cmptr.malicious, pckt.Malicious)
			ids[pckt.ID] = true
		}
	}
	assert.Len(t, ids, 40)
	for id := uint64(1); id <= 40; id++ {
		assert.True(t, ids[id])
	}

	for m.sched.Len() > 0 {
		evt, _ := m.sched.PopEarliest()
		assert.Equal(t, SendPacket, evt.Type)
		assert.Equal(t, ComputerProc, evt.Target.Kind)
		assert.LessOrEqual(t, evt.Time, uint64(50))
	}
}
