package routesim

// traffic.go generates the packets of a run.  All the randomness of a run is
// drawn here, from one source seeded by SimParams.RandomSeed, so two runs with
// the same topology and parameters generate the same packets at the same times

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// TrafficGen draws the endpoints, the malicious flag and the send time of packets
type TrafficGen struct {
	rng          *rand.Rand
	distribution Distribution
	sendUntil    uint64
	maliciousP   float64

	// used when distribution is DiscreteGaussian
	normal distuv.Normal
}

// CreateTrafficGen is a constructor
func CreateTrafficGen(params *SimParams) *TrafficGen {
	src := rand.NewSource(uint64(params.RandomSeed))

	tg := new(TrafficGen)
	tg.rng = rand.New(src)
	tg.distribution = params.Distribution
	tg.sendUntil = params.SendUntil
	tg.maliciousP = params.MaliciousProbability

	h := float64(params.SendUntil)
	tg.normal = distuv.Normal{Mu: h / 2, Sigma: h / 4, Src: src}
	return tg
}

// Endpoints draws a pair of distinct positions in [0, n).  Both are drawn again
// whenever they coincide.  n must be at least 2
func (tg *TrafficGen) Endpoints(n int) (int, int) {
	for {
		from := tg.rng.Intn(n)
		to := tg.rng.Intn(n)
		if from != to {
			return from, to
		}
	}
}

// Malicious draws whether a packet from a malicious computer is malicious
func (tg *TrafficGen) Malicious() bool {
	return tg.rng.Float64() < tg.maliciousP
}

// SendTime draws the tick at which a packet is first sent, in [0, sendUntil]
func (tg *TrafficGen) SendTime() uint64 {
	h := tg.sendUntil
	switch tg.distribution {
	case DiscreteGaussian:
		if h == 0 {
			return 0
		}
		// resample until the draw lands inside the horizon
		for {
			v := tg.normal.Rand()
			if v < 0 || v > float64(h) {
				continue
			}
			return min(uint64(v), h)
		}

	default:
		if h == math.MaxUint64 {
			return tg.rng.Uint64()
		}
		return tg.rng.Uint64() % (h + 1)
	}
}

// generateTraffic creates params.TotalPackets packets between random distinct
// computers of the model, puts each on the outbound queue of its source, and
// schedules a send by the source at the packet's send time
func (m *Model) generateTraffic(params *SimParams) {
	tg := CreateTrafficGen(params)
	n := len(m.computers)

	for i := uint64(0); i < params.TotalPackets; i++ {
		from, to := tg.Endpoints(n)
		src := m.computers[from]
		dst := m.computers[to]

		malicious := false
		if src.malicious {
			malicious = tg.Malicious()
		}

		when := tg.SendTime()
		pckt := createPacket(i+1, src.id, dst.id, malicious)
		m.queuePacket(from, pckt, when)
	}
	m.logger.Debug("traffic generated", "packets", params.TotalPackets,
		"distribution", string(params.Distribution), "seed", params.RandomSeed)
}
