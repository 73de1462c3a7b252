package routesim

// stats.go accumulates the statistics of a run and derives the reported figures from them

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

// Statistics are the counters a run accumulates
type Statistics struct {
	// time stamp of the last event dispatched
	LengthOfSimulation uint64 `json:"lengthofsimulation" yaml:"lengthofsimulation"`

	SentPackets               uint64 `json:"sentpackets" yaml:"sentpackets"`
	DeliveredPackets          uint64 `json:"deliveredpackets" yaml:"deliveredpackets"`
	SentPacketsMalicious      uint64 `json:"sentpacketsmalicious" yaml:"sentpacketsmalicious"`
	DeliveredPacketsMalicious uint64 `json:"deliveredpacketsmalicious" yaml:"deliveredpacketsmalicious"`

	// summed latencies of all delivered packets, malicious ones included
	TotalDeliveryTime uint64 `json:"totaldeliverytime" yaml:"totaldeliverytime"`

	// summed attempt numbers of the delivered packets that are not malicious
	TotalAttempts uint64 `json:"totalattempts" yaml:"totalattempts"`
}

// AverageDeliveryTime is the mean latency of delivered packets, NaN if none was delivered
func (st *Statistics) AverageDeliveryTime() float64 {
	if st.DeliveredPackets == 0 {
		return math.NaN()
	}
	return float64(st.TotalDeliveryTime) / float64(st.DeliveredPackets)
}

// AverageAttempts is the mean number of attempts it took to deliver a packet
// that is not malicious, NaN if none was delivered
func (st *Statistics) AverageAttempts() float64 {
	benign := st.DeliveredPackets - st.DeliveredPacketsMalicious
	if benign == 0 {
		return math.NaN()
	}
	return float64(st.TotalAttempts) / float64(benign)
}

// WriteSummary writes the statistics as the seven lines of a result file
func (st *Statistics) WriteSummary(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("Simulation length: %d", st.LengthOfSimulation),
		fmt.Sprintf("Packets sent: %d", st.SentPackets),
		fmt.Sprintf("Packets delivered: %d", st.DeliveredPackets),
		fmt.Sprintf("Packets sent malicious: %d", st.SentPacketsMalicious),
		fmt.Sprintf("Packets delivered malicious: %d", st.DeliveredPacketsMalicious),
		"Average time delivered: " + strconv.FormatFloat(st.AverageDeliveryTime(), 'g', -1, 64),
		"Average number attempts: " + strconv.FormatFloat(st.AverageAttempts(), 'g', -1, 64),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// LatencySummary describes the distribution of the latencies of delivered packets.
// All fields are zero when no packet was delivered
type LatencySummary struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	Min    float64 `json:"min" yaml:"min"`
	Median float64 `json:"median" yaml:"median"`
	P95    float64 `json:"p95" yaml:"p95"`
	Max    float64 `json:"max" yaml:"max"`
}

// summarizeLatencies computes the LatencySummary of the given latencies
func summarizeLatencies(latencies []float64) LatencySummary {
	ls := LatencySummary{Count: len(latencies)}
	if ls.Count == 0 {
		return ls
	}

	// stat.Quantile needs sorted data
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	ls.Mean = stat.Mean(sorted, nil)
	if ls.Count > 1 {
		ls.StdDev = stat.StdDev(sorted, nil)
	}
	ls.Min = sorted[0]
	ls.Max = sorted[len(sorted)-1]
	ls.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	ls.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return ls
}

// Report is the serializable view of the outcome of a run.  Averages that are
// undefined because nothing was delivered are left out
type Report struct {
	RunID      string     `json:"runid,omitempty" yaml:"runid,omitempty"`
	Statistics Statistics `json:"statistics" yaml:"statistics"`

	AverageDeliveryTime *float64 `json:"averagedeliverytime,omitempty" yaml:"averagedeliverytime,omitempty"`
	AverageAttempts     *float64 `json:"averageattempts,omitempty" yaml:"averageattempts,omitempty"`

	Latency LatencySummary `json:"latency" yaml:"latency"`
}

// definedOrNil returns a pointer to v, or nil when v is NaN
func definedOrNil(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// WriteToFile stores the Report struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (rpt *Report) WriteToFile(filename string) error {
	return writeDesc(filename, rpt)
}
