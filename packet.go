package routesim

// packet.go holds the Packet carried through the simulated network, the
// event types the processes react to, and the FIFO queue each process
// stage keeps its packets in

import (
	"fmt"
	"math/bits"
)

// Packet is one message from a source computer to a destination computer.
// A single Packet value is shared by reference between every queue that
// holds a copy of it, so the Timeout field is rewritten in place on resend.
type Packet struct {
	ID            uint64 // 1..N within a run, in generation order
	Source        int    // device id of the sending computer
	Destination   int    // device id of the receiving computer
	Malicious     bool   // fixed at creation
	Received      bool   // set once, on delivery
	AttemptNumber uint32 // starts at 1, incremented on each resend
	Timeout       uint64 // tick at which the current attempt expires (inclusive)
	TimeFirstSent uint64 // tick of the first transmission, used for latency
}

// createPacket is a constructor
func createPacket(id uint64, src, dst int, malicious bool) *Packet {
	return &Packet{ID: id, Source: src, Destination: dst, Malicious: malicious, AttemptNumber: 1}
}

// EventType names the kinds of events the processes react to
type EventType int

const (
	SendPacket EventType = iota
	FinishSending
	ProcessPacket
	FinishProcessing
	Timeout
)

var etToStr map[EventType]string = map[EventType]string{
	SendPacket:       "SendPacket",
	FinishSending:    "FinishSending",
	ProcessPacket:    "ProcessPacket",
	FinishProcessing: "FinishProcessing",
	Timeout:          "Timeout",
}

func (et EventType) String() string {
	str, present := etToStr[et]
	if !present {
		return fmt.Sprintf("EventType(%d)", int(et))
	}
	return str
}

// pcktQueue is the FIFO of packets waiting at a process stage.  Next to
// every packet it remembers the packet's Timeout as it was when the packet
// was enqueued, which is how copies left behind by an earlier attempt are
// recognized once the packet has been resent
type pcktQueue struct {
	pckts    []*Packet
	timeouts []uint64
}

func (pq *pcktQueue) push(pckt *Packet, timeout uint64) {
	pq.pckts = append(pq.pckts, pckt)
	pq.timeouts = append(pq.timeouts, timeout)
}

// head returns the packet at the front of the queue and its captured timeout
// without removing them
func (pq *pcktQueue) head() (*Packet, uint64, bool) {
	if len(pq.pckts) == 0 {
		return nil, 0, false
	}
	return pq.pckts[0], pq.timeouts[0], true
}

// pop removes and returns the packet at the front of the queue
func (pq *pcktQueue) pop() (*Packet, uint64, bool) {
	pckt, timeout, ok := pq.head()
	if !ok {
		return nil, 0, false
	}
	pq.pckts[0] = nil
	pq.pckts = pq.pckts[1:]
	pq.timeouts = pq.timeouts[1:]
	return pckt, timeout, true
}

func (pq *pcktQueue) len() int {
	return len(pq.pckts)
}

// isStale reports whether a queued copy of pckt must be dropped rather than
// processed at time now.  The copy is live only while its attempt has not
// expired and no resend has rewritten the packet's timeout since it was queued
func isStale(now uint64, pckt *Packet, captured uint64) bool {
	return now > pckt.Timeout || captured != pckt.Timeout
}

// addTicks returns a+b, or ErrOverflow if the sum does not fit in a tick
func addTicks(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}
