package routesim

// scheduler.go holds the pending-event set of a simulation run.
//
// Events are kept in a min-heap ordered by time stamp.  Events that share a
// time stamp are returned in the order they were added, so a run is the
// same no matter how the heap happens to be laid out

import (
	"container/heap"
)

// ProcKind identifies which kind of process an event is addressed to
type ProcKind int

const (
	LinkProc ProcKind = iota
	FirewallProc
	RouterProc
	ComputerProc
)

var pkToStr map[ProcKind]string = map[ProcKind]string{
	LinkProc:     "link",
	FirewallProc: "firewall",
	RouterProc:   "router",
	ComputerProc: "computer",
}

func (pk ProcKind) String() string {
	return pkToStr[pk]
}

// ProcRef is a handle on a process of the model.  Idx indexes the arena
// of processes of the given kind that the Model owns
type ProcRef struct {
	Kind ProcKind
	Idx  int
}

// Event is a scheduled occurrence of type Type at process Target
type Event struct {
	Time   uint64
	Target ProcRef
	Type   EventType

	seq uint64 // insertion order, breaks ties on Time
}

// evtHeap and its methods implement a min-priority heap
// on the (Time, seq) key of events
type evtHeap []Event

func (h evtHeap) Len() int { return len(h) }
func (h evtHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].seq < h[j].seq
}
func (h evtHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *evtHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *evtHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Scheduler holds the events of a run that have not been dispatched yet
type Scheduler struct {
	events evtHeap
	nxtSeq uint64
}

// CreateScheduler is a constructor
func CreateScheduler() *Scheduler {
	sched := new(Scheduler)
	sched.events = evtHeap{}
	heap.Init(&sched.events)
	return sched
}

// Add puts an event into the pending set
func (sched *Scheduler) Add(evt Event) {
	evt.seq = sched.nxtSeq
	sched.nxtSeq += 1
	heap.Push(&sched.events, evt)
}

// schedule is shorthand for adding an event built from its parts
func (sched *Scheduler) schedule(time uint64, target ProcRef, evtType EventType) {
	sched.Add(Event{Time: time, Target: target, Type: evtType})
}

// PopEarliest removes and returns the event with the smallest time stamp.
// The second return is false once no events remain
func (sched *Scheduler) PopEarliest() (Event, bool) {
	if len(sched.events) == 0 {
		return Event{}, false
	}
	return heap.Pop(&sched.events).(Event), true
}

// PeekTime returns the time stamp of the event PopEarliest would return next
func (sched *Scheduler) PeekTime() (uint64, bool) {
	if len(sched.events) == 0 {
		return 0, false
	}
	return sched.events[0].Time, true
}

// Len is the number of pending events
func (sched *Scheduler) Len() int {
	return len(sched.events)
}
