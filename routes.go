package routesim

// routes.go computes the static routing tables used to forward packets.
//
// Every device (router or computer) is given a routing index 0..N-1 in the order
// the topology declares it.  Two NxN tables are then filled in: successor[i][j] is
// the routing index of the next device on the best path from i to j, and weight[i][j]
// is the summed transfer time of that path.  The tables are seeded with the direct
// connections and closed with Floyd-Warshall, under the rule that only routers relay,
// so a computer is never an intermediate hop of any path.

import (
	"fmt"
	"math"
	"strings"
)

// Unreachable is the successor entry of a pair with no path between them
const Unreachable = -1

// InfiniteWeight is the weight entry of a pair with no path between them
const InfiniteWeight uint64 = math.MaxUint64

// Routing holds the routing index assignment and the routing tables of a topology
type Routing struct {
	topo *TopoCfg

	devIDToIdx map[int]int // device id -> routing index
	idxToDevID []int       // routing index -> device id
	relays     []bool      // routing index -> device may relay (is a router)

	successor [][]int
	weight    [][]uint64
}

// CreateRouting is a constructor.  The tables are empty until
// AssignRoutingIndices, InitializeRoutingTables and ComputeRoutingTables are called
func CreateRouting(topo *TopoCfg) *Routing {
	rt := new(Routing)
	rt.topo = topo
	rt.devIDToIdx = make(map[int]int)
	rt.idxToDevID = make([]int, 0, len(topo.Devices))
	rt.relays = make([]bool, 0, len(topo.Devices))
	return rt
}

// BuildRouting runs all the steps that produce complete routing tables for topo
func BuildRouting(topo *TopoCfg) *Routing {
	rt := CreateRouting(topo)
	rt.AssignRoutingIndices()
	rt.InitializeRoutingTables()
	rt.ComputeRoutingTables()
	return rt
}

// AssignRoutingIndices gives every device the index of its row and column in
// the routing tables, following the declaration order of the topology
func (rt *Routing) AssignRoutingIndices() {
	for _, dev := range rt.topo.Devices {
		rt.devIDToIdx[dev.ID] = len(rt.idxToDevID)
		rt.idxToDevID = append(rt.idxToDevID, dev.ID)
		rt.relays = append(rt.relays, dev.Kind == RouterKind)
	}
}

// NumDevices is the number of rows (and columns) of the routing tables
func (rt *Routing) NumDevices() int {
	return len(rt.idxToDevID)
}

// RoutingIndex returns the routing index of the device with the given id
func (rt *Routing) RoutingIndex(devID int) (int, bool) {
	idx, present := rt.devIDToIdx[devID]
	return idx, present
}

// DeviceID returns the id of the device with the given routing index
func (rt *Routing) DeviceID(idx int) int {
	return rt.idxToDevID[idx]
}

// InitializeRoutingTables fills the tables with their starting values: each device
// reaches itself at weight 0, each declared link reaches its neighbor at the link's
// transfer time, and everything else is unreachable at infinite weight
func (rt *Routing) InitializeRoutingTables() {
	n := rt.NumDevices()
	rt.successor = make([][]int, n)
	rt.weight = make([][]uint64, n)

	for i := 0; i < n; i++ {
		rt.successor[i] = make([]int, n)
		rt.weight[i] = make([]uint64, n)
		for j := 0; j < n; j++ {
			if i == j {
				rt.successor[i][j] = i
				rt.weight[i][j] = 0
			} else {
				rt.successor[i][j] = Unreachable
				rt.weight[i][j] = InfiniteWeight
			}
		}
	}

	// fill in values for directly connected devices
	for _, dev := range rt.topo.Devices {
		srcIdx := rt.devIDToIdx[dev.ID]
		for _, link := range dev.Links {
			dstIdx, present := rt.devIDToIdx[link.Neighbor]
			if !present || dstIdx == srcIdx {
				continue
			}
			rt.successor[srcIdx][dstIdx] = dstIdx
			rt.weight[srcIdx][dstIdx] = link.TransferTime
		}
	}
}

// ComputeRoutingTables closes the tables with the Floyd-Warshall algorithm.  A path
// through intermediate device k is only accepted when k is a router, and a candidate
// sum is only formed when neither of its parts is infinite
func (rt *Routing) ComputeRoutingTables() {
	n := rt.NumDevices()
	for k := 0; k < n; k++ {
		// computers cannot forward a packet, so never serve as an intermediate device
		if !rt.relays[k] {
			continue
		}
		for i := 0; i < n; i++ {
			wik := rt.weight[i][k]
			if wik == InfiniteWeight {
				continue
			}
			for j := 0; j < n; j++ {
				wkj := rt.weight[k][j]
				if wkj == InfiniteWeight {
					continue
				}
				candidate, err := addTicks(wik, wkj)
				if err != nil {
					continue
				}
				if candidate < rt.weight[i][j] {
					rt.weight[i][j] = candidate
					rt.successor[i][j] = rt.successor[i][k]
				}
			}
		}
	}
}

// ExistsUnreachable reports whether some computer cannot reach some other computer.
// Reachability to or from routers does not matter
func (rt *Routing) ExistsUnreachable() bool {
	return len(rt.UnreachablePairs()) > 0
}

// UnreachablePairs lists, as (source id, destination id) pairs, every ordered pair
// of computers with no path between them
func (rt *Routing) UnreachablePairs() [][2]int {
	pairs := [][2]int{}
	n := rt.NumDevices()
	for i := 0; i < n; i++ {
		if rt.relays[i] {
			continue
		}
		for j := 0; j < n; j++ {
			if rt.relays[j] {
				continue
			}
			if rt.successor[i][j] == Unreachable {
				pairs = append(pairs, [2]int{rt.idxToDevID[i], rt.idxToDevID[j]})
			}
		}
	}
	return pairs
}

// Successor returns the successor table entry for the given routing indices
func (rt *Routing) Successor(i, j int) int {
	return rt.successor[i][j]
}

// NextHop returns the routing index of the device that follows the device with
// routing index fromIdx on the path to the device with id dstID
func (rt *Routing) NextHop(fromIdx, dstID int) (int, error) {
	dstIdx, present := rt.devIDToIdx[dstID]
	if !present {
		return Unreachable, fmt.Errorf("no device %d in routing tables", dstID)
	}
	nxt := rt.successor[fromIdx][dstIdx]
	if nxt == Unreachable {
		return Unreachable, fmt.Errorf("device %d has no route to device %d", rt.idxToDevID[fromIdx], dstID)
	}
	return nxt, nil
}

// Weight returns the summed transfer time of the path between two devices,
// InfiniteWeight when there is none
func (rt *Routing) Weight(srcID, dstID int) uint64 {
	srcIdx, presentS := rt.devIDToIdx[srcID]
	dstIdx, presentD := rt.devIDToIdx[dstID]
	if !presentS || !presentD {
		return InfiniteWeight
	}
	return rt.weight[srcIdx][dstIdx]
}

// Path returns the sequence of device ids visited going from srcID to dstID,
// both inclusive, following the successor table
func (rt *Routing) Path(srcID, dstID int) ([]int, error) {
	here, present := rt.devIDToIdx[srcID]
	if !present {
		return nil, fmt.Errorf("no device %d in routing tables", srcID)
	}
	route := []int{srcID}
	for steps := 0; rt.idxToDevID[here] != dstID; steps++ {
		if steps >= rt.NumDevices() {
			return nil, fmt.Errorf("routing loop between devices %d and %d", srcID, dstID)
		}
		nxt, err := rt.NextHop(here, dstID)
		if err != nil {
			return nil, err
		}
		here = nxt
		route = append(route, rt.idxToDevID[here])
	}
	return route, nil
}

// ShowPath returns a string that lists the names of all the network devices on
// the path from srcID to dstID
func (rt *Routing) ShowPath(srcID, dstID int) string {
	route, err := rt.Path(srcID, dstID)
	if err != nil {
		return err.Error()
	}
	names := make([]string, 0, len(route))
	for _, devID := range route {
		dev, _ := rt.topo.Device(devID)
		names = append(names, dev.DevName())
	}
	return strings.Join(names, ",")
}
