package routesim

// net.go contains the processes of the simulated network and the Model that owns
// them.  There are four kinds of process, links, firewalls, routers and computers.
// The Model keeps each kind in its own arena and refers to a process through a
// ProcRef handle, so devices and links point at one another by index only.
//
// Each kind has one event handler, the only place its behavior is defined.  An
// event type a handler does not know is ignored.

import (
	"fmt"
	"log/slog"
)

// linkProc carries packets one way between two connected devices, one at a time
type linkProc struct {
	id           int
	srcIdx       int // routing index of the device the link leaves from
	dstID        int // device id of the device the link leads to
	transferTime uint64
	busy         bool
	queue        pcktQueue
}

// firewallProc inspects the packets a router has processed and discards malicious ones
type firewallProc struct {
	id             int
	processingTime uint64
	processing     bool
	queue          pcktQueue
	router         int // index of the shielded router in Model.routers
}

// routerDev forwards packets toward their destination computer
type routerDev struct {
	id             int
	name           string
	rtIdx          int
	processingTime uint64
	processing     bool
	inQ            pcktQueue
	outQ           pcktQueue
	links          []int // indices in Model.links of the links leaving the router
	firewall       int   // index in Model.firewalls, -1 if there is none
}

// computerDev sends and receives packets, and resends those not delivered in time
type computerDev struct {
	id        int
	name      string
	rtIdx     int
	malicious bool
	inQ       pcktQueue
	outQ      pcktQueue
	links     []int

	// packets sent and not yet resolved, in the order they were sent
	awaitingAck []*Packet
}

// Model holds all the state of one simulation run
type Model struct {
	time        uint64
	timeout     uint64
	maxAttempts uint32

	routing *Routing
	sched   *Scheduler
	stats   *Statistics

	// latency of every delivered packet, in delivery order
	latencies []float64

	links     []*linkProc
	firewalls []*firewallProc
	routers   []*routerDev
	computers []*computerDev

	// devRef maps a routing index to the router or computer holding it
	devRef []ProcRef

	// used for ids of links and firewalls, which share no counter with devices
	nxtProcID int

	logger  *slog.Logger
	metrics *Metrics
	trace   *TraceManager
}

// createModel is a constructor.  It builds the processes of every device of
// topo, and the links and firewalls those devices declare
func createModel(topo *TopoCfg, params *SimParams, routing *Routing,
	logger *slog.Logger, metrics *Metrics, trace *TraceManager) *Model {

	m := new(Model)
	m.timeout = params.Timeout
	m.maxAttempts = params.MaxAttempts
	m.routing = routing
	m.sched = CreateScheduler()
	m.stats = new(Statistics)
	m.latencies = []float64{}
	m.logger = logger
	if m.logger == nil {
		m.logger = discardLogger()
	}
	m.metrics = metrics
	m.trace = trace

	for _, dev := range topo.Devices {
		if dev.ID >= m.nxtProcID {
			m.nxtProcID = dev.ID + 1
		}
	}

	m.extractDevices(topo)
	return m
}

// nxtID creates an id for a link or firewall, unique among all the objects of the model
func (m *Model) nxtID() int {
	id := m.nxtProcID
	m.nxtProcID += 1
	return id
}

// extractDevices creates the processes corresponding to the devices of topo
func (m *Model) extractDevices(topo *TopoCfg) {
	m.devRef = make([]ProcRef, m.routing.NumDevices())

	for _, dev := range topo.Devices {
		rtIdx, _ := m.routing.RoutingIndex(dev.ID)

		// one link for every declared neighbor
		links := make([]int, 0, len(dev.Links))
		for _, ld := range dev.Links {
			lnk := &linkProc{id: m.nxtID(), srcIdx: rtIdx, dstID: ld.Neighbor, transferTime: ld.TransferTime}
			links = append(links, len(m.links))
			m.links = append(m.links, lnk)
			m.trace.AddName(lnk.id, fmt.Sprintf("link %s->%d", dev.DevName(), ld.Neighbor), "link")
		}

		switch dev.Kind {
		case ComputerKind:
			cmptr := &computerDev{id: dev.ID, name: dev.DevName(), rtIdx: rtIdx,
				malicious: dev.Malicious, links: links}
			m.devRef[rtIdx] = ProcRef{Kind: ComputerProc, Idx: len(m.computers)}
			m.computers = append(m.computers, cmptr)
			m.trace.AddName(dev.ID, dev.DevName(), "computer")

		case RouterKind:
			rtr := &routerDev{id: dev.ID, name: dev.DevName(), rtIdx: rtIdx,
				processingTime: dev.ProcessingTime, links: links, firewall: -1}
			rtrIdx := len(m.routers)
			m.devRef[rtIdx] = ProcRef{Kind: RouterProc, Idx: rtrIdx}
			m.trace.AddName(dev.ID, dev.DevName(), "router")

			// if specified, assign firewall to router
			if dev.Firewall != nil {
				fw := &firewallProc{id: m.nxtID(), processingTime: dev.Firewall.ProcessingTime, router: rtrIdx}
				rtr.firewall = len(m.firewalls)
				m.firewalls = append(m.firewalls, fw)
				m.trace.AddName(fw.id, "firewall@"+dev.DevName(), "firewall")
			}
			m.routers = append(m.routers, rtr)
		}
	}
}

// HandleEvent passes evt to the process it targets
func (m *Model) HandleEvent(evt Event) error {
	m.metrics.eventDispatched(evt.Type)

	ref := evt.Target
	switch ref.Kind {
	case LinkProc:
		return m.handleLink(m.links[ref.Idx], ref, evt.Type)
	case FirewallProc:
		return m.handleFirewall(m.firewalls[ref.Idx], ref, evt.Type)
	case RouterProc:
		return m.handleRouter(m.routers[ref.Idx], ref, evt.Type)
	case ComputerProc:
		return m.handleComputer(m.computers[ref.Idx], ref, evt.Type)
	}
	return fmt.Errorf("event for unknown process kind %d", ref.Kind)
}

// handleLink moves packets over a link.  An idle link starts sending the packet at the
// head of its queue, and when sending finishes hands the packet to the next device on
// its path and looks for another packet to send
func (m *Model) handleLink(lnk *linkProc, ref ProcRef, evtType EventType) error {
	switch evtType {
	case SendPacket:
		if lnk.busy {
			return nil
		}
		pckt, captured, ok := lnk.queue.head()
		if !ok {
			return nil
		}

		if isStale(m.time, pckt, captured) {
			// drop it and immediately try the next one
			lnk.queue.pop()
			m.dropStale(pckt, lnk.id, "link")
			m.sched.schedule(m.time, ref, SendPacket)
			return nil
		}

		finish, err := addTicks(m.time, lnk.transferTime)
		if err != nil {
			return err
		}
		lnk.busy = true
		m.sched.schedule(finish, ref, FinishSending)

	case FinishSending:
		pckt, captured, ok := lnk.queue.pop()
		if ok {
			if isStale(m.time, pckt, captured) {
				m.dropStale(pckt, lnk.id, "link")
			} else {
				// delegate packet to the next hop device on its path to the destination computer
				nxtIdx, err := m.routing.NextHop(lnk.srcIdx, pckt.Destination)
				if err != nil {
					return err
				}
				m.addTrace(pckt, lnk.id, "exit")
				m.deliverToDevice(nxtIdx, pckt)
			}
		}
		lnk.busy = false
		m.sched.schedule(m.time, ref, SendPacket)
	}
	return nil
}

// deliverToDevice puts pckt in the inbound queue of the device with routing index rtIdx
// and tells that device to process it
func (m *Model) deliverToDevice(rtIdx int, pckt *Packet) {
	ref := m.devRef[rtIdx]
	switch ref.Kind {
	case RouterProc:
		m.routers[ref.Idx].inQ.push(pckt, pckt.Timeout)
	case ComputerProc:
		m.computers[ref.Idx].inQ.push(pckt, pckt.Timeout)
	}
	m.sched.schedule(m.time, ref, ProcessPacket)
}

// handleFirewall inspects the packets its router has processed, discards the malicious
// ones and returns the rest to the router for sending
func (m *Model) handleFirewall(fw *firewallProc, ref ProcRef, evtType EventType) error {
	switch evtType {
	case ProcessPacket:
		if fw.processing {
			return nil
		}
		pckt, captured, ok := fw.queue.head()
		if !ok {
			return nil
		}

		if isStale(m.time, pckt, captured) {
			fw.queue.pop()
			m.dropStale(pckt, fw.id, "firewall")
			m.sched.schedule(m.time, ref, ProcessPacket)
			return nil
		}

		finish, err := addTicks(m.time, fw.processingTime)
		if err != nil {
			return err
		}
		fw.processing = true
		m.sched.schedule(finish, ref, FinishProcessing)

	case FinishProcessing:
		fw.processing = false
		pckt, captured, ok := fw.queue.pop()
		if ok {
			switch {
			case pckt.Malicious:
				m.logger.Debug("firewall discarded malicious packet",
					"firewall", fw.id, "packet", pckt.ID, "time", m.time)
				m.metrics.dropped(dropFirewall)
				m.addTrace(pckt, fw.id, "discard")

			case isStale(m.time, pckt, captured):
				m.dropStale(pckt, fw.id, "firewall")

			default:
				rtr := m.routers[fw.router]
				rtr.outQ.push(pckt, captured)
				m.sched.schedule(m.time, m.devRef[rtr.rtIdx], SendPacket)
			}
		}
		m.sched.schedule(m.time, ref, ProcessPacket)
	}
	return nil
}

// handleRouter processes the packets arriving at a router one at a time, passes them
// through the router's firewall if it has one, and sends them out on the link toward
// their destination
func (m *Model) handleRouter(rtr *routerDev, ref ProcRef, evtType EventType) error {
	switch evtType {
	case SendPacket:
		pckt, captured, ok := rtr.outQ.pop()
		if !ok {
			return nil
		}
		lnkIdx, err := m.getLink(rtr.links, rtr.rtIdx, pckt)
		if err != nil {
			return err
		}
		m.links[lnkIdx].queue.push(pckt, captured)
		m.sched.schedule(m.time, ProcRef{Kind: LinkProc, Idx: lnkIdx}, SendPacket)

	case ProcessPacket:
		if rtr.processing {
			return nil
		}
		pckt, captured, ok := rtr.inQ.head()
		if !ok {
			return nil
		}

		if isStale(m.time, pckt, captured) {
			rtr.inQ.pop()
			m.dropStale(pckt, rtr.id, "router")
			m.sched.schedule(m.time, ref, ProcessPacket)
			return nil
		}

		finish, err := addTicks(m.time, rtr.processingTime)
		if err != nil {
			return err
		}
		rtr.processing = true
		m.sched.schedule(finish, ref, FinishProcessing)

	case FinishProcessing:
		rtr.processing = false
		pckt, captured, ok := rtr.inQ.pop()
		if ok {
			if isStale(m.time, pckt, captured) {
				m.dropStale(pckt, rtr.id, "router")
			} else if rtr.firewall >= 0 {
				// let the firewall inspect the packet before it is sent on
				m.firewalls[rtr.firewall].queue.push(pckt, captured)
				m.sched.schedule(m.time, ProcRef{Kind: FirewallProc, Idx: rtr.firewall}, ProcessPacket)
			} else {
				rtr.outQ.push(pckt, captured)
				m.sched.schedule(m.time, ref, SendPacket)
			}
		}
		m.sched.schedule(m.time, ref, ProcessPacket)
	}
	return nil
}

// handleComputer sends the packets generated at a computer, receives the packets
// addressed to it, and resolves the timeouts of the packets it has sent
func (m *Model) handleComputer(cmptr *computerDev, ref ProcRef, evtType EventType) error {
	switch evtType {
	case SendPacket:
		pckt, _, ok := cmptr.outQ.pop()
		if !ok {
			return nil
		}

		// used to measure how long it took to deliver the packet
		pckt.TimeFirstSent = m.time

		if err := m.sendPacket(cmptr, ref, pckt); err != nil {
			return err
		}

		m.stats.SentPackets += 1
		if pckt.Malicious {
			m.stats.SentPacketsMalicious += 1
		}
		m.metrics.sent(pckt.Malicious)
		m.logger.Debug("computer sends packet", "computer", cmptr.id, "packet", pckt.ID, "time", m.time)

	case ProcessPacket:
		pckt, captured, ok := cmptr.inQ.pop()
		if !ok {
			return nil
		}
		if isStale(m.time, pckt, captured) {
			m.dropStale(pckt, cmptr.id, "computer")
			return nil
		}
		return m.receivePacket(cmptr, pckt)

	case Timeout:
		// packets time out in the order they are sent
		if len(cmptr.awaitingAck) == 0 {
			return nil
		}
		pckt := cmptr.awaitingAck[0]
		cmptr.awaitingAck[0] = nil
		cmptr.awaitingAck = cmptr.awaitingAck[1:]

		if pckt.Received {
			return nil
		}

		// not delivered in time, send it again unless it has been sent too many times
		if pckt.AttemptNumber < m.maxAttempts {
			pckt.AttemptNumber += 1
			m.metrics.resent()
			return m.sendPacket(cmptr, ref, pckt)
		}

		m.logger.Debug("packet could not be delivered", "computer", cmptr.id, "packet", pckt.ID,
			"attempts", pckt.AttemptNumber, "time", m.time)
		m.metrics.dropped(dropExhausted)
		m.addTrace(pckt, cmptr.id, "abandon")
	}
	return nil
}

// sendPacket starts a transmission attempt of pckt: it sets the packet's timeout,
// hands the packet to the link toward its destination, and schedules the
// resolution of the attempt
func (m *Model) sendPacket(cmptr *computerDev, ref ProcRef, pckt *Packet) error {
	timeout, err := addTicks(m.time, m.timeout)
	if err != nil {
		return err
	}

	// one tick past the timeout, because a packet arriving exactly at its
	// timeout is still received and must not be resent
	resolve, err := addTicks(timeout, 1)
	if err != nil {
		return err
	}

	lnkIdx, err := m.getLink(cmptr.links, cmptr.rtIdx, pckt)
	if err != nil {
		return err
	}

	pckt.Timeout = timeout
	m.links[lnkIdx].queue.push(pckt, timeout)
	m.sched.schedule(m.time, ProcRef{Kind: LinkProc, Idx: lnkIdx}, SendPacket)

	cmptr.awaitingAck = append(cmptr.awaitingAck, pckt)
	m.sched.schedule(resolve, ref, Timeout)

	m.addTrace(pckt, cmptr.id, "send")
	return nil
}

// receivePacket records the delivery of pckt at its destination computer
func (m *Model) receivePacket(cmptr *computerDev, pckt *Packet) error {
	pckt.Received = true

	latency := m.time - pckt.TimeFirstSent
	total, err := addTicks(m.stats.TotalDeliveryTime, latency)
	if err != nil {
		return err
	}
	m.stats.TotalDeliveryTime = total
	m.stats.DeliveredPackets += 1
	if pckt.Malicious {
		m.stats.DeliveredPacketsMalicious += 1
	} else {
		m.stats.TotalAttempts += uint64(pckt.AttemptNumber)
	}
	m.latencies = append(m.latencies, float64(latency))

	m.metrics.delivered(pckt.Malicious, latency)
	m.addTrace(pckt, cmptr.id, "receive")
	m.logger.Debug("computer received packet", "computer", cmptr.id, "packet", pckt.ID,
		"source", pckt.Source, "malicious", pckt.Malicious, "attempt", pckt.AttemptNumber, "time", m.time)
	return nil
}

// getLink returns the index in m.links of the link, among those listed in links,
// that leads from the device with routing index rtIdx to the next hop on the
// path of pckt
func (m *Model) getLink(links []int, rtIdx int, pckt *Packet) (int, error) {
	nxtIdx, err := m.routing.NextHop(rtIdx, pckt.Destination)
	if err != nil {
		return -1, err
	}
	nxtID := m.routing.DeviceID(nxtIdx)

	for _, lnkIdx := range links {
		if m.links[lnkIdx].dstID == nxtID {
			return lnkIdx, nil
		}
	}
	return -1, fmt.Errorf("device %d has no link to next hop %d", m.routing.DeviceID(rtIdx), nxtID)
}

// dropStale accounts for a queued copy of pckt found to be stale
func (m *Model) dropStale(pckt *Packet, objID int, where string) {
	m.logger.Debug("packet timed out", "packet", pckt.ID, "at", where, "object", objID, "time", m.time)
	m.metrics.dropped(dropStale)
	m.addTrace(pckt, objID, "stale")
}

// addTrace records the passage of pckt at object objID, if tracing is on
func (m *Model) addTrace(pckt *Packet, objID int, op string) {
	if m.trace == nil || !m.trace.Active() {
		return
	}
	AddPacketTrace(m.trace, m.time, pckt, objID, op)
}

// queuePacket puts a newly generated packet on the outbound queue of its source
// computer and schedules a send by that computer at time when.  The send is not
// necessarily of this packet, as the outbound queue is served in FIFO order
func (m *Model) queuePacket(cmptrIdx int, pckt *Packet, when uint64) {
	cmptr := m.computers[cmptrIdx]
	cmptr.outQ.push(pckt, 0)
	m.sched.schedule(when, ProcRef{Kind: ComputerProc, Idx: cmptrIdx}, SendPacket)
}
