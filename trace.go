package routesim

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"gopkg.in/yaml.v3"
)

// TraceInst is one stored trace record
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers information about a simulation model and an execution of that model.
// A nil *TraceManager behaves as one that is not in use
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, by packet id
	Traces map[uint64][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)     // dictionary of id code -> (name,type)
	tm.Traces = make(map[uint64][]TraceInst) // trace records of each packet
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a trace record under the id of the packet it describes
func (tm *TraceManager) AddTrace(pcktID uint64, trace TraceInst) {
	// return if we aren't using the trace manager
	if !tm.Active() {
		return
	}
	tm.Traces[pcktID] = append(tm.Traces[pcktID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file.
// Models built by successive runs give an object the same id, so a repeated
// entry replaces the earlier one
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.Active() {
		return
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// WriteToFile stores the TraceManager struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name,
// once a trailing .sz is set aside.  With .sz the serialization is snappy compressed.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}

	base, compressed := strings.CutSuffix(filename, ".sz")

	var bytes []byte
	var merr error
	switch path.Ext(base) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(*tm)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	default:
		return fmt.Errorf("unrecognized extension on %s, expected yaml or json", filename)
	}
	if merr != nil {
		return merr
	}

	if compressed {
		bytes = snappy.Encode(nil, bytes)
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// ReadTraceManager reads a trace file written by WriteToFile
func ReadTraceManager(filename string) (*TraceManager, error) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	base, compressed := strings.CutSuffix(filename, ".sz")
	if compressed {
		bytes, err = snappy.Decode(nil, bytes)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", filename, err)
		}
	}

	tm := CreateTraceManager("", false)
	if UseYAML(base) {
		err = yaml.Unmarshal(bytes, tm)
	} else {
		err = json.Unmarshal(bytes, tm)
	}
	if err != nil {
		return nil, err
	}
	return tm, nil
}

// PacketTrace saves information about the visitation of a packet to some point in the simulation,
// for post-run analysis
type PacketTrace struct {
	Time        uint64 `yaml:"time"`
	PacketID    uint64 `yaml:"packetid"`
	Source      int    `yaml:"source"`
	Destination int    `yaml:"destination"`
	ObjID       int    `yaml:"objid"`   // integer id for object being referenced
	Op          string `yaml:"op"`      // "send", "exit", "receive", "stale", "discard", "abandon"
	Attempt     uint32 `yaml:"attempt"` // attempt the packet is on
	Malicious   bool   `yaml:"malicious"`
}

// Serialize renders the record as yaml
func (ptr *PacketTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ptr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddPacketTrace creates a record of the trace using its calling arguments, and stores it
func AddPacketTrace(tm *TraceManager, time uint64, pckt *Packet, objID int, op string) {
	ptr := new(PacketTrace)
	ptr.Time = time
	ptr.PacketID = pckt.ID
	ptr.Source = pckt.Source
	ptr.Destination = pckt.Destination
	ptr.ObjID = objID
	ptr.Op = op
	ptr.Attempt = pckt.AttemptNumber
	ptr.Malicious = pckt.Malicious

	trcInst := TraceInst{TraceTime: strconv.FormatUint(time, 10), TraceType: "packet", TraceStr: ptr.Serialize()}
	tm.AddTrace(pckt.ID, trcInst)
}
