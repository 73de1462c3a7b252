package routesim

// desc-topo.go holds the serializable description of a network topology,
// the functions that read and write it, helpers for building one in code,
// and the checks a topology has to pass before it can be simulated

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path"

	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// DeviceKind is either "router" or "computer"
type DeviceKind string

const (
	RouterKind   DeviceKind = "router"
	ComputerKind DeviceKind = "computer"
)

// MaxDeviceTime bounds processing and transfer times.  With at most
// MaxInt32 devices on a path, no path weight can come near the uint64 range
const MaxDeviceTime = math.MaxInt32

// LinkDesc describes one direction of a connection, from the device that
// lists it to Neighbor.  A connected pair lists a LinkDesc on both sides
type LinkDesc struct {
	Neighbor     int    `json:"neighbor" yaml:"neighbor"`
	TransferTime uint64 `json:"transfertime" yaml:"transfertime" validate:"lte=2147483647"`
}

// FirewallDesc describes the firewall shielding a router
type FirewallDesc struct {
	ProcessingTime uint64 `json:"processingtime" yaml:"processingtime" validate:"lte=2147483647"`
}

// DeviceDesc is the serializable description of a router or computer
type DeviceDesc struct {
	// identity of the device, unique within the topology
	ID int `json:"id" yaml:"id"`

	// optional name used in traces and path listings
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Kind DeviceKind `json:"kind" yaml:"kind" validate:"required,oneof=router computer"`

	// ticks a router needs to process one packet
	ProcessingTime uint64 `json:"processingtime,omitempty" yaml:"processingtime,omitempty" validate:"lte=2147483647"`

	// routers only
	Firewall *FirewallDesc `json:"firewall,omitempty" yaml:"firewall,omitempty"`

	// computers only, marks an origin of malicious traffic
	Malicious bool `json:"malicious,omitempty" yaml:"malicious,omitempty"`

	Links []LinkDesc `json:"links,omitempty" yaml:"links,omitempty" validate:"dive"`
}

// DevName returns the name of the device, or a default built from its kind and id
func (dd *DeviceDesc) DevName() string {
	if len(dd.Name) > 0 {
		return dd.Name
	}
	return fmt.Sprintf("%s-%d", dd.Kind, dd.ID)
}

// linkTo returns the position in dd.Links of the link to neighbor, or -1
func (dd *DeviceDesc) linkTo(neighbor int) int {
	return slices.IndexFunc(dd.Links, func(ld LinkDesc) bool { return ld.Neighbor == neighbor })
}

// TopoCfg is the description of a whole network.  Devices are listed in
// declaration order, which is also the order routing indices are assigned in
type TopoCfg struct {
	Name    string       `json:"name" yaml:"name"`
	Devices []DeviceDesc `json:"devices" yaml:"devices" validate:"dive"`
}

// CreateTopoCfg is a constructor
func CreateTopoCfg(name string) *TopoCfg {
	tc := new(TopoCfg)
	tc.Name = name
	tc.Devices = make([]DeviceDesc, 0)
	return tc
}

// Device returns the description of the device with the given id
func (tc *TopoCfg) Device(id int) (*DeviceDesc, bool) {
	idx := slices.IndexFunc(tc.Devices, func(dd DeviceDesc) bool { return dd.ID == id })
	if idx < 0 {
		return nil, false
	}
	return &tc.Devices[idx], true
}

// AddRouter appends a router to the topology
func (tc *TopoCfg) AddRouter(id int, name string, processingTime uint64) *DeviceDesc {
	tc.Devices = append(tc.Devices, DeviceDesc{ID: id, Name: name, Kind: RouterKind, ProcessingTime: processingTime})
	return &tc.Devices[len(tc.Devices)-1]
}

// AddComputer appends a computer to the topology
func (tc *TopoCfg) AddComputer(id int, name string, malicious bool) *DeviceDesc {
	tc.Devices = append(tc.Devices, DeviceDesc{ID: id, Name: name, Kind: ComputerKind, Malicious: malicious})
	return &tc.Devices[len(tc.Devices)-1]
}

// SetFirewall attaches a firewall to the router with the given id, or
// removes it when processingTime is negative
func (tc *TopoCfg) SetFirewall(routerID int, processingTime int64) error {
	dev, present := tc.Device(routerID)
	if !present {
		return fmt.Errorf("%w: no device %d", ErrInvalidConfig, routerID)
	}
	if dev.Kind != RouterKind {
		return fmt.Errorf("%w: device %d is not a router", ErrInvalidConfig, routerID)
	}
	if processingTime < 0 {
		dev.Firewall = nil
		return nil
	}
	dev.Firewall = &FirewallDesc{ProcessingTime: uint64(processingTime)}
	return nil
}

// Connect records a connection between devices a and b, with transfer time
// abTime in the a->b direction and baTime in the b->a direction.  An existing
// connection between the two has its transfer times changed
func (tc *TopoCfg) Connect(a, b int, abTime, baTime uint64) error {
	if a == b {
		return fmt.Errorf("%w: device %d cannot connect to itself", ErrInvalidConfig, a)
	}
	devA, presentA := tc.Device(a)
	devB, presentB := tc.Device(b)
	if !presentA || !presentB {
		return fmt.Errorf("%w: connection %d-%d names an unknown device", ErrInvalidConfig, a, b)
	}

	if idx := devA.linkTo(b); idx >= 0 {
		devA.Links[idx].TransferTime = abTime
	} else {
		devA.Links = append(devA.Links, LinkDesc{Neighbor: b, TransferTime: abTime})
	}

	if idx := devB.linkTo(a); idx >= 0 {
		devB.Links[idx].TransferTime = baTime
	} else {
		devB.Links = append(devB.Links, LinkDesc{Neighbor: a, TransferTime: baTime})
	}
	return nil
}

// Disconnect removes the connection between a and b, in both directions
func (tc *TopoCfg) Disconnect(a, b int) {
	if devA, present := tc.Device(a); present {
		if idx := devA.linkTo(b); idx >= 0 {
			devA.Links = slices.Delete(devA.Links, idx, idx+1)
		}
	}
	if devB, present := tc.Device(b); present {
		if idx := devB.linkTo(a); idx >= 0 {
			devB.Links = slices.Delete(devB.Links, idx, idx+1)
		}
	}
}

// NumComputers counts the computers of the topology
func (tc *TopoCfg) NumComputers() int {
	cnt := 0
	for _, dev := range tc.Devices {
		if dev.Kind == ComputerKind {
			cnt += 1
		}
	}
	return cnt
}

var validate *validator.Validate = validator.New()

// Validate checks the topology for everything the simulator relies on:
// field ranges, unique ids, links that name known devices, no self links,
// links declared on both sides, and firewalls on routers only
func (tc *TopoCfg) Validate() error {
	if err := validate.Struct(tc); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, formatValidationError(err))
	}

	errs := []error{}
	seen := make(map[int]bool)
	for _, dev := range tc.Devices {
		if seen[dev.ID] {
			errs = append(errs, fmt.Errorf("device id %d used more than once", dev.ID))
		}
		seen[dev.ID] = true
	}

	for _, dev := range tc.Devices {
		if dev.Firewall != nil && dev.Kind != RouterKind {
			errs = append(errs, fmt.Errorf("%s has a firewall but is not a router", dev.DevName()))
		}
		nbrs := make(map[int]bool)
		for _, link := range dev.Links {
			if link.Neighbor == dev.ID {
				errs = append(errs, fmt.Errorf("%s links to itself", dev.DevName()))
				continue
			}
			if nbrs[link.Neighbor] {
				errs = append(errs, fmt.Errorf("%s lists neighbor %d more than once", dev.DevName(), link.Neighbor))
			}
			nbrs[link.Neighbor] = true

			peer, present := tc.Device(link.Neighbor)
			if !present {
				errs = append(errs, fmt.Errorf("%s links to unknown device %d", dev.DevName(), link.Neighbor))
				continue
			}
			if peer.linkTo(dev.ID) < 0 {
				errs = append(errs, fmt.Errorf("link %s -> %s has no reverse direction", dev.DevName(), peer.DevName()))
			}
		}
	}

	if err := ReportErrs(errs); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// formatValidationError flattens validator errors into one readable line
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := []string{}
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Sprint(msgs)
}

// ReportErrs joins a list of errors into one, ignoring nil entries.
// It returns nil if no non-nil error is present
func ReportErrs(errs []error) error {
	return errors.Join(errs...)
}

// WriteToFile stores the TopoCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tc *TopoCfg) WriteToFile(filename string) error {
	return writeDesc(filename, tc)
}

// ReadTopoCfg deserializes a byte slice holding a representation of a TopoCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadTopoCfg(filename string, useYAML bool, dict []byte) (*TopoCfg, error) {
	tc := TopoCfg{}
	if err := readDesc(filename, useYAML, dict, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

// UseYAML reports whether the extension of filename selects yaml rather than json
func UseYAML(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".YAML" || ext == ".yml"
}

// writeDesc serializes desc to yaml or json, depending on the extension of filename,
// and writes the result to that file
func writeDesc(filename string, desc any) error {
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(desc)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	default:
		return fmt.Errorf("unrecognized extension on %s, expected yaml or json", filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// readDesc fills desc from dict, or from the named file when dict is empty
func readDesc(filename string, useYAML bool, dict []byte, desc any) error {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, desc)
	} else {
		err = json.Unmarshal(dict, desc)
	}
	return err
}
