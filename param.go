package routesim

// param.go holds the parameters of a simulation run

import (
	"fmt"
)

// Distribution selects how the send times of generated packets are drawn
type Distribution string

const (
	// Uniform draws send times uniformly over [0, SendUntil]
	Uniform Distribution = "uniform"

	// DiscreteGaussian draws send times from a normal distribution with mean
	// SendUntil/2 and standard deviation SendUntil/4, resampled until the
	// draw lies in [0, SendUntil] and truncated to a whole tick
	DiscreteGaussian Distribution = "gaussian"
)

// SimParams holds the parameters of one run
type SimParams struct {
	// number of packets generated
	TotalPackets uint64 `json:"totalpackets" yaml:"totalpackets"`

	// last tick at which a packet may be first sent
	SendUntil uint64 `json:"senduntil" yaml:"senduntil"`

	// ticks an attempt may take before the sender gives up on it
	Timeout uint64 `json:"timeout" yaml:"timeout"`

	// attempts made to deliver a packet, at least one
	MaxAttempts uint32 `json:"maxattempts" yaml:"maxattempts" validate:"min=1"`

	// probability that a packet sent by a malicious computer is malicious
	MaliciousProbability float64 `json:"maliciousprobability" yaml:"maliciousprobability" validate:"gte=0,lte=1"`

	Distribution Distribution `json:"distribution" yaml:"distribution" validate:"required,oneof=uniform gaussian"`

	RandomSeed int64 `json:"randomseed" yaml:"randomseed"`
}

// DefaultSimParams returns the parameters a fresh configuration starts from
func DefaultSimParams() SimParams {
	return SimParams{
		TotalPackets:         100,
		SendUntil:            1000,
		Timeout:              100,
		MaxAttempts:          3,
		MaliciousProbability: 0.5,
		Distribution:         Uniform,
		RandomSeed:           0,
	}
}

// Validate checks the ranges of the parameters
func (sp *SimParams) Validate() error {
	if err := validate.Struct(sp); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, formatValidationError(err))
	}
	return nil
}

// WriteToFile stores the SimParams struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sp *SimParams) WriteToFile(filename string) error {
	return writeDesc(filename, sp)
}

// ReadSimParams deserializes a representation of a SimParams struct, taken
// from dict or, when dict is empty, from the named file.  Fields missing
// from the representation keep their DefaultSimParams values
func ReadSimParams(filename string, useYAML bool, dict []byte) (*SimParams, error) {
	sp := DefaultSimParams()
	if err := readDesc(filename, useYAML, dict, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}
