package routesim

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairYAML = `
name: pair
devices:
  - id: 1
    name: r1
    kind: router
    processingtime: 1
    firewall:
      processingtime: 2
    links:
      - neighbor: 2
        transfertime: 5
      - neighbor: 3
        transfertime: 3
  - id: 2
    kind: computer
    malicious: true
    links:
      - neighbor: 1
        transfertime: 5
  - id: 3
    kind: computer
    links:
      - neighbor: 1
        transfertime: 3
`

func TestReadTopoCfgYAML(t *testing.T) {
	tc, err := ReadTopoCfg("", true, []byte(pairYAML))
	require.NoError(t, err)
	require.NoError(t, tc.Validate())

	assert.Equal(t, "pair", tc.Name)
	require.Len(t, tc.Devices, 3)
	assert.Equal(t, RouterKind, tc.Devices[0].Kind)
	require.NotNil(t, tc.Devices[0].Firewall)
	assert.Equal(t, uint64(2), tc.Devices[0].Firewall.ProcessingTime)
	assert.True(t, tc.Devices[1].Malicious)
	assert.Equal(t, "computer-3", tc.Devices[2].DevName())
	assert.Equal(t, 2, tc.NumComputers())
}

func TestTopoCfgFileRoundTrip(t *testing.T) {
	tc, err := ReadTopoCfg("", true, []byte(pairYAML))
	require.NoError(t, err)

	for _, name := range []string{"topo.yaml", "topo.json"} {
		filename := filepath.Join(t.TempDir(), name)
		require.NoError(t, tc.WriteToFile(filename))
		back, err := ReadTopoCfg(filename, UseYAML(filename), nil)
		require.NoError(t, err)
		assert.Equal(t, tc, back)
	}

	assert.Error(t, tc.WriteToFile(filepath.Join(t.TempDir(), "topo.txt")))
}

func TestTopoBuilders(t *testing.T) {
	tc := pairTopo(t)

	// reconnecting changes the transfer times
	require.NoError(t, tc.Connect(1, 2, 7, 8))
	r1, _ := tc.Device(1)
	c2, _ := tc.Device(2)
	assert.Equal(t, uint64(7), r1.Links[r1.linkTo(2)].TransferTime)
	assert.Equal(t, uint64(8), c2.Links[c2.linkTo(1)].TransferTime)
	assert.Len(t, r1.Links, 2)

	tc.Disconnect(1, 2)
	assert.Equal(t, -1, r1.linkTo(2))
	assert.Equal(t, -1, c2.linkTo(1))
	require.NoError(t, tc.Validate())

	assert.ErrorIs(t, tc.Connect(1, 1, 1, 1), ErrInvalidConfig)
	assert.ErrorIs(t, tc.Connect(1, 99, 1, 1), ErrInvalidConfig)

	require.NoError(t, tc.SetFirewall(1, 3))
	require.NotNil(t, r1.Firewall)
	require.NoError(t, tc.SetFirewall(1, -1))
	assert.Nil(t, r1.Firewall)
	assert.ErrorIs(t, tc.SetFirewall(2, 3), ErrInvalidConfig)
}

func TestTopoValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(tc *TopoCfg)
	}{
		{"duplicate id", func(tc *TopoCfg) { tc.AddComputer(2, "again", false) }},
		{"unknown kind", func(tc *TopoCfg) { tc.Devices[1].Kind = "switch" }},
		{"firewall on computer", func(tc *TopoCfg) { tc.Devices[1].Firewall = &FirewallDesc{ProcessingTime: 1} }},
		{"self link", func(tc *TopoCfg) {
			tc.Devices[1].Links = append(tc.Devices[1].Links, LinkDesc{Neighbor: 2, TransferTime: 1})
		}},
		{"unknown neighbor", func(tc *TopoCfg) {
			tc.Devices[1].Links = append(tc.Devices[1].Links, LinkDesc{Neighbor: 42, TransferTime: 1})
		}},
		{"one sided link", func(tc *TopoCfg) {
			tc.Devices[1].Links = append(tc.Devices[1].Links, LinkDesc{Neighbor: 3, TransferTime: 1})
		}},
		{"duplicate neighbor", func(tc *TopoCfg) {
			tc.Devices[1].Links = append(tc.Devices[1].Links, LinkDesc{Neighbor: 1, TransferTime: 1})
		}},
		{"transfer time too large", func(tc *TopoCfg) { tc.Devices[1].Links[0].TransferTime = MaxDeviceTime + 1 }},
		{"processing time too large", func(tc *TopoCfg) { tc.Devices[0].ProcessingTime = MaxDeviceTime + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := pairTopo(t)
			tt.modify(tc)
			err := tc.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSimParams(t *testing.T) {
	params, err := ReadSimParams("", true, []byte("totalpackets: 7\ndistribution: gaussian\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), params.TotalPackets)
	assert.Equal(t, DiscreteGaussian, params.Distribution)

	// fields left out keep their defaults
	assert.Equal(t, DefaultSimParams().Timeout, params.Timeout)
	require.NoError(t, params.Validate())

	bad := DefaultSimParams()
	bad.MaxAttempts = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultSimParams()
	bad.MaliciousProbability = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultSimParams()
	bad.Distribution = "poisson"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	filename := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, params.WriteToFile(filename))
	back, err := ReadSimParams(filename, false, nil)
	require.NoError(t, err)
	assert.Equal(t, params, back)
}
