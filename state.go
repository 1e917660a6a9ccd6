/*
Copyright © 2026 the dwsm authors.
This file is part of dwsm.

dwsm is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

dwsm is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with dwsm.  If not, see <http://www.gnu.org/licenses/>.
*/

package dwsm

// TOLERANCE is the small positive constant below which depths and SWE are
// clamped to zero to absorb round-off, rather than treated as an error.
const TOLERANCE = 1e-9

// CellState is the mutable dynamic state of one overland cell: depths,
// interception/infiltration bookkeeping, and the sediment stack. CellState
// is owned exclusively by RunState and mutated only by the per-step
// pipeline in run.go.
type CellState struct {
	Row, Col int

	H                  float64 // overland water depth (m)
	SWE                float64 // snow water equivalent (m)
	InterceptRemaining float64
	SnowRemaining      float64
	InfiltrationF      float64 // cumulative Green-Ampt infiltration depth (m)

	// InfiltrationRate, NetRainRate, SnowmeltRate are staged in phases 2-3
	// of the step pipeline and consumed by the overland depth update in
	// phase 4; they are reset every step and never read across steps.
	InfiltrationRate float64
	NetRainRate      float64
	SnowmeltRate     float64

	Sediment *SedimentStack

	// DqIn/DqOut hold the per-direction overland flows (m^3/s): the axial
	// directions N/E/S/W, staged during the overland depth-update phase,
	// and DirFloodplain, staged by the floodplain exchange phase. The
	// solids advective-flux assembly reads them in the same step; the
	// overland depth-update phase resets them at the start of each step.
	DqIn, DqOut SourceVector
}

// NodeState is the mutable dynamic state of one channel node: depth,
// transmission-loss bookkeeping, and the sediment stack.
type NodeState struct {
	Link, Index int

	H             float64 // channel water depth (m)
	InfiltrationF float64 // cumulative transmission-loss infiltration depth (m)

	// TransmissionLossRate, FloodplainTransfer are staged in phases 2 and
	// 6 respectively and consumed by the channel depth update in phase 5:
	// the transmission-loss rate in the same step (it is computed ahead of
	// the depth update), the floodplain transfer in the following step
	// (phase 6 runs after phase 5). Both are recomputed every step.
	TransmissionLossRate float64
	FloodplainTransfer   float64

	Sediment *SedimentStack

	// DqIn/DqOut hold the per-direction channel flows (m^3/s), staged
	// during the channel depth-update phase and consumed by the solids
	// advective-flux assembly in the same step.
	DqIn, DqOut SourceVector
}

// RunState is the single owned container for all per-cell and per-node
// dynamic state, mutated only by the step pipeline. The grid, topology,
// solids classes and outlet set referenced here are immutable for the
// duration of the run (data model, "Ownership and lifecycle").
type RunState struct {
	Grid     *Grid
	Topology *Topology
	Classes  []*SolidsClass
	Outlets  []*Outlet

	Cells [][]*CellState       // [row][col], nil where mask == NoData
	Nodes map[int][]*NodeState // keyed by link id, indexed by Node.Index

	Ledger *Ledger

	SimTime float64
	Step    int
	Dt      float64
}

// NewRunState allocates dynamic state for every in-domain cell and every
// channel node, sized from g and topo. Arrays are never resized for the
// duration of a run.
func NewRunState(g *Grid, topo *Topology, classes []*SolidsClass, outlets []*Outlet, dt float64) *RunState {
	rs := &RunState{
		Grid:     g,
		Topology: topo,
		Classes:  classes,
		Outlets:  outlets,
		Cells:    make([][]*CellState, g.NRows),
		Nodes:    make(map[int][]*NodeState, len(topo.Links)),
		Ledger:   NewLedger(len(classes), outlets),
		Dt:       dt,
	}

	numClasses := len(classes)
	for r := 0; r < g.NRows; r++ {
		rs.Cells[r] = make([]*CellState, g.NCols)
		for c := 0; c < g.NCols; c++ {
			if g.MaskAt(r, c) == NoData {
				continue
			}
			w2 := g.CellSize * g.CellSize
			rs.Cells[r][c] = &CellState{
				Row: r, Col: c,
				Sediment: NewSedimentStack(numClasses, w2, w2, 0.4),
			}
			rs.Ledger.CellLedgerFor(r, c)
		}
	}

	for _, l := range topo.Links {
		states := make([]*NodeState, len(l.Nodes))
		for i, n := range l.Nodes {
			area := n.TopWidth * n.ChannelLength
			if area <= 0 {
				area = g.CellSize * g.CellSize * 0.1
			}
			states[i] = &NodeState{
				Link: l.ID, Index: n.Index,
				Sediment: NewSedimentStack(numClasses, area, area, 0.4),
			}
			rs.Ledger.NodeLedgerFor(n)
		}
		rs.Nodes[l.ID] = states
	}

	return rs
}

// Cell returns the dynamic state at (row, col), or nil if out of domain.
func (rs *RunState) Cell(row, col int) *CellState {
	if !rs.Grid.InBounds(row, col) {
		return nil
	}
	return rs.Cells[row][col]
}

// Node returns the dynamic state of node n.Index on link n.Link.
func (rs *RunState) Node(n *Node) *NodeState {
	states := rs.Nodes[n.Link]
	if n.Index < 0 || n.Index >= len(states) {
		return nil
	}
	return states[n.Index]
}

// clampDepth applies the round-off absorption policy: values within
// TOLERANCE of zero are clamped to zero; values more negative than that
// are reported as an instability error by the caller.
func clampDepth(h float64) (clamped float64, ok bool) {
	if h >= 0 {
		if h < TOLERANCE {
			return 0, true
		}
		return h, true
	}
	if -h < TOLERANCE {
		return 0, true
	}
	return h, false
}
