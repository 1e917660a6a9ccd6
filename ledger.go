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

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SourceTotals holds the per-source-index (DirPoint..DirBoundary)
// accumulators for one quantity, e.g. dq_ov_in_vol for a single cell.
type SourceTotals [NumSources]float64

// Sum returns the sum over all source indices.
func (s *SourceTotals) Sum() float64 {
	return floats.Sum(s[:])
}

// CellLedger accumulates the mass-balance totals of component design 4.6
// for a single overland cell.
type CellLedger struct {
	InterceptionVol     float64
	InfiltrationVol     float64
	GrossRainVol        float64
	NetRainVol          float64
	GrossSnowVol        float64

	DqOverlandInVol  SourceTotals
	DqOverlandOutVol SourceTotals

	// Per-class sediment mass accumulators, indexed by solids-class index.
	AdvSedInMass  []SourceTotals
	AdvSedOutMass []SourceTotals
	DspSedInMass  []SourceTotals
	DspSedOutMass []SourceTotals
	ErsSedInMass  []SourceTotals
	ErsSedOutMass []SourceTotals
	DepSedOutMass []float64

	MinRainIntensity float64
	MaxRainIntensity float64
	MinDepth         float64
	MaxDepth         float64
}

// NodeLedger mirrors CellLedger for channel nodes, adding transmission
// loss and channel in/out flow accumulators.
type NodeLedger struct {
	TransmissionLossVol float64

	DqChannelInVol  SourceTotals
	DqChannelOutVol SourceTotals

	AdvSedInMass  []SourceTotals
	AdvSedOutMass []SourceTotals
	DspSedInMass  []SourceTotals
	DspSedOutMass []SourceTotals
	ErsSedInMass  []SourceTotals
	ErsSedOutMass []SourceTotals
	DepSedOutMass []float64

	MinDepth float64
	MaxDepth float64
}

// OutletLedger accumulates cumulative boundary mass in/out for one outlet,
// per solids class, plus cumulative outflow volume.
type OutletLedger struct {
	OutflowVol     float64
	BoundaryMassIn  []float64
	BoundaryMassOut []float64
}

// Ledger is the mass-balance accumulator set for the whole run: per-cell,
// per-node, and per-outlet totals, keyed the same way as RunState.Cells and
// RunState.Nodes. The ledger never raises: arithmetic guards in solids.go
// and hydraulics.go prevent NaN/Inf from entering it. Mass-balance error is
// a diagnostic computed at end-of-run, not a fatal condition (§7).
type Ledger struct {
	Cells map[[2]int]*CellLedger
	Nodes map[int][]*NodeLedger
	Outlets []*OutletLedger

	numClasses int
}

// NewLedger allocates an empty ledger for the given number of solids
// classes and outlet set. Per-cell/per-node entries are created by
// CellLedgerFor/NodeLedgerFor on first use; NewRunState creates one for
// every in-domain cell and channel node before the first step, so the
// parallel step phases only look entries up.
func NewLedger(numClasses int, outlets []*Outlet) *Ledger {
	l := &Ledger{
		Cells:      make(map[[2]int]*CellLedger),
		Nodes:      make(map[int][]*NodeLedger),
		numClasses: numClasses,
	}
	for range outlets {
		l.Outlets = append(l.Outlets, &OutletLedger{
			BoundaryMassIn:  make([]float64, numClasses),
			BoundaryMassOut: make([]float64, numClasses),
		})
	}
	return l
}

func newCellLedger(numClasses int) *CellLedger {
	cl := &CellLedger{
		AdvSedInMass:  make([]SourceTotals, numClasses),
		AdvSedOutMass: make([]SourceTotals, numClasses),
		DspSedInMass:  make([]SourceTotals, numClasses),
		DspSedOutMass: make([]SourceTotals, numClasses),
		ErsSedInMass:  make([]SourceTotals, numClasses),
		ErsSedOutMass: make([]SourceTotals, numClasses),
		DepSedOutMass: make([]float64, numClasses),
	}
	return cl
}

func newNodeLedger(numClasses int) *NodeLedger {
	return &NodeLedger{
		AdvSedInMass:  make([]SourceTotals, numClasses),
		AdvSedOutMass: make([]SourceTotals, numClasses),
		DspSedInMass:  make([]SourceTotals, numClasses),
		DspSedOutMass: make([]SourceTotals, numClasses),
		ErsSedInMass:  make([]SourceTotals, numClasses),
		ErsSedOutMass: make([]SourceTotals, numClasses),
		DepSedOutMass: make([]float64, numClasses),
	}
}

// CellLedgerFor returns (creating if necessary) the ledger entry for
// (row, col).
func (l *Ledger) CellLedgerFor(row, col int) *CellLedger {
	key := [2]int{row, col}
	cl, ok := l.Cells[key]
	if !ok {
		cl = newCellLedger(l.numClasses)
		l.Cells[key] = cl
	}
	return cl
}

// NodeLedgerFor returns (creating if necessary) the ledger entry for node n.
func (l *Ledger) NodeLedgerFor(n *Node) *NodeLedger {
	states, ok := l.Nodes[n.Link]
	if !ok || len(states) <= n.Index {
		if !ok {
			states = make([]*NodeLedger, n.Index+1)
		} else {
			grown := make([]*NodeLedger, n.Index+1)
			copy(grown, states)
			states = grown
		}
		l.Nodes[n.Link] = states
	}
	if states[n.Index] == nil {
		states[n.Index] = newNodeLedger(l.numClasses)
	}
	return states[n.Index]
}

// ClosedBasinMassError computes the diagnostic closed-basin relative mass
// error for one solids class, per testable property 4:
//
//	|initial + inflow - outflow - final| / inflow
//
// A conservative configuration (no erosion/deposition) should keep this
// below 1e-3. Callers supply the initial and final total mass for the
// class; the ledger supplies cumulative inflow/outflow across all
// cells, nodes and outlets.
func (l *Ledger) ClosedBasinMassError(class int, initialMass, finalMass float64) float64 {
	var inflow, outflow float64
	for _, cl := range l.Cells {
		inflow += cl.AdvSedInMass[class].Sum() + cl.DspSedInMass[class].Sum() + cl.ErsSedInMass[class].Sum()
		outflow += cl.AdvSedOutMass[class].Sum() + cl.DspSedOutMass[class].Sum() + cl.ErsSedOutMass[class].Sum() + cl.DepSedOutMass[class]
	}
	for _, states := range l.Nodes {
		for _, nl := range states {
			if nl == nil {
				continue
			}
			inflow += nl.AdvSedInMass[class].Sum() + nl.DspSedInMass[class].Sum() + nl.ErsSedInMass[class].Sum()
			outflow += nl.AdvSedOutMass[class].Sum() + nl.DspSedOutMass[class].Sum() + nl.ErsSedOutMass[class].Sum() + nl.DepSedOutMass[class]
		}
	}
	for _, ol := range l.Outlets {
		outflow += ol.BoundaryMassOut[class]
		inflow += ol.BoundaryMassIn[class]
	}
	if inflow == 0 {
		return 0
	}
	return math.Abs(initialMass+inflow-outflow-finalMass) / inflow
}
