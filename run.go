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
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DomainManipulator mutates the whole run-state for one phase of the step
// pipeline (§5).
type DomainManipulator func(rs *RunState) error

// CellManipulator mutates one overland cell's state. Every manipulator
// passed to Calculations must read only the previous step's committed
// state plus whatever an earlier manipulator in the same call staged,
// never state written by a different phase this step (§5's
// read-old/write-new discipline).
type CellManipulator func(rs *RunState, c *CellState) error

// NodeManipulator mutates one channel node's state, mirroring CellManipulator.
type NodeManipulator func(rs *RunState, n *Node, ns *NodeState) error

// Calculations composes one or more CellManipulators into a
// DomainManipulator that strides over every in-domain cell, split across
// GOMAXPROCS workers. Cells are disjoint units of mutation so no locking
// is required beyond the read-old/write-new discipline the caller's
// manipulators observe; this mirrors the teacher's own Calculations
// helper, minus the per-cell mutex it needed for its rtree-linked
// variable-resolution grid.
func Calculations(calculators ...CellManipulator) DomainManipulator {
	return func(rs *RunState) error {
		cells := make([]*CellState, 0, rs.Grid.NRows*rs.Grid.NCols)
		for r := range rs.Cells {
			for _, c := range rs.Cells[r] {
				if c != nil {
					cells = append(cells, c)
				}
			}
		}
		return parallelDo(len(cells), func(i int) error {
			c := cells[i]
			for _, f := range calculators {
				if err := f(rs, c); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// NodeCalculations mirrors Calculations for channel nodes.
func NodeCalculations(calculators ...NodeManipulator) DomainManipulator {
	return func(rs *RunState) error {
		type pair struct {
			n  *Node
			ns *NodeState
		}
		var all []pair
		for _, l := range rs.Topology.Links {
			for _, n := range l.Nodes {
				all = append(all, pair{n, rs.Node(n)})
			}
		}
		return parallelDo(len(all), func(i int) error {
			p := all[i]
			for _, f := range calculators {
				if err := f(rs, p.n, p.ns); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// Sequential runs a DomainManipulator exactly as given. Per design notes
// §9, parallelism is an optional optimization, never a correctness
// requirement: every DomainManipulator built by Calculations or
// NodeCalculations must produce the same result whether or not its
// workers actually run concurrently. Sequential is the identity: it
// returns d unchanged and does not change how Calculations or
// NodeCalculations split their work across GOMAXPROCS workers.
func Sequential(d DomainManipulator) DomainManipulator { return d }

// parallelDo runs f(0..n-1) across runtime.GOMAXPROCS(0) workers and
// returns the first error encountered, if any.
func parallelDo(n int, f func(i int) error) error {
	if n == 0 {
		return nil
	}
	nprocs := runtime.GOMAXPROCS(0)
	if nprocs > n {
		nprocs = n
	}
	if nprocs < 1 {
		nprocs = 1
	}
	var wg sync.WaitGroup
	errs := make([]error, nprocs)
	wg.Add(nprocs)
	for p := 0; p < nprocs; p++ {
		go func(p int) {
			defer wg.Done()
			for i := p; i < n; i += nprocs {
				if err := f(i); err != nil {
					errs[p] = err
					return
				}
			}
		}(p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Log returns a DomainManipulator that writes one progress line per step,
// mirroring the teacher's own Log(w io.Writer) DomainManipulator in run.go.
func Log(w io.Writer) DomainManipulator {
	start := time.Now()
	return func(rs *RunState) error {
		_, err := fmt.Fprintf(w, "step %6d  t=%12.2fs  elapsed=%v\n", rs.Step, rs.SimTime, time.Since(start))
		return err
	}
}

// Forcings bundles the time-series and point-source inputs advanced once
// per step (4.5). CellSources and NodeSources are keyed the same way as
// RunState.Cells/RunState.Nodes.
type Forcings struct {
	RainGage *TimeSeries // gross rainfall rate (m/s), domain-wide gage
	SnowGage *TimeSeries // gross snowfall rate (m/s, liquid equivalent)
	SnowOpt  SnowOption

	CellSources map[[2]int]*PointSource
	NodeSources map[int]map[int]*PointSource // link -> node index -> source

	DefaultManningN float64

	currentRain, currentSnow float64
}

// Advance implements step-pipeline phase 1: it advances every forcing
// interpolator's position pointer to bracket the current simulation time.
func (f *Forcings) Advance(simtime float64) {
	if f.RainGage != nil {
		f.currentRain = f.RainGage.Value(simtime)
	}
	if f.SnowGage != nil {
		f.currentSnow = f.SnowGage.Value(simtime)
	}
}

func (f *Forcings) cellSource(row, col int) *PointSource {
	if f.CellSources == nil {
		return nil
	}
	return f.CellSources[[2]int{row, col}]
}

func (f *Forcings) nodeSource(link, index int) *PointSource {
	if f.NodeSources == nil {
		return nil
	}
	byIndex, ok := f.NodeSources[link]
	if !ok {
		return nil
	}
	return byIndex[index]
}

// snowmeltRate is an unimplemented capability per design notes §9: the
// source's degree-day melt subsystem is not specified here in enough
// detail to reimplement, so it refuses to activate and always returns 0
// regardless of SnowOpt. Treat non-zero melt as an explicit future
// extension, not a bug.
func snowmeltRate(_ *CellState, _ SnowOption) float64 {
	return 0
}

// Step advances the run-state by one time step, executing the 8-phase
// pipeline of component design §5 in order. Each phase reads only
// previous-step state plus whatever earlier phases in this same call
// staged into the transient fields of CellState/NodeState; no phase
// mutates state read by an earlier phase of the same step.
func Step(rs *RunState, f *Forcings, reporter Reporter, logger *logrus.Logger) error {
	rs.Step++

	// Phase 1: advance forcing interpolators.
	f.Advance(rs.SimTime)

	// Phase 2: infiltration / transmission loss.
	if err := Calculations(func(rs *RunState, c *CellState) error {
		kh, psi, thetaD := rs.Grid.KSat.Get(c.Row, c.Col), rs.Grid.Psi.Get(c.Row, c.Col), rs.Grid.ThetaD.Get(c.Row, c.Col)
		if kh <= 0 {
			c.InfiltrationRate = 0
			return nil
		}
		rate, newF := GreenAmpt(kh, psi, thetaD, c.H, c.InfiltrationF, rs.Dt)
		c.InfiltrationRate = rate
		c.InfiltrationF = newF
		rs.Ledger.CellLedgerFor(c.Row, c.Col).InfiltrationVol += rate * rs.Dt * rs.Grid.CellSize * rs.Grid.CellSize
		return nil
	})(rs); err != nil {
		return err
	}
	if err := NodeCalculations(func(rs *RunState, n *Node, ns *NodeState) error {
		kh, psi, thetaD := rs.Grid.KSat.Get(n.Row, n.Col), rs.Grid.Psi.Get(n.Row, n.Col), rs.Grid.ThetaD.Get(n.Row, n.Col)
		if kh <= 0 {
			ns.TransmissionLossRate = 0
			return nil
		}
		rate, newF := GreenAmpt(kh, psi, thetaD, ns.H, ns.InfiltrationF, rs.Dt)
		ns.TransmissionLossRate = rate
		ns.InfiltrationF = newF
		rs.Ledger.NodeLedgerFor(n).TransmissionLossVol += rate * rs.Dt * n.TopWidth * n.ChannelLength
		return nil
	})(rs); err != nil {
		return err
	}

	// Phase 3: interception debit (rain, and snow when enabled).
	if err := Calculations(func(rs *RunState, c *CellState) error {
		rain := InterceptionDebit(f.currentRain, c.InterceptRemaining, rs.Dt)
		c.NetRainRate = rain.NetRate
		c.InterceptRemaining -= rain.Debit
		cl := rs.Ledger.CellLedgerFor(c.Row, c.Col)
		cl.InterceptionVol += rain.Debit * rs.Grid.CellSize * rs.Grid.CellSize
		cl.GrossRainVol += f.currentRain * rs.Dt * rs.Grid.CellSize * rs.Grid.CellSize
		cl.NetRainVol += rain.NetRate * rs.Dt * rs.Grid.CellSize * rs.Grid.CellSize

		if f.SnowOpt != SnowOff {
			snow := InterceptionDebit(f.currentSnow, c.SnowRemaining, rs.Dt)
			c.SnowRemaining -= snow.Debit
			c.SnowmeltRate = snowmeltRate(c, f.SnowOpt)
			cl.GrossSnowVol += f.currentSnow * rs.Dt * rs.Grid.CellSize * rs.Grid.CellSize
			swe, err := UpdateSWE(c.SWE, snow.NetRate, c.SnowmeltRate, rs.Dt)
			if err != nil {
				return err
			}
			c.SWE = swe
		}
		return nil
	})(rs); err != nil {
		return err
	}

	// Phase 4: overland depth update (one sweep over all cells).
	if err := overlandDepthPhase(rs, f); err != nil {
		return err
	}

	// Phase 5: channel depth update (one sweep over all nodes).
	if err := channelDepthPhase(rs, f); err != nil {
		return err
	}

	// Phase 6: floodplain exchange.
	if err := floodplainExchangePhase(rs); err != nil {
		return err
	}

	// Phase 7: solids transport (assemble outfluxes, reconcile, apply influxes).
	if err := solidsPhase(rs, f); err != nil {
		return err
	}

	// Phase 8: ledger update / min-max envelopes / reporting hook.
	updateEnvelopes(rs)
	rs.SimTime += rs.Dt
	if reporter != nil {
		if err := reporter.Report(rs.Step, rs.SimTime, rs); err != nil {
			return err
		}
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{"step": rs.Step, "simtime": rs.SimTime}).Debug("step complete")
	}
	return nil
}

// overlandDepthPhase computes the net axial inflow/outflow for every cell
// using the diffusive-kinematic routing of OverlandFlowRate, then applies
// the overland depth update (4.3). Flows are staged into DqIn/DqOut before
// any cell's H is mutated, so every cell's routing math reads only
// previous-step depths (read-old/write-new).
func overlandDepthPhase(rs *RunState, f *Forcings) error {
	g := rs.Grid
	axial := []Direction{DirN, DirE, DirS, DirW}

	for r := 0; r < g.NRows; r++ {
		for c := 0; c < g.NCols; c++ {
			cell := rs.Cell(r, c)
			if cell == nil {
				continue
			}
			cell.DqIn = SourceVector{}
			cell.DqOut = SourceVector{}
			for _, d := range axial {
				nr, nc, ok := g.Neighbor(r, c, d)
				if !ok {
					continue
				}
				neighbor := rs.Cell(nr, nc)
				if neighbor == nil {
					continue
				}
				manningN := g.ManningN.Get(r, c)
				if manningN <= 0 {
					continue
				}
				q := OverlandFlowRate(cell.H, g.Elevation.Get(r, c), neighbor.H, g.Elevation.Get(nr, nc), manningN, g.CellSize, g.CellSize)
				if q > 0 {
					cell.DqOut[d] = q
				} else if q < 0 {
					cell.DqIn[d] = -q
				}
			}
		}
	}

	return Calculations(func(rs *RunState, c *CellState) error {
		var dq float64
		for k := 1; k <= 8; k++ {
			dq += c.DqIn[k] - c.DqOut[k]
		}
		pointFlow := f.cellSource(c.Row, c.Col).FlowRate(rs.SimTime)
		dq += pointFlow

		node := rs.Topology.NodeAt(c.Row, c.Col)
		aOver := OverlandAreaFrac(rs.Grid.CellSize, node)
		h, err := UpdateOverlandDepth(c.H, c.NetRainRate, c.InfiltrationRate, c.SnowmeltRate, dq, aOver, rs.Dt)
		if err != nil {
			if ie, ok := err.(*InstabilityError); ok {
				ie.Row, ie.Col, ie.Step = c.Row, c.Col, rs.Step
			}
			return err
		}
		c.H = h

		cl := rs.Ledger.CellLedgerFor(c.Row, c.Col)
		for k := 1; k <= 8; k++ {
			cl.DqOverlandInVol[k] += c.DqIn[k] * rs.Dt
			cl.DqOverlandOutVol[k] += c.DqOut[k] * rs.Dt
		}
		cl.DqOverlandInVol[DirPoint] += posPart(pointFlow) * rs.Dt
		cl.DqOverlandOutVol[DirPoint] += posPart(-pointFlow) * rs.Dt
		return nil
	})(rs)
}

// channelDepthPhase computes inter-node channel flows from the previous
// step's depths, then applies the channel depth update of 4.3.
func channelDepthPhase(rs *RunState, f *Forcings) error {
	for _, l := range rs.Topology.Links {
		for _, n := range l.Nodes {
			if ns := rs.Node(n); ns != nil {
				ns.DqIn = SourceVector{}
				ns.DqOut = SourceVector{}
			}
		}
	}

	for _, l := range rs.Topology.Links {
		for _, n := range l.Nodes {
			ns := rs.Node(n)
			if ns == nil {
				continue
			}

			if n.Index < len(l.Nodes)-1 {
				down := l.Nodes[n.Index+1]
				downState := rs.Node(down)
				q := channelReachFlow(n, ns, down, downState, rs.Grid.CellSize)
				if q > 0 {
					ns.DqOut[n.DownDir] = q
					downState.DqIn[down.UpDir] = q
				} else if q < 0 {
					ns.DqIn[n.DownDir] = -q
					downState.DqOut[down.UpDir] = -q
				}
				continue
			}

			// Last node of the link: route either to a confluence with one
			// or more downstream links (claimed in DownBranches during
			// topology construction) or, lacking any, to the domain
			// boundary through an outlet.
			routed := false
			for d := Direction(1); d <= 8; d++ {
				downID := l.DownBranches[int(d)]
				if downID <= 0 {
					continue
				}
				down := rs.Topology.Link(downID)
				if down == nil || len(down.Nodes) == 0 {
					continue
				}
				firstDown := down.Nodes[0]
				downState := rs.Node(firstDown)
				q := channelReachFlow(n, ns, firstDown, downState, rs.Grid.CellSize)
				if q > 0 {
					ns.DqOut[d] = q
					downState.DqIn[d.Opposite()] = q
				} else if q < 0 {
					ns.DqIn[d] = -q
					downState.DqOut[d.Opposite()] = -q
				}
				routed = true
			}
			if !routed && n.DownDir == DirBoundary {
				ns.DqOut[DirBoundary] = outletOutflow(rs, l, n, ns)
			}
		}
	}

	return NodeCalculations(func(rs *RunState, n *Node, ns *NodeState) error {
		var netFlow float64
		for k := 1; k <= 10; k++ {
			netFlow += ns.DqIn[k] - ns.DqOut[k]
		}
		src := f.nodeSource(n.Link, n.Index)
		externalLoad := 0.0
		if src != nil {
			externalLoad = src.FlowRate(rs.SimTime)
		}
		dxStation := n.ChannelLength
		h, err := UpdateChannelDepth(ns.H, netFlow, externalLoad, ns.TransmissionLossRate, ns.FloodplainTransfer, dxStation, rs.Dt)
		if err != nil {
			if ie, ok := err.(*InstabilityError); ok {
				ie.Row, ie.Col, ie.Link, ie.Node, ie.Step = n.Row, n.Col, n.Link, n.Ordinal(), rs.Step
			}
			return err
		}
		ns.H = h

		nl := rs.Ledger.NodeLedgerFor(n)
		for k := 1; k <= 10; k++ {
			nl.DqChannelInVol[k] += ns.DqIn[k] * rs.Dt
			nl.DqChannelOutVol[k] += ns.DqOut[k] * rs.Dt
		}
		return nil
	})(rs)
}

// outletOutflow computes the boundary-interface outflow (m^3/s) leaving
// the domain at a link's last node, per the outlet's depth-boundary
// option (4.5): NormalDepth derives the conveyance from Manning's
// equation against the outlet's own ground slope; SpecifiedDepth instead
// drives the channel toward a prescribed stage and the resulting outflow
// is back-computed from the same conveyance relation evaluated at the
// node's current depth, so that a rising specified boundary depth throttles
// outflow rather than forcing it.
func outletOutflow(rs *RunState, l *Link, n *Node, ns *NodeState) float64 {
	outlet := outletFor(rs, l.ID)
	if outlet == nil || ns.H <= 0 {
		return 0
	}
	geom := HydraulicGeometry{BottomWidth: n.BottomWidth, BankHeight: n.BankHeight, SideSlope: n.SideSlope, TopWidth: n.TopWidth}
	area, perimeter := geom.CrossSection(ns.H)
	rh := HydraulicRadius(area, perimeter)
	if rh <= 0 || perimeter <= 0 {
		return 0
	}
	slope := outlet.Slope
	if slope <= 0 {
		slope = 1e-4
	}
	const manningN = 0.035
	q := (1 / manningN) * area * math.Pow(rh, 2.0/3.0) * math.Sqrt(slope)

	if outlet.Dbcopt == SpecifiedDepth && outlet.Depth != nil {
		target := outlet.Depth.Value(rs.SimTime)
		if ns.H <= target {
			return 0
		}
	}
	return q
}

// outletFor returns the outlet bound to the last node of link linkID, or
// nil if that link drains no outlet.
func outletFor(rs *RunState, linkID int) *Outlet {
	for _, o := range rs.Outlets {
		if o.Link == linkID {
			return o
		}
	}
	return nil
}

// channelReachFlow computes the flow (m^3/s) between a node and its
// immediate downstream node using Manning's equation over the trapezoidal
// channel geometry, analogous to OverlandFlowRate but against the
// channel's own cross-section.
func channelReachFlow(up *Node, upState *NodeState, down *Node, downState *NodeState, cellSize float64) float64 {
	if upState == nil || downState == nil || up.ChannelLength <= 0 {
		return 0
	}
	geomUp := HydraulicGeometry{BottomWidth: up.BottomWidth, BankHeight: up.BankHeight, SideSlope: up.SideSlope, TopWidth: up.TopWidth}
	headUp := upState.H
	headDown := downState.H
	sf := (headUp - headDown) / up.ChannelLength
	upstreamState := upState
	if sf < 0 {
		sf = -sf
		upstreamState = downState
	}
	if sf <= 0 {
		return 0
	}
	area, perimeter := geomUp.CrossSection(upstreamState.H)
	if perimeter <= 0 {
		return 0
	}
	r := HydraulicRadius(area, perimeter)
	n := 0.035 // default channel Manning's n; overridable via per-node config in future extension
	q := (1 / n) * area * math.Pow(r, 2.0/3.0) * math.Sqrt(sf)
	if headUp < headDown {
		return -q
	}
	return q
}

// floodplainExchangePhase reconciles overland<->channel mass/volume
// exchange in cells where mask == OverlandAndChannel and the channel is
// over-bank (h_channel > bank_height), per the glossary's definition of
// floodplain transfer.
func floodplainExchangePhase(rs *RunState) error {
	return NodeCalculations(func(rs *RunState, n *Node, ns *NodeState) error {
		cell := rs.Cell(n.Row, n.Col)
		if cell == nil {
			ns.FloodplainTransfer = 0
			return nil
		}
		if ns.H <= n.BankHeight {
			ns.FloodplainTransfer = 0
			return nil
		}
		overbank := ns.H - n.BankHeight
		// Transfer proportional to the overbank head difference against
		// the overland cell's own depth, capped to a stabilizing
		// fraction per step.
		transfer := 0.5 * (overbank - cell.H) * n.TopWidth * n.ChannelLength / rs.Dt
		ns.FloodplainTransfer = -transfer
		cell.DqIn[DirFloodplain] += posPart(transfer)
		cell.DqOut[DirFloodplain] += posPart(-transfer)
		// The channel side of the same interface sees the flow reversed:
		// water (and the mass it carries) that enters the cell leaves the
		// channel, and vice versa.
		ns.DqOut[DirFloodplain] += posPart(transfer)
		ns.DqIn[DirFloodplain] += posPart(-transfer)
		return nil
	})(rs)
}

// Defaults for the solids-transport parameters that the data model leaves
// as run-wide constants rather than per-class fields: the erosion yield
// coefficient and exponent of 4.4.3, and the unit scale factors of
// 4.4.1/4.4.2/4.4.3 (advectionScale, dispersionScale, erosionScale). A
// future configuration layer can expose these per class; until then every
// class shares one run-wide value, which is a deliberate simplification
// recorded in the design notes.
const (
	defaultErosionAY        = 1.0
	defaultErosionM         = 1.0
	defaultAdvectionScale   = 1.0
	defaultDispersionScale  = 1.0
	defaultErosionScale     = 1.0
)

var axialDirs = [4]Direction{DirN, DirE, DirS, DirW}

// solidsPhase implements the assemble/reconcile/apply solids-transport
// pipeline of component design 4.4 for every cell and node, one solids
// class at a time. Advective and dispersive fluxes are assembled from the
// depth-update phase's staged DqIn/DqOut and each neighbor's previous-step
// water-column concentration; erosion and deposition are computed from
// each cell/node's own shear stress and surface bed layer; the three
// categories drawing on the water column (advection-out, dispersion-out,
// deposition) are reconciled against available water-column mass, and bed
// erosion is reconciled against the available bed-surface mass, following
// 4.4.5 exactly.
func solidsPhase(rs *RunState, f *Forcings) error {
	if err := Calculations(func(rs *RunState, c *CellState) error {
		return applyCellSolids(rs, c, f)
	})(rs); err != nil {
		return err
	}
	return NodeCalculations(func(rs *RunState, n *Node, ns *NodeState) error {
		return applyNodeSolids(rs, n, ns, f)
	})(rs)
}

func applyCellSolids(rs *RunState, c *CellState, f *Forcings) error {
	g := rs.Grid
	node := rs.Topology.NodeAt(c.Row, c.Col)
	aOver := OverlandAreaFrac(g.CellSize, node)
	vWater := c.H * aOver
	sf := g.Slope.Get(c.Row, c.Col)
	tau, uStar := ShearStress(OverlandHydraulicRadius(c.H), sf)
	eLong, eTrans := DispersionCoefficients(c.H, uStar)

	cl := rs.Ledger.CellLedgerFor(c.Row, c.Col)
	stack := c.Sediment
	surface := stack.Surface()
	src := f.cellSource(c.Row, c.Col)

	for s, class := range rs.Classes {
		cNode := stack.WaterColumn[s]
		var flux Flux

		for _, d := range axialDirs {
			nr, nc, ok := g.Neighbor(c.Row, c.Col, d)
			var cIn float64
			if ok {
				if neighbor := rs.Cell(nr, nc); neighbor != nil {
					cIn = neighbor.Sediment.WaterColumn[s]
				}
			}
			advIn, advOut := AdvectiveFlux(c.DqIn[d], c.DqOut[d], defaultAdvectionScale, cIn, cNode)
			flux.AdvIn[d], flux.AdvOut[d] = advIn, advOut

			e := eLong
			if d == DirE || d == DirW {
				e = eTrans
			}
			dspIn, dspOut := DispersiveFlux(e, aOver, g.CellSize, defaultDispersionScale, cNode, cIn)
			flux.DspIn[d], flux.DspOut[d] = dspIn, dspOut
		}

		// k=0: point source/sink (4.4.1).
		flux.AdvIn[DirPoint], flux.AdvOut[DirPoint] = pointSourceMassFlux(src, rs.SimTime, s, cNode)

		// k=9: floodplain exchange with the co-located channel node, using
		// the transverse dispersion coefficient (4.4.2).
		var cInFlood float64
		if node != nil {
			cInFlood = rs.Node(node).Sediment.WaterColumn[s]
		}
		advInFlood, advOutFlood := AdvectiveFlux(c.DqIn[DirFloodplain], c.DqOut[DirFloodplain], defaultAdvectionScale, cInFlood, cNode)
		flux.AdvIn[DirFloodplain], flux.AdvOut[DirFloodplain] = advInFlood, advOutFlood
		dspInFlood, dspOutFlood := DispersiveFlux(eTrans, aOver, g.CellSize, defaultDispersionScale, cNode, cInFlood)
		flux.DspIn[DirFloodplain], flux.DspOut[DirFloodplain] = dspInFlood, dspOutFlood

		depOut := DepositionFlux(class.SettlingV, aOver, cNode, tau, class.Tcd)
		eps := ErosionShearExcessRate(class, tau, defaultErosionAY, defaultErosionM, surface)
		_, ersMass := ErosionFlow(eps, surface.BedArea, class.BulkDensity(surface.Porosity), defaultErosionScale, rs.Dt, surface.C[s])
		flux.DepOut = depOut
		flux.ErsOut = ersMass / rs.Dt

		outs := make([]*float64, 0, 2*NumSources+1)
		for k := 0; k < NumSources; k++ {
			outs = append(outs, &flux.AdvOut[k], &flux.DspOut[k])
		}
		outs = append(outs, &flux.DepOut)
		available := WaterColumnAvailable(vWater, cNode, rs.Dt, 0)
		ReconcileReservoir(rs.Dt, available, outs...)

		bedAvailable := BedSurfaceAvailable(surface.Volume, surface.C[s])
		erosionScale := SupplyRule(flux.ErsOut*rs.Dt, bedAvailable)
		flux.ErsOut *= erosionScale

		var inMass, outMass float64
		for k := 0; k < NumSources; k++ {
			inMass += (flux.AdvIn[k] + flux.DspIn[k]) * rs.Dt
			outMass += (flux.AdvOut[k] + flux.DspOut[k]) * rs.Dt
		}
		inMass += flux.ErsOut * rs.Dt
		outMass += flux.DepOut * rs.Dt

		stack.WaterColumn[s] = UpdateReservoirConcentration(cNode, inMass, outMass, vWater)
		surface.C[s] -= flux.ErsOut * rs.Dt / surfaceVolumeOrOne(surface)
		surface.C[s] += flux.DepOut * rs.Dt / surfaceVolumeOrOne(surface)
		if surface.C[s] < 0 {
			surface.C[s] = 0
		}

		cl.AdvSedInMass[s] = addSourceTotals(cl.AdvSedInMass[s], flux.AdvIn, rs.Dt)
		cl.AdvSedOutMass[s] = addSourceTotals(cl.AdvSedOutMass[s], flux.AdvOut, rs.Dt)
		cl.DspSedInMass[s] = addSourceTotals(cl.DspSedInMass[s], flux.DspIn, rs.Dt)
		cl.DspSedOutMass[s] = addSourceTotals(cl.DspSedOutMass[s], flux.DspOut, rs.Dt)
		cl.ErsSedInMass[s][DirPoint] += flux.ErsOut * rs.Dt
		cl.DepSedOutMass[s] += flux.DepOut * rs.Dt
	}
	surface.recomputeTotal()
	return nil
}

func applyNodeSolids(rs *RunState, n *Node, ns *NodeState, f *Forcings) error {
	g := rs.Grid
	l := rs.Topology.Link(n.Link)
	geom := HydraulicGeometry{BottomWidth: n.BottomWidth, BankHeight: n.BankHeight, SideSlope: n.SideSlope, TopWidth: n.TopWidth}
	area, perimeter := geom.CrossSection(ns.H)
	rh := HydraulicRadius(area, perimeter)
	sf := g.Slope.Get(n.Row, n.Col)
	tau, uStar := ShearStress(rh, sf)
	eLong, eTrans := DispersionCoefficients(ns.H, uStar)

	vWater := area * n.ChannelLength
	nl := rs.Ledger.NodeLedgerFor(n)
	stack := ns.Sediment
	surface := stack.Surface()
	src := f.nodeSource(n.Link, n.Index)
	outlet := outletFor(rs, n.Link)

	for s, class := range rs.Classes {
		cNode := stack.WaterColumn[s]
		var flux Flux

		// k=0: point source/sink (4.4.1).
		flux.AdvIn[DirPoint], flux.AdvOut[DirPoint] = pointSourceMassFlux(src, rs.SimTime, s, cNode)

		for k := Direction(1); k <= 8; k++ {
			cIn := neighborWaterColumn(rs, l, n, k, s)
			advIn, advOut := AdvectiveFlux(ns.DqIn[k], ns.DqOut[k], defaultAdvectionScale, cIn, cNode)
			flux.AdvIn[k], flux.AdvOut[k] = advIn, advOut

			dspIn, dspOut := DispersiveFlux(eLong, area, n.ChannelLength, defaultDispersionScale, cNode, cIn)
			flux.DspIn[k], flux.DspOut[k] = dspIn, dspOut
		}

		// k=9: floodplain exchange with the co-located overland cell, using
		// the transverse dispersion coefficient (4.4.2).
		var cInFlood float64
		if cell := rs.Cell(n.Row, n.Col); cell != nil {
			cInFlood = cell.Sediment.WaterColumn[s]
		}
		advInFlood, advOutFlood := AdvectiveFlux(ns.DqIn[DirFloodplain], ns.DqOut[DirFloodplain], defaultAdvectionScale, cInFlood, cNode)
		flux.AdvIn[DirFloodplain], flux.AdvOut[DirFloodplain] = advInFlood, advOutFlood
		dspInFlood, dspOutFlood := DispersiveFlux(eTrans, n.TopWidth*n.ChannelLength, n.ChannelLength, defaultDispersionScale, cNode, cInFlood)
		flux.DspIn[DirFloodplain], flux.DspOut[DirFloodplain] = dspInFlood, dspOutFlood

		// k=10: domain boundary. The specified boundary concentration
		// applies only at an outlet's last node with Dbcopt == SpecifiedDepth
		// (4.4.1); otherwise the boundary contributes no inflow concentration.
		var cInBoundary float64
		if n.DownDir == DirBoundary && outlet != nil && outlet.Dbcopt == SpecifiedDepth && s < len(outlet.BoundaryConc) && outlet.BoundaryConc[s] != nil {
			cInBoundary = outlet.BoundaryConc[s].Value(rs.SimTime)
		}
		advInBoundary, advOutBoundary := AdvectiveFlux(ns.DqIn[DirBoundary], ns.DqOut[DirBoundary], defaultAdvectionScale, cInBoundary, cNode)
		flux.AdvIn[DirBoundary], flux.AdvOut[DirBoundary] = advInBoundary, advOutBoundary
		dspInBoundary, dspOutBoundary := DispersiveFlux(eLong, area, n.ChannelLength, defaultDispersionScale, cNode, cInBoundary)
		flux.DspIn[DirBoundary], flux.DspOut[DirBoundary] = dspInBoundary, dspOutBoundary

		depOut := DepositionFlux(class.SettlingV, n.TopWidth*n.ChannelLength, cNode, tau, class.Tcd)
		eps := ErosionShearExcessRate(class, tau, defaultErosionAY, defaultErosionM, surface)
		_, ersMass := ErosionFlow(eps, surface.BedArea, class.BulkDensity(surface.Porosity), defaultErosionScale, rs.Dt, surface.C[s])
		flux.DepOut = depOut
		flux.ErsOut = ersMass / rs.Dt

		outs := make([]*float64, 0, 2*NumSources+1)
		for k := 0; k < NumSources; k++ {
			outs = append(outs, &flux.AdvOut[k], &flux.DspOut[k])
		}
		outs = append(outs, &flux.DepOut)
		available := WaterColumnAvailable(vWater, cNode, rs.Dt, 0)
		ReconcileReservoir(rs.Dt, available, outs...)

		bedAvailable := BedSurfaceAvailable(surface.Volume, surface.C[s])
		erosionScale := SupplyRule(flux.ErsOut*rs.Dt, bedAvailable)
		flux.ErsOut *= erosionScale

		var inMass, outMass float64
		for k := 0; k < NumSources; k++ {
			inMass += (flux.AdvIn[k] + flux.DspIn[k]) * rs.Dt
			outMass += (flux.AdvOut[k] + flux.DspOut[k]) * rs.Dt
		}
		inMass += flux.ErsOut * rs.Dt
		outMass += flux.DepOut * rs.Dt

		stack.WaterColumn[s] = UpdateReservoirConcentration(cNode, inMass, outMass, vWater)
		surface.C[s] -= flux.ErsOut * rs.Dt / surfaceVolumeOrOne(surface)
		surface.C[s] += flux.DepOut * rs.Dt / surfaceVolumeOrOne(surface)
		if surface.C[s] < 0 {
			surface.C[s] = 0
		}

		nl.AdvSedInMass[s] = addSourceTotals(nl.AdvSedInMass[s], flux.AdvIn, rs.Dt)
		nl.AdvSedOutMass[s] = addSourceTotals(nl.AdvSedOutMass[s], flux.AdvOut, rs.Dt)
		nl.DspSedInMass[s] = addSourceTotals(nl.DspSedInMass[s], flux.DspIn, rs.Dt)
		nl.DspSedOutMass[s] = addSourceTotals(nl.DspSedOutMass[s], flux.DspOut, rs.Dt)
		nl.ErsSedInMass[s][DirPoint] += flux.ErsOut * rs.Dt
		nl.DepSedOutMass[s] += flux.DepOut * rs.Dt

		if n.DownDir == DirBoundary && outlet != nil {
			for oi, o := range rs.Outlets {
				if o.Link == n.Link {
					ol := rs.Ledger.Outlets[oi]
					ol.BoundaryMassOut[s] += flux.AdvOut[DirBoundary] * rs.Dt
					ol.OutflowVol += ns.DqOut[DirBoundary] * rs.Dt
				}
			}
		}
	}
	surface.recomputeTotal()
	return nil
}

func upstreamNode(t *Topology, n *Node) *Node {
	l := t.Link(n.Link)
	if l == nil || n.Index == 0 {
		return nil
	}
	return l.Nodes[n.Index-1]
}

func downstreamNode(t *Topology, n *Node) *Node {
	l := t.Link(n.Link)
	if l == nil || n.Index >= len(l.Nodes)-1 {
		return nil
	}
	return l.Nodes[n.Index+1]
}

func surfaceVolumeOrOne(l *Layer) float64 {
	if l.Volume <= 0 {
		return 1
	}
	return l.Volume
}

func addSourceTotals(totals SourceTotals, flux SourceVector, dt float64) SourceTotals {
	for k := range totals {
		totals[k] += flux[k] * dt
	}
	return totals
}

// pointSourceMassFlux combines PointSource.FlowRate and
// InflowConcentration into the assembled in/out mass-rate split that
// PointSourceFlux expects, implementing 4.4.1's k=0 rule: a LoadMassPerDay
// source contributes its converted mass rate directly; a LoadConcentration
// source/sink's mass rate follows the sign of its own flow.
func pointSourceMassFlux(p *PointSource, simtime float64, s int, cNode float64) (in, out float64) {
	if p == nil || s >= len(p.Loads) || p.Loads[s] == nil {
		return 0, 0
	}
	var load float64
	switch p.Option {
	case LoadMassPerDay:
		load = p.InflowConcentration(simtime, s, cNode)
	case LoadConcentration:
		load = p.FlowRate(simtime) * p.InflowConcentration(simtime, s, cNode)
	}
	return PointSourceFlux(load)
}

// neighborWaterColumn returns the water-column concentration of class s at
// whichever neighbor supplies node n's inflow/outflow across compass
// direction k, mirroring the routing channelDepthPhase used to stage
// ns.DqIn/DqOut[k] (run.go's channel-flow assembly): an interior node
// reads across its own link via UpDir/DownDir; a link's first or last node
// instead reads across a claimed confluence branch via
// Link.UpBranches/DownBranches, exactly as channelDepthPhase does when
// routing flow there.
func neighborWaterColumn(rs *RunState, l *Link, n *Node, k Direction, s int) float64 {
	if k == n.UpDir {
		if up := upstreamNode(rs.Topology, n); up != nil {
			return rs.Node(up).Sediment.WaterColumn[s]
		}
	}
	if k == n.DownDir {
		if down := downstreamNode(rs.Topology, n); down != nil {
			return rs.Node(down).Sediment.WaterColumn[s]
		}
	}
	if n.Index == 0 && k.IsCompass() && l.UpBranches[int(k)] > 0 {
		if up := rs.Topology.Link(l.UpBranches[int(k)]); up != nil && len(up.Nodes) > 0 {
			return rs.Node(up.last()).Sediment.WaterColumn[s]
		}
	}
	if n.Index == len(l.Nodes)-1 && k.IsCompass() && l.DownBranches[int(k)] > 0 {
		if down := rs.Topology.Link(l.DownBranches[int(k)]); down != nil && len(down.Nodes) > 0 {
			return rs.Node(down.first()).Sediment.WaterColumn[s]
		}
	}
	return 0
}

func posPart(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// updateEnvelopes records the per-cell minimum and maximum overland depth
// of the 4.6 envelope bookkeeping in the cell ledgers. It does not update
// the rain-intensity envelope (CellLedger.MinRainIntensity/
// MaxRainIntensity) or the channel-node depth envelope (NodeLedger.MinDepth/
// MaxDepth).
func updateEnvelopes(rs *RunState) {
	for r := range rs.Cells {
		for _, c := range rs.Cells[r] {
			if c == nil {
				continue
			}
			cl := rs.Ledger.CellLedgerFor(c.Row, c.Col)
			if cl.MaxDepth == 0 && cl.MinDepth == 0 {
				cl.MinDepth, cl.MaxDepth = c.H, c.H
			}
			if c.H < cl.MinDepth {
				cl.MinDepth = c.H
			}
			if c.H > cl.MaxDepth {
				cl.MaxDepth = c.H
			}
		}
	}
}
