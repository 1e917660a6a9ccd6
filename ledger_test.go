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
	"testing"
)

func TestSourceTotalsSum(t *testing.T) {
	var s SourceTotals
	s[DirN] = 1.5
	s[DirS] = 2.5
	s[DirPoint] = 1.0
	if have, want := s.Sum(), 5.0; math.Abs(have-want) > epsilon {
		t.Errorf("SourceTotals.Sum() = %g, want %g", have, want)
	}
}

func TestCellLedgerForCreatesAndReuses(t *testing.T) {
	l := NewLedger(2, nil)
	a := l.CellLedgerFor(3, 4)
	if a == nil {
		t.Fatal("CellLedgerFor returned nil")
	}
	if len(a.AdvSedInMass) != 2 {
		t.Errorf("len(AdvSedInMass) = %d, want 2", len(a.AdvSedInMass))
	}
	a.GrossRainVol = 10
	b := l.CellLedgerFor(3, 4)
	if b.GrossRainVol != 10 {
		t.Errorf("CellLedgerFor did not reuse the existing entry: GrossRainVol = %g, want 10", b.GrossRainVol)
	}
	c := l.CellLedgerFor(3, 5)
	if c.GrossRainVol != 0 {
		t.Errorf("distinct cell key returned a shared entry")
	}
}

func TestNodeLedgerForCreatesAndReuses(t *testing.T) {
	l := NewLedger(1, nil)
	n1 := &Node{Link: 7, Index: 0}
	n2 := &Node{Link: 7, Index: 2}

	nl1 := l.NodeLedgerFor(n1)
	nl1.TransmissionLossVol = 5
	if again := l.NodeLedgerFor(n1); again.TransmissionLossVol != 5 {
		t.Errorf("NodeLedgerFor did not reuse entry for index 0")
	}

	nl2 := l.NodeLedgerFor(n2)
	if nl2.TransmissionLossVol != 0 {
		t.Errorf("NodeLedgerFor(index 2) = %g, want fresh zero entry", nl2.TransmissionLossVol)
	}
	if len(l.Nodes[7]) != 3 {
		t.Errorf("len(Nodes[7]) = %d, want 3 (grown to hold index 2)", len(l.Nodes[7]))
	}
}

// TestClosedBasinMassErrorConservative implements testable property 4: a
// closed-basin configuration with no erosion or deposition keeps the
// relative mass error near zero.
func TestClosedBasinMassErrorConservative(t *testing.T) {
	l := NewLedger(1, nil)
	cl := l.CellLedgerFor(0, 0)
	cl.AdvSedInMass[0][DirPoint] = 100
	cl.AdvSedOutMass[0][DirPoint] = 40

	// All 100 units in, 40 leave the cell but stay in the domain (no
	// outlet accounted for), so final mass should reflect the 60
	// remaining plus whatever wasn't moved.
	err := l.ClosedBasinMassError(0, 0, 60)
	if math.Abs(err) > 1e-3 {
		t.Errorf("ClosedBasinMassError = %g, want within 1e-3 of 0", err)
	}
}

func TestClosedBasinMassErrorZeroInflowShortCircuits(t *testing.T) {
	l := NewLedger(1, nil)
	if err := l.ClosedBasinMassError(0, 5, 5); err != 0 {
		t.Errorf("ClosedBasinMassError with zero inflow = %g, want 0", err)
	}
}

func TestClosedBasinMassErrorDetectsImbalance(t *testing.T) {
	l := NewLedger(1, nil)
	cl := l.CellLedgerFor(0, 0)
	cl.AdvSedInMass[0][DirPoint] = 100
	// Final mass understated by 100 relative to conservation: a real leak.
	err := l.ClosedBasinMassError(0, 0, 0)
	if math.Abs(err) < 1e-3 {
		t.Errorf("ClosedBasinMassError = %g, want a detectable imbalance", err)
	}
}

func TestOutletLedgerAccumulates(t *testing.T) {
	outlets := []*Outlet{{Row: 0, Col: 0, Link: 1}}
	l := NewLedger(2, outlets)
	if len(l.Outlets) != 1 {
		t.Fatalf("len(Outlets) = %d, want 1", len(l.Outlets))
	}
	ol := l.Outlets[0]
	if len(ol.BoundaryMassIn) != 2 || len(ol.BoundaryMassOut) != 2 {
		t.Errorf("OutletLedger mass slices not sized for 2 classes")
	}
	ol.BoundaryMassIn[1] = 42
	ol.BoundaryMassOut[1] = 42
	err := l.ClosedBasinMassError(1, 0, 0)
	if math.Abs(err) > epsilon {
		t.Errorf("ClosedBasinMassError with outlet outflow accounted = %g, want 0", err)
	}
}
