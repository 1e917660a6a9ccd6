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

// singleCellState builds a one-cell, channel-free domain: a minimal
// fixture for exercising the Step pipeline's overland phases in
// isolation (no routing, no infiltration).
func singleCellState(dt float64) *RunState {
	g := NewGrid(1, 1, 10)
	g.Mask.Set(float64(OverlandOnly), 0, 0)
	g.ManningN.Set(0.03, 0, 0)

	topo, err := BuildTopology(g)
	if err != nil {
		panic(err)
	}
	return NewRunState(g, topo, nil, nil, dt)
}

// TestStepInterceptionAbsorbsRain implements end-to-end scenario S1: a
// light, brief rainfall that stays within the remaining interception
// capacity never reaches the ground, so the overland depth stays at zero.
func TestStepInterceptionAbsorbsRain(t *testing.T) {
	rs := singleCellState(60)
	c := rs.Cell(0, 0)
	c.InterceptRemaining = 0.002

	f := &Forcings{RainGage: NewTimeSeries([]float64{0}, []float64{1e-5})}
	if err := Step(rs, f, nil, nil); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if c.H != 0 {
		t.Errorf("overland depth after fully-intercepted rain = %g, want 0", c.H)
	}
	wantRemaining := 0.002 - 1e-5*60
	if math.Abs(c.InterceptRemaining-wantRemaining) > epsilon {
		t.Errorf("InterceptRemaining = %g, want %g", c.InterceptRemaining, wantRemaining)
	}
}

// TestStepInterceptionOverflow implements end-to-end scenario S2: once
// interception capacity is exhausted mid-step, the remainder of the
// rainfall reaches the ground as net rain and increases overland depth.
func TestStepInterceptionOverflow(t *testing.T) {
	rs := singleCellState(60)
	c := rs.Cell(0, 0)
	c.InterceptRemaining = 0.0001

	f := &Forcings{RainGage: NewTimeSeries([]float64{0}, []float64{0.001})}
	if err := Step(rs, f, nil, nil); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if c.InterceptRemaining != 0 {
		t.Errorf("InterceptRemaining after overflow = %g, want 0 (exhausted)", c.InterceptRemaining)
	}
	wantH := 0.001*60 - 0.0001 // gross depth minus the capacity it filled
	if math.Abs(c.H-wantH) > epsilon {
		t.Errorf("overland depth after overflow = %g, want %g", c.H, wantH)
	}
}

// TestStepNonNegativeDepth implements testable property 1 (non-negativity):
// an already-dry cell with no forcing stays at or above zero depth.
func TestStepNonNegativeDepth(t *testing.T) {
	rs := singleCellState(60)
	f := &Forcings{}
	for i := 0; i < 5; i++ {
		if err := Step(rs, f, nil, nil); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if c := rs.Cell(0, 0); c.H < 0 {
		t.Errorf("overland depth = %g, want >= 0", c.H)
	}
}

// TestStepAdvancesSimTimeAndStep confirms the step counters advance exactly
// once per Step call regardless of forcing content.
func TestStepAdvancesSimTimeAndStep(t *testing.T) {
	rs := singleCellState(30)
	f := &Forcings{}
	if err := Step(rs, f, nil, nil); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rs.Step != 1 {
		t.Errorf("rs.Step = %d, want 1", rs.Step)
	}
	if math.Abs(rs.SimTime-30) > epsilon {
		t.Errorf("rs.SimTime = %g, want 30", rs.SimTime)
	}
}
