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

func TestTimeSeriesInterpolation(t *testing.T) {
	ts := NewTimeSeries([]float64{0, 10, 20}, []float64{0, 100, 100})
	tests := []struct {
		t    float64
		want float64
	}{
		{0, 0},
		{5, 50},
		{10, 100},
		{15, 100},
	}
	for _, tt := range tests {
		if have := ts.Value(tt.t); math.Abs(have-tt.want) > epsilon {
			t.Errorf("Value(%g) = %g, want %g", tt.t, have, tt.want)
		}
	}
}

// TestTimeSeriesIdempotence implements testable property 6: advancing an
// already-current pointer by Δt = 0 returns the same interpolated value.
func TestTimeSeriesIdempotence(t *testing.T) {
	ts := NewTimeSeries([]float64{0, 10, 20}, []float64{0, 100, 200})
	first := ts.Value(7)
	second := ts.Value(7)
	if first != second {
		t.Errorf("Value(7) called twice = %g, %g, want equal", first, second)
	}
}

// TestTimeSeriesSaturatesPastLastBreakpoint implements the remainder of
// testable property 6: saturating past the last breakpoint returns the
// last value.
func TestTimeSeriesSaturatesPastLastBreakpoint(t *testing.T) {
	ts := NewTimeSeries([]float64{0, 10}, []float64{5, 50})
	if have := ts.Value(100); have != 50 {
		t.Errorf("Value(100) = %g, want 50 (saturated)", have)
	}
	if have := ts.Value(1000); have != 50 {
		t.Errorf("Value(1000) = %g, want 50 (saturated again)", have)
	}
}

func TestTimeSeriesSingleBreakpoint(t *testing.T) {
	ts := NewTimeSeries([]float64{0}, []float64{42})
	if have := ts.Value(0); have != 42 {
		t.Errorf("Value(0) = %g, want 42", have)
	}
	if have := ts.Value(99); have != 42 {
		t.Errorf("Value(99) = %g, want 42", have)
	}
}

func TestTimeSeriesPointerAdvancesMonotonically(t *testing.T) {
	ts := NewTimeSeries([]float64{0, 1, 2, 3, 4}, []float64{0, 1, 2, 3, 4})
	for i := 0.0; i <= 4; i += 0.5 {
		if have := ts.Value(i); math.Abs(have-i) > epsilon {
			t.Errorf("Value(%g) = %g, want %g", i, have, i)
		}
	}
}

func TestPointSourceFlowRateNilSafe(t *testing.T) {
	var p *PointSource
	if have := p.FlowRate(0); have != 0 {
		t.Errorf("nil PointSource.FlowRate = %g, want 0", have)
	}
}

func TestPointSourceInflowConcentrationMassPerDay(t *testing.T) {
	p := &PointSource{
		Option: LoadMassPerDay,
		Loads:  []*TimeSeries{NewTimeSeries([]float64{0}, []float64{86.4})},
	}
	// 86.4 kg/day -> 1 g/s equivalent under the 1000/86400 conversion.
	want := 86.4 * 1000.0 / 86400.0
	if have := p.InflowConcentration(0, 0, 0); math.Abs(have-want) > epsilon {
		t.Errorf("InflowConcentration = %g, want %g", have, want)
	}
}

func TestPointSourceInflowConcentrationSinkUsesOwnConcentration(t *testing.T) {
	p := &PointSource{
		Flow:   NewTimeSeries([]float64{0}, []float64{-1}), // sink
		Option: LoadConcentration,
		Loads:  []*TimeSeries{NewTimeSeries([]float64{0}, []float64{500})},
	}
	if have := p.InflowConcentration(0, 0, 37); have != 37 {
		t.Errorf("sink InflowConcentration = %g, want 37 (own concentration)", have)
	}
}

func TestPointSourceInflowConcentrationSourceUsesSpecifiedValue(t *testing.T) {
	p := &PointSource{
		Flow:   NewTimeSeries([]float64{0}, []float64{1}), // source
		Option: LoadConcentration,
		Loads:  []*TimeSeries{NewTimeSeries([]float64{0}, []float64{500})},
	}
	if have := p.InflowConcentration(0, 0, 37); have != 500 {
		t.Errorf("source InflowConcentration = %g, want 500 (specified)", have)
	}
}

func TestManningDepthZeroGuards(t *testing.T) {
	if d := ManningDepth(0, 0.03, 10, 0.001); d != 0 {
		t.Errorf("ManningDepth with q=0 = %g, want 0", d)
	}
	if d := ManningDepth(1, 0, 10, 0.001); d != 0 {
		t.Errorf("ManningDepth with n=0 = %g, want 0", d)
	}
}
