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

func TestSolidsClassBulkDensity(t *testing.T) {
	class := &SolidsClass{SpecificGravity: 2.65}
	have := class.BulkDensity(0.4)
	want := 2.65 * waterDensity * 0.6
	if math.Abs(have-want) > epsilon {
		t.Errorf("BulkDensity(0.4) = %g, want %g", have, want)
	}
}

func TestSolidsClassBulkDensityZeroPorosity(t *testing.T) {
	class := &SolidsClass{SpecificGravity: 1}
	if have, want := class.BulkDensity(0), waterDensity; math.Abs(have-want) > epsilon {
		t.Errorf("BulkDensity(0) = %g, want %g", have, want)
	}
}

func TestNewLayerSizedForClasses(t *testing.T) {
	l := NewLayer(3, 10, 20, 0.3)
	if len(l.C) != 3 {
		t.Errorf("len(C) = %d, want 3", len(l.C))
	}
	if l.Volume != 10 || l.BedArea != 20 || l.Porosity != 0.3 {
		t.Errorf("NewLayer did not set geometry fields correctly: %+v", l)
	}
}

func TestLayerRecomputeTotal(t *testing.T) {
	l := NewLayer(3, 1, 1, 0)
	l.C[0] = 1.5
	l.C[1] = 2.5
	l.C[2] = 0
	l.recomputeTotal()
	if want := 4.0; math.Abs(l.Total-want) > epsilon {
		t.Errorf("Total after recomputeTotal = %g, want %g", l.Total, want)
	}
}

func TestLayerRecomputeTotalEmpty(t *testing.T) {
	l := NewLayer(0, 1, 1, 0)
	l.recomputeTotal()
	if l.Total != 0 {
		t.Errorf("Total for a layer with no classes = %g, want 0", l.Total)
	}
}

func TestNewSedimentStackStartsWithOneSurfaceLayer(t *testing.T) {
	s := NewSedimentStack(2, 5, 10, 0.35)
	if len(s.Layers) != 1 {
		t.Fatalf("len(Layers) = %d, want 1", len(s.Layers))
	}
	if len(s.WaterColumn) != 2 {
		t.Errorf("len(WaterColumn) = %d, want 2", len(s.WaterColumn))
	}
	if s.Surface() != s.Layers[0] {
		t.Error("Surface() should return the only layer")
	}
}

func TestSedimentStackSurfaceIsTopmost(t *testing.T) {
	s := NewSedimentStack(1, 1, 1, 0)
	second := NewLayer(1, 2, 2, 0)
	s.Layers = append(s.Layers, second)
	if s.Surface() != second {
		t.Error("Surface() should return the last (topmost) layer after appending one")
	}
}

func TestSedimentStackWaterColumnTotal(t *testing.T) {
	s := NewSedimentStack(3, 1, 1, 0)
	s.WaterColumn[0] = 1
	s.WaterColumn[1] = 2
	s.WaterColumn[2] = 3
	if have, want := s.WaterColumnTotal(), 6.0; math.Abs(have-want) > epsilon {
		t.Errorf("WaterColumnTotal() = %g, want %g", have, want)
	}
}
