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

import "testing"

func TestNewGridDimensions(t *testing.T) {
	g := NewGrid(3, 4, 10)
	if g.NRows != 3 || g.NCols != 4 || g.CellSize != 10 {
		t.Fatalf("NewGrid(3,4,10) = {%d,%d,%g}, want {3,4,10}", g.NRows, g.NCols, g.CellSize)
	}
	if !g.InBounds(0, 0) || !g.InBounds(2, 3) {
		t.Errorf("corner cells should be in bounds")
	}
	if g.InBounds(3, 0) || g.InBounds(0, 4) || g.InBounds(-1, 0) {
		t.Errorf("out-of-range cells should not be in bounds")
	}
}

func TestMaskAt(t *testing.T) {
	g := NewGrid(2, 2, 1)
	g.Mask.Set(float64(OverlandAndChannel), 0, 1)
	if have := g.MaskAt(0, 1); have != OverlandAndChannel {
		t.Errorf("MaskAt(0,1) = %v, want %v", have, OverlandAndChannel)
	}
	if have := g.MaskAt(1, 1); have != NoData {
		t.Errorf("MaskAt(1,1) = %v, want %v (zero value)", have, NoData)
	}
}

func TestGridNeighbor(t *testing.T) {
	g := NewGrid(3, 3, 1)
	tests := []struct {
		row, col int
		d        Direction
		wantRow  int
		wantCol  int
		wantOK   bool
	}{
		{1, 1, DirN, 0, 1, true},
		{1, 1, DirE, 1, 2, true},
		{0, 0, DirN, -1, 0, false},
		{0, 0, DirW, 0, -1, false},
		{2, 2, DirSE, 3, 3, false},
	}
	for _, tt := range tests {
		nr, nc, ok := g.Neighbor(tt.row, tt.col, tt.d)
		if nr != tt.wantRow || nc != tt.wantCol || ok != tt.wantOK {
			t.Errorf("Neighbor(%d,%d,%v) = (%d,%d,%v), want (%d,%d,%v)",
				tt.row, tt.col, tt.d, nr, nc, ok, tt.wantRow, tt.wantCol, tt.wantOK)
		}
	}
}

func TestValidateGeometry(t *testing.T) {
	tests := []struct {
		name    string
		n       *Node
		wantErr bool
	}{
		{"nil node", nil, false},
		{"valid", &Node{TopWidth: 2, BottomWidth: 1, ChannelLength: 5}, false},
		{"area too large", &Node{TopWidth: 10, BottomWidth: 1, ChannelLength: 10}, true},
		{"top narrower than bottom", &Node{TopWidth: 1, BottomWidth: 2, ChannelLength: 1}, true},
	}
	for _, tt := range tests {
		err := ValidateGeometry(0, 0, 10, tt.n)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: ValidateGeometry() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestChannelSurfaceArea(t *testing.T) {
	if have := ChannelSurfaceArea(nil, 10); have != 0 {
		t.Errorf("ChannelSurfaceArea(nil, 10) = %g, want 0", have)
	}
	n := &Node{TopWidth: 2, ChannelLength: 5}
	if have, want := ChannelSurfaceArea(n, 10), 10.0; have != want {
		t.Errorf("ChannelSurfaceArea(n, 10) = %g, want %g", have, want)
	}
}
