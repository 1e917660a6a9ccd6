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

// buildConfluenceGrid builds a 3x1 column: link 1 (2 nodes) drains south
// into link 2 (1 node), which has no further downstream link and is
// therefore the domain outlet.
func buildConfluenceGrid(cellSize float64) *Grid {
	g := NewGrid(3, 1, cellSize)
	set := func(row, link, node int) {
		g.Link.Set(float64(link), row, 0)
		g.Node.Set(float64(node), row, 0)
	}
	set(0, 1, 1)
	set(1, 1, 2)
	set(2, 2, 1)
	return g
}

func TestBuildTopologyConfluence(t *testing.T) {
	g := buildConfluenceGrid(10)
	topo, err := BuildTopology(g)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	if len(topo.Links) != 2 {
		t.Fatalf("len(topo.Links) = %d, want 2", len(topo.Links))
	}
	l1, l2 := topo.Link(1), topo.Link(2)
	if l1 == nil || l2 == nil {
		t.Fatalf("expected links 1 and 2, got %v", topo.Links)
	}
	if len(l1.Nodes) != 2 {
		t.Fatalf("len(l1.Nodes) = %d, want 2", len(l1.Nodes))
	}
	if len(l2.Nodes) != 1 {
		t.Fatalf("len(l2.Nodes) = %d, want 1", len(l2.Nodes))
	}

	if l1.DownBranches[0] != 1 || l1.DownBranches[int(DirS)] != 2 {
		t.Errorf("l1.DownBranches = %v, want count 1 with DirS -> link 2", l1.DownBranches)
	}
	if l2.UpBranches[0] != 1 || l2.UpBranches[int(DirN)] != 1 {
		t.Errorf("l2.UpBranches = %v, want count 1 with DirN -> link 1", l2.UpBranches)
	}

	last := l1.Nodes[len(l1.Nodes)-1]
	if last.DownDir != DirS {
		t.Errorf("l1's last node DownDir = %v, want DirS (confluence direction)", last.DownDir)
	}

	outlet := l2.Nodes[0]
	if outlet.DownDir != DirBoundary {
		t.Errorf("l2's only node DownDir = %v, want DirBoundary", outlet.DownDir)
	}
}

func TestComputeChannelLength(t *testing.T) {
	cellSize := 10.0
	g := buildConfluenceGrid(cellSize)
	topo, err := BuildTopology(g)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	l1 := topo.Link(1)
	l2 := topo.Link(2)

	axial := 0.5 * cellSize
	diag := 0.5 * math.Sqrt2 * cellSize

	wantL1 := []float64{axial + axial, axial + axial} // both interfaces of the vertical run are axial (N/S)
	for i, n := range l1.Nodes {
		if math.Abs(n.ChannelLength-wantL1[i]) > 1e-9 {
			t.Errorf("l1.Nodes[%d].ChannelLength = %g, want %g", i, n.ChannelLength, wantL1[i])
		}
	}

	wantL2 := diag + diag // outlet node's sentinel interfaces are non-compass (DirBoundary)
	if math.Abs(l2.Nodes[0].ChannelLength-wantL2) > 1e-9 {
		t.Errorf("l2.Nodes[0].ChannelLength = %g, want %g", l2.Nodes[0].ChannelLength, wantL2)
	}
}

func TestBuildTopologyEmptyGrid(t *testing.T) {
	g := NewGrid(2, 2, 1)
	topo, err := BuildTopology(g)
	if err != nil {
		t.Fatalf("BuildTopology on empty grid: %v", err)
	}
	if len(topo.Links) != 0 {
		t.Errorf("len(topo.Links) = %d, want 0", len(topo.Links))
	}
}

func TestBuildTopologyMissingNode(t *testing.T) {
	g := NewGrid(1, 1, 1)
	g.Link.Set(1, 0, 0)
	// Node left at 0: link set without a node is a topology error.
	if _, err := BuildTopology(g); err == nil {
		t.Error("BuildTopology with link set but node unset: want error, got nil")
	}
}

func TestDirectionBetween(t *testing.T) {
	tests := []struct {
		r0, c0, r1, c1 int
		want           Direction
	}{
		{1, 1, 0, 1, DirN},
		{1, 1, 1, 2, DirE},
		{1, 1, 2, 1, DirS},
		{1, 1, 1, 0, DirW},
		{1, 1, 5, 5, DirNone}, // not 8-adjacent
	}
	for _, tt := range tests {
		if have := directionBetween(tt.r0, tt.c0, tt.r1, tt.c1); have != tt.want {
			t.Errorf("directionBetween(%d,%d,%d,%d) = %v, want %v", tt.r0, tt.c0, tt.r1, tt.c1, have, tt.want)
		}
	}
}
