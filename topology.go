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
	"sort"
)

// DirNone is a sentinel used by Node.UpDir/DownDir at a headwater first
// node (no upstream neighbor within the same link) where no branch
// applies. It is not a member of the Direction enum proper and must never
// be used to index a per-source workspace array.
const DirNone Direction = -1

// anchor holds the (row, col) of a sentinel neighbor cell used only for
// channel-length calculation at a link's upstream or downstream end,
// standing in for the source model's ichn[ℓ][0] / ichn[ℓ][N+1] elements.
type anchor struct {
	Row, Col int
	Valid    bool
}

// Node is one elementary reach along a link, anchored to one grid cell.
// Node geometry is static and read-only for the duration of a run; dynamic
// state (depth, concentrations) lives in RunState, indexed by (Link, Index).
type Node struct {
	Link  int // owning link id
	Index int // 0-based ordinal; Ordinal() gives the 1-based n used in the data model

	Row, Col int

	BottomWidth   float64
	BankHeight    float64
	SideSlope     float64
	TopWidth      float64
	Sinuosity     float64
	ChannelLength float64 // cell-center-to-cell-center x sinuosity, computed by ComputeChannelLength

	// UpDir/DownDir give the compass direction toward this node's
	// upstream/downstream neighbor within the same link, or DirNone at a
	// headwater first node, or DirBoundary (10) at an outlet last node.
	UpDir, DownDir Direction
}

// Ordinal returns the 1-based node number n used throughout the data model.
func (n *Node) Ordinal() int { return n.Index + 1 }

// Link is a contiguous sequence of channel nodes between two junctions (or
// between a head and a junction, or a junction and an outlet).
type Link struct {
	ID    int
	Nodes []*Node // Nodes[0] is node 1, in ascending node order.

	// UpBranches[0] is the count of upstream branches; UpBranches[d] for
	// d in 1..8 is -1 (none), 0 (domain boundary) or another link's id,
	// keyed by the compass direction of the branch relative to this
	// link's first node.
	UpBranches [9]int
	// DownBranches mirrors UpBranches, relative to this link's last node.
	DownBranches [9]int

	upstreamAnchor   anchor
	downstreamAnchor anchor
}

// UpstreamAnchor returns the (row,col) of the nearest upstream-link last
// node, used for channel-length calculation at this link's first node.
func (l *Link) UpstreamAnchor() (row, col int, ok bool) {
	return l.upstreamAnchor.Row, l.upstreamAnchor.Col, l.upstreamAnchor.Valid
}

// DownstreamAnchor returns the (row,col) of the nearest downstream-link
// first node, used for channel-length calculation at this link's last node.
func (l *Link) DownstreamAnchor() (row, col int, ok bool) {
	return l.downstreamAnchor.Row, l.downstreamAnchor.Col, l.downstreamAnchor.Valid
}

func (l *Link) first() *Node { return l.Nodes[0] }
func (l *Link) last() *Node  { return l.Nodes[len(l.Nodes)-1] }

// Topology is the built channel network: an ordered set of links, each
// with its node list, branch tables and interface directions. It is built
// once at initialization by BuildTopology and is read-only for the
// duration of a run.
type Topology struct {
	Links []*Link
	byID  map[int]*Link

	// byCell maps a (row,col) cell to its bound node, for neighbor lookups
	// during the branch-claiming sweep and for floodplain coupling.
	byCell map[[2]int]*Node
}

// Link looks up a link by id, or returns nil if it does not exist.
func (t *Topology) Link(id int) *Link { return t.byID[id] }

// NodeAt returns the node bound to (row, col), or nil if that cell carries
// no channel segment.
func (t *Topology) NodeAt(row, col int) *Node {
	return t.byCell[[2]int{row, col}]
}

// BuildTopology consumes the link/node rasters carried on g and builds the
// channel network: per-link ordered node lists, upstream/downstream branch
// tables, and per-node interface directions. This is the channel network
// builder of component design 4.1; it also sets g.Mask to
// OverlandAndChannel for every bound cell and computes channel lengths
// (4.2).
func BuildTopology(g *Grid) (*Topology, error) {
	linkNodes := map[int][]*Node{}

	for r := 0; r < g.NRows; r++ {
		for c := 0; c < g.NCols; c++ {
			link := g.LinkAt(r, c)
			node := g.NodeAt(r, c)
			if link <= 0 {
				continue
			}
			if node <= 0 {
				return nil, &TopologyError{Row: r, Col: c, Link: link, Node: node,
					Msg: "cell has link set but node unset"}
			}
			g.Mask.Set(float64(OverlandAndChannel), r, c)
			linkNodes[link] = append(linkNodes[link], &Node{
				Link: link, Row: r, Col: c,
				Sinuosity: 1.0,
			})
		}
	}

	if len(linkNodes) == 0 {
		return &Topology{byID: map[int]*Link{}, byCell: map[[2]int]*Node{}}, nil
	}

	t := &Topology{
		byID:   make(map[int]*Link, len(linkNodes)),
		byCell: make(map[[2]int]*Node),
	}

	ids := make([]int, 0, len(linkNodes))
	for id := range linkNodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		nodes := linkNodes[id]
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Row < nodes[j].Row || (nodes[i].Row == nodes[j].Row && nodes[i].Col < nodes[j].Col) })
		// Node ordinals come from the node raster, not from sort order;
		// re-sort by the actual ordinal recorded on the raster.
		sort.Slice(nodes, func(i, j int) bool {
			return g.NodeAt(nodes[i].Row, nodes[i].Col) < g.NodeAt(nodes[j].Row, nodes[j].Col)
		})
		for i, n := range nodes {
			n.Index = i
			n.UpDir = DirNone
			n.DownDir = DirNone
		}
		l := &Link{ID: id, Nodes: nodes}
		for d := 1; d <= 8; d++ {
			l.UpBranches[d] = -1
			l.DownBranches[d] = -1
		}
		t.Links = append(t.Links, l)
		t.byID[id] = l
		for _, n := range nodes {
			t.byCell[[2]int{n.Row, n.Col}] = n
		}
	}

	// Step 3: descending link-id order, claim upstream branches at each
	// link's first node by scanning its 8-neighborhood.
	claimed := make(map[[2]int]bool)
	for i := len(t.Links) - 1; i >= 0; i-- {
		l := t.Links[i]
		first := l.first()
		for d := Direction(1); d <= 8; d++ {
			nr, nc, ok := g.Neighbor(first.Row, first.Col, d)
			if !ok {
				continue
			}
			neighborLink := g.LinkAt(nr, nc)
			if neighborLink <= 0 || neighborLink >= l.ID {
				continue
			}
			other := t.byID[neighborLink]
			if other == nil {
				continue
			}
			neighborNode := other.last()
			if neighborNode.Row != nr || neighborNode.Col != nc {
				continue // neighbor cell isn't the last node of its link
			}
			if claimed[[2]int{nr, nc}] {
				continue
			}
			claimed[[2]int{nr, nc}] = true

			l.UpBranches[int(d)] = other.ID
			l.UpBranches[0]++
			opp := d.Opposite()
			other.DownBranches[int(opp)] = l.ID
			other.DownBranches[0]++

			l.upstreamAnchor = anchor{Row: nr, Col: nc, Valid: true}
			other.downstreamAnchor = anchor{Row: first.Row, Col: first.Col, Valid: true}

			neighborNode.DownDir = d.Opposite()
			first.UpDir = d
		}
	}

	// Step 4: interior up_dir/down_dir, plus headwater/outlet sentinels.
	for _, l := range t.Links {
		for i, n := range l.Nodes {
			if i > 0 {
				prev := l.Nodes[i-1]
				n.UpDir = directionBetween(n.Row, n.Col, prev.Row, prev.Col)
			}
			if i < len(l.Nodes)-1 {
				next := l.Nodes[i+1]
				n.DownDir = directionBetween(n.Row, n.Col, next.Row, next.Col)
			}
		}
		last := l.last()
		if l.DownBranches[0] == 0 {
			last.DownDir = DirBoundary
		}
	}

	computeChannelLength(g, t)

	return t, nil
}

// directionBetween returns the compass direction from (r0,c0) to the
// 8-adjacent cell (r1,c1).
func directionBetween(r0, c0, r1, c1 int) Direction {
	for d := Direction(1); d <= 8; d++ {
		dr, dc := d.Offset()
		if r0+dr == r1 && c0+dc == c1 {
			return d
		}
	}
	return DirNone
}

// computeChannelLength implements component design 4.2: for each interior
// interface, half-lengths of the upstream and downstream cells are summed
// and scaled by sinuosity.
func computeChannelLength(g *Grid, t *Topology) {
	half := func(axial bool) float64 {
		if axial {
			return 0.5 * g.CellSize
		}
		return 0.5 * math.Sqrt2 * g.CellSize
	}

	for _, l := range t.Links {
		n := len(l.Nodes)
		for i := 0; i < n; i++ {
			node := l.Nodes[i]
			var downDir Direction
			if i < n-1 {
				downDir = node.DownDir
			} else if l.DownBranches[0] > 0 {
				// Exit direction toward the claimed downstream branch.
				for d := Direction(1); d <= 8; d++ {
					if l.DownBranches[int(d)] > 0 {
						downDir = d
						break
					}
				}
			} else if i > 0 {
				// No downstream branch at a junction: copy the exit
				// direction from the previous interior interface.
				downDir = l.Nodes[i-1].DownDir
			} else {
				downDir = node.DownDir
			}

			var upDirNext Direction
			if i < n-1 {
				upDirNext = l.Nodes[i+1].UpDir
			} else {
				upDirNext = downDir
			}

			halfDown := half(downDir.IsCompass() && !downDir.IsDiagonal())
			halfUpNext := half(upDirNext.IsCompass() && !upDirNext.IsDiagonal())

			node.ChannelLength = (halfDown + halfUpNext) * node.Sinuosity
		}
	}
}
