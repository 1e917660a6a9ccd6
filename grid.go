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
	"github.com/ctessum/sparse"
)

// MaskValue is the channel-indicator value carried by Grid.Mask.
type MaskValue int

const (
	// NoData marks a cell outside the simulated domain.
	NoData MaskValue = 0
	// OverlandOnly marks a cell with no co-located channel segment.
	OverlandOnly MaskValue = 1
	// OverlandAndChannel marks a cell with a co-located channel segment.
	OverlandAndChannel MaskValue = 2
)

// Grid is the rectangular raster domain: row/column indexing, the nodata
// mask, and the static per-cell rasters that never change during a run.
// Grid is built once at initialization and is read-only for the duration
// of a run, per the ownership rule in the data model.
type Grid struct {
	NRows, NCols int
	// CellSize is the grid spacing (m); cells are square, dx == dy.
	CellSize float64
	// XLLCorner, YLLCorner anchor the grid in a GIS projection, carried
	// through for the optional GeoJSON topology export.
	XLLCorner, YLLCorner float64

	Mask *sparse.DenseArray // MaskValue per cell, stored as float64

	LandUse    *sparse.DenseArray
	SoilType   *sparse.DenseArray
	Elevation  *sparse.DenseArray
	Slope      *sparse.DenseArray
	Depression *sparse.DenseArray // depression storage capacity (m)
	ManningN   *sparse.DenseArray // overland flow resistance coefficient

	// KSat, Psi, ThetaD are the static Green-Ampt parameters (saturated
	// hydraulic conductivity, capillary suction head, moisture deficit)
	// used by both overland infiltration and channel transmission loss.
	KSat, Psi, ThetaD *sparse.DenseArray

	// Link and Node give the (possibly zero) link id and node ordinal
	// bound to each cell, as read from the channel-network input rasters.
	Link *sparse.DenseArray
	Node *sparse.DenseArray
}

// NewGrid allocates a Grid of the given dimensions with all rasters
// zeroed. Callers populate the rasters (typically via ReadASCIIGrid)
// before building topology or run-state.
func NewGrid(nrows, ncols int, cellSize float64) *Grid {
	return &Grid{
		NRows:      nrows,
		NCols:      ncols,
		CellSize:   cellSize,
		Mask:       sparse.ZerosDense(nrows, ncols),
		LandUse:    sparse.ZerosDense(nrows, ncols),
		SoilType:   sparse.ZerosDense(nrows, ncols),
		Elevation:  sparse.ZerosDense(nrows, ncols),
		Slope:      sparse.ZerosDense(nrows, ncols),
		Depression: sparse.ZerosDense(nrows, ncols),
		ManningN:   sparse.ZerosDense(nrows, ncols),
		KSat:       sparse.ZerosDense(nrows, ncols),
		Psi:        sparse.ZerosDense(nrows, ncols),
		ThetaD:     sparse.ZerosDense(nrows, ncols),
		Link:       sparse.ZerosDense(nrows, ncols),
		Node:       sparse.ZerosDense(nrows, ncols),
	}
}

// InBounds reports whether (row, col) is within the grid extent.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.NRows && col >= 0 && col < g.NCols
}

// MaskAt returns the mask value at (row, col).
func (g *Grid) MaskAt(row, col int) MaskValue {
	return MaskValue(g.Mask.Get(row, col))
}

// LinkAt returns the link id at (row, col), or 0 if the cell carries no
// channel segment.
func (g *Grid) LinkAt(row, col int) int {
	return int(g.Link.Get(row, col))
}

// NodeAt returns the node ordinal at (row, col), or 0 if the cell carries
// no channel segment.
func (g *Grid) NodeAt(row, col int) int {
	return int(g.Node.Get(row, col))
}

// Neighbor returns the (row, col) of the cell in compass direction d from
// (row, col), and whether that neighbor lies within the grid.
func (g *Grid) Neighbor(row, col int, d Direction) (nr, nc int, ok bool) {
	dr, dc := d.Offset()
	nr, nc = row+dr, col+dc
	return nr, nc, g.InBounds(nr, nc)
}

// ChannelSurfaceArea returns the top-width surface area of the channel
// segment bound to (row, col), or 0 if the cell has no channel.
// It is used to derive the overland cross-section area
// A_over = w² − A_channel_surface(cell) in the overland depth update.
func ChannelSurfaceArea(n *Node, cellSize float64) float64 {
	if n == nil {
		return 0
	}
	return n.TopWidth * n.ChannelLength
}

// ValidateGeometry checks the Cell/Node geometry invariants from the data
// model: if mask == OverlandAndChannel, the channel top-width area must not
// exceed 0.9·w² and top_width must be >= bottom_width.
func ValidateGeometry(row, col int, cellSize float64, n *Node) error {
	if n == nil {
		return nil
	}
	w2 := cellSize * cellSize
	area := n.TopWidth * n.ChannelLength
	if area > 0.9*w2 {
		return &ParseError{Msg: "channel surface area exceeds 0.9*w^2"}
	}
	if n.TopWidth < n.BottomWidth {
		return &ParseError{Msg: "channel top_width < bottom_width"}
	}
	return nil
}
