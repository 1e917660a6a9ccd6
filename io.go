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
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
)

// AsciiGrid is a parsed ESRI ASCII raster: a header plus a row-major value
// array. The header field order (ncols, nrows, xllcorner, yllcorner,
// cellsize, NODATA_value) is fixed by the format, confirmed against the
// original model's own raster reader.
type AsciiGrid struct {
	NCols, NRows         int
	XLLCorner, YLLCorner float64
	CellSize             float64
	NoData               float64
	Values               []float64 // row-major, row 0 is the northernmost row
}

// ReadASCIIGrid parses an ESRI ASCII raster from r.
func ReadASCIIGrid(path string, r io.Reader) (*AsciiGrid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	fields := map[string]float64{}
	order := []string{"ncols", "nrows", "xllcorner", "yllcorner", "cellsize", "nodata_value"}
	line := 0
	for _, want := range order {
		if !sc.Scan() {
			return nil, &ParseError{File: path, Line: line + 1, Msg: "unexpected end of file reading header"}
		}
		line++
		parts := strings.Fields(sc.Text())
		if len(parts) != 2 {
			return nil, &ParseError{File: path, Line: line, Msg: "expected 'name value' header record"}
		}
		key := strings.ToLower(parts[0])
		if key != want {
			return nil, &ParseError{File: path, Line: line, Msg: fmt.Sprintf("expected header field %q, got %q", want, key)}
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, &ParseError{File: path, Line: line, Msg: "non-numeric header value: " + err.Error()}
		}
		fields[key] = v
	}

	g := &AsciiGrid{
		NCols:     int(fields["ncols"]),
		NRows:     int(fields["nrows"]),
		XLLCorner: fields["xllcorner"],
		YLLCorner: fields["yllcorner"],
		CellSize:  fields["cellsize"],
		NoData:    fields["nodata_value"],
	}
	g.Values = make([]float64, g.NRows*g.NCols)

	idx := 0
	for sc.Scan() {
		line++
		for _, tok := range strings.Fields(sc.Text()) {
			if idx >= len(g.Values) {
				return nil, &ParseError{File: path, Line: line, Msg: "more values than ncols*nrows"}
			}
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, &ParseError{File: path, Line: line, Msg: "non-numeric data value: " + err.Error()}
			}
			g.Values[idx] = v
			idx++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{File: path, Msg: err.Error()}
	}
	if idx != len(g.Values) {
		return nil, &ParseError{File: path, Msg: fmt.Sprintf("expected %d data values, found %d", len(g.Values), idx)}
	}
	return g, nil
}

// ReadASCIIGridFile opens path and parses it as an ESRI ASCII raster.
func ReadASCIIGridFile(path string) (*AsciiGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{File: path, Msg: err.Error()}
	}
	defer f.Close()
	return ReadASCIIGrid(path, f)
}

// At returns the value at (row, col), row 0 = northernmost.
func (g *AsciiGrid) At(row, col int) float64 {
	return g.Values[row*g.NCols+col]
}

// WriteASCIIGrid writes g in ESRI ASCII format to w.
func WriteASCIIGrid(w io.Writer, g *AsciiGrid) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", g.NCols)
	fmt.Fprintf(bw, "nrows %d\n", g.NRows)
	fmt.Fprintf(bw, "xllcorner %g\n", g.XLLCorner)
	fmt.Fprintf(bw, "yllcorner %g\n", g.YLLCorner)
	fmt.Fprintf(bw, "cellsize %g\n", g.CellSize)
	fmt.Fprintf(bw, "NODATA_value %g\n", g.NoData)
	for r := 0; r < g.NRows; r++ {
		for c := 0; c < g.NCols; c++ {
			if c > 0 {
				bw.WriteByte(' ')
			}
			fmt.Fprintf(bw, "%g", g.At(r, c))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// LoadGrid assembles a Grid from a set of named ASCII rasters, validating
// that every supplied raster shares the same dimensions and cell size as
// the mask raster (a parse error otherwise, per the data model's
// dimension-consistency rule).
func LoadGrid(mask *AsciiGrid, rasters map[string]*AsciiGrid) (*Grid, error) {
	g := NewGrid(mask.NRows, mask.NCols, mask.CellSize)
	g.XLLCorner, g.YLLCorner = mask.XLLCorner, mask.YLLCorner

	assign := func(name string, dst interface {
		Set(val float64, index ...int)
	}) error {
		src, ok := rasters[name]
		if !ok {
			return nil
		}
		if src.NRows != mask.NRows || src.NCols != mask.NCols || src.CellSize != mask.CellSize {
			return &ParseError{File: name, Msg: "raster dimensions or cell size do not match mask raster"}
		}
		for r := 0; r < mask.NRows; r++ {
			for c := 0; c < mask.NCols; c++ {
				dst.Set(src.At(r, c), r, c)
			}
		}
		return nil
	}

	for r := 0; r < mask.NRows; r++ {
		for c := 0; c < mask.NCols; c++ {
			g.Mask.Set(mask.At(r, c), r, c)
		}
	}

	fields := map[string]interface {
		Set(val float64, index ...int)
	}{
		"landuse": g.LandUse, "soiltype": g.SoilType, "elevation": g.Elevation,
		"slope": g.Slope, "depression": g.Depression, "manningn": g.ManningN,
		"ksat": g.KSat, "psi": g.Psi, "thetad": g.ThetaD,
		"link": g.Link, "node": g.Node,
	}
	for name, dst := range fields {
		if err := assign(name, dst); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ReadTimeSeries parses a two-column whitespace-delimited time/value
// forcing series from r: one "t v" pair per line, t non-decreasing.
func ReadTimeSeries(path string, r io.Reader) (*TimeSeries, error) {
	sc := bufio.NewScanner(r)
	var t, v []float64
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Fields(text)
		if len(parts) != 2 {
			return nil, &ParseError{File: path, Line: line, Msg: "expected 't value' record"}
		}
		tv, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, &ParseError{File: path, Line: line, Msg: "non-numeric time value: " + err.Error()}
		}
		vv, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, &ParseError{File: path, Line: line, Msg: "non-numeric data value: " + err.Error()}
		}
		t = append(t, tv)
		v = append(v, vv)
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{File: path, Msg: err.Error()}
	}
	if len(t) == 0 {
		return nil, &ParseError{File: path, Msg: "time series file contains no records"}
	}
	return NewTimeSeries(t, v), nil
}

// Reporter receives one notification per completed step, for progress
// logging or time-series output of selected cells/nodes/outlets.
type Reporter interface {
	Report(step int, simtime float64, rs *RunState) error
}

// CSVReporter writes one row per step to an underlying CSV writer: a
// depth and, per tracked solids class, a water-column concentration, for
// each of a fixed set of stations. Grounded on the teacher's own plain
// encoding/csv report writer.
type CSVReporter struct {
	w          *csv.Writer
	stations   []Station
	numClasses int
	wroteHead  bool
}

// Station names one reporting location: either an overland cell or a
// channel node (not both).
type Station struct {
	Name     string
	Row, Col int  // overland cell, when Link == 0
	Link     int  // channel node, when non-zero
	Index    int
}

// NewCSVReporter wraps w with a CSVReporter tracking the given stations
// and number of solids classes.
func NewCSVReporter(w io.Writer, stations []Station, numClasses int) *CSVReporter {
	return &CSVReporter{w: csv.NewWriter(w), stations: stations, numClasses: numClasses}
}

func (r *CSVReporter) header() []string {
	h := []string{"step", "simtime"}
	for _, s := range r.stations {
		h = append(h, s.Name+".depth")
		for k := 0; k < r.numClasses; k++ {
			h = append(h, fmt.Sprintf("%s.class%d.conc", s.Name, k))
		}
	}
	return h
}

// Report implements Reporter.
func (r *CSVReporter) Report(step int, simtime float64, rs *RunState) error {
	if !r.wroteHead {
		if err := r.w.Write(r.header()); err != nil {
			return err
		}
		r.wroteHead = true
	}

	row := []string{strconv.Itoa(step), strconv.FormatFloat(simtime, 'g', -1, 64)}
	for _, s := range r.stations {
		var depth float64
		var stack *SedimentStack
		if s.Link == 0 {
			if c := rs.Cell(s.Row, s.Col); c != nil {
				depth = c.H
				stack = c.Sediment
			}
		} else {
			if l := rs.Topology.Link(s.Link); l != nil && s.Index < len(l.Nodes) {
				if ns := rs.Node(l.Nodes[s.Index]); ns != nil {
					depth = ns.H
					stack = ns.Sediment
				}
			}
		}
		row = append(row, strconv.FormatFloat(depth, 'g', -1, 64))
		for k := 0; k < r.numClasses; k++ {
			var c float64
			if stack != nil && k < len(stack.WaterColumn) {
				c = stack.WaterColumn[k]
			}
			row = append(row, strconv.FormatFloat(c, 'g', -1, 64))
		}
	}
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

// geoFeature is a minimal GeoJSON Feature: the vendored geojson package
// this is built on encodes bare geometries only (ToGeoJSON), so the
// Feature/FeatureCollection envelope is assembled by hand around it.
type geoFeature struct {
	Type       string                 `json:"type"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoFeatureCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

// cellCenter returns the GIS coordinate of the center of grid cell
// (row, col), row 0 northernmost, matching AsciiGrid.At's row convention.
func cellCenter(g *Grid, row, col int) geom.Point {
	x := g.XLLCorner + (float64(col)+0.5)*g.CellSize
	y := g.YLLCorner + (float64(g.NRows-row)-0.5)*g.CellSize
	return geom.Point{X: x, Y: y}
}

// TopologyGeoJSON renders a built channel network and its outlets as a
// GeoJSON FeatureCollection for inspection in a GIS viewer: one LineString
// feature per link with at least two nodes (its nodes' cell centers, in
// order; single-node links get no feature) and one Point feature per
// outlet, grounded on github.com/ctessum/geom's Point/
// LineString types and github.com/ctessum/geom/encoding/geojson's encoder.
func TopologyGeoJSON(g *Grid, topo *Topology, outlets []*Outlet) ([]byte, error) {
	fc := geoFeatureCollection{Type: "FeatureCollection"}

	for _, l := range topo.Links {
		pts := make(geom.LineString, 0, len(l.Nodes))
		for _, n := range l.Nodes {
			pts = append(pts, cellCenter(g, n.Row, n.Col))
		}
		if len(pts) < 2 {
			continue
		}
		geometry, err := geojson.ToGeoJSON(pts)
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, geoFeature{
			Type:     "Feature",
			Geometry: geometry,
			Properties: map[string]interface{}{
				"link":  l.ID,
				"nodes": len(l.Nodes),
			},
		})
	}

	for _, o := range outlets {
		geometry, err := geojson.ToGeoJSON(cellCenter(g, o.Row, o.Col))
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, geoFeature{
			Type:     "Feature",
			Geometry: geometry,
			Properties: map[string]interface{}{
				"link": o.Link,
			},
		})
	}

	return json.MarshalIndent(fc, "", "  ")
}

// FinalStateGrids renders the end-of-run overland depth and, per tracked
// solids class, water-column concentration as ASCII grids (spec.md §6's
// end-of-run raster dump), nil at masked-out cells' NODATA value so the
// output overlays cleanly on the input rasters in a GIS viewer.
func FinalStateGrids(rs *RunState) map[string]*AsciiGrid {
	g := rs.Grid
	const noData = -9999.0

	newGrid := func() *AsciiGrid {
		ag := &AsciiGrid{
			NCols: g.NCols, NRows: g.NRows,
			XLLCorner: g.XLLCorner, YLLCorner: g.YLLCorner,
			CellSize: g.CellSize, NoData: noData,
			Values: make([]float64, g.NRows*g.NCols),
		}
		for i := range ag.Values {
			ag.Values[i] = noData
		}
		return ag
	}

	out := map[string]*AsciiGrid{"depth": newGrid()}
	for k := range rs.Classes {
		out[fmt.Sprintf("class%d_conc", k)] = newGrid()
	}

	for r := 0; r < g.NRows; r++ {
		for c := 0; c < g.NCols; c++ {
			cell := rs.Cell(r, c)
			if cell == nil {
				continue
			}
			out["depth"].Values[r*g.NCols+c] = cell.H
			for k := range rs.Classes {
				out[fmt.Sprintf("class%d_conc", k)].Values[r*g.NCols+c] = cell.Sediment.WaterColumn[k]
			}
		}
	}
	return out
}

// WriteFinalState writes every grid returned by FinalStateGrids to
// "<dir>/<name>.asc".
func WriteFinalState(dir string, rs *RunState) error {
	for name, ag := range FinalStateGrids(rs) {
		path := dir + string(os.PathSeparator) + name + ".asc"
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = WriteASCIIGrid(f, ag)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
