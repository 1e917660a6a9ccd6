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

// Package dwsmutil wires the dwsm command tree to a viper-backed
// configuration object, mirroring inmaputil's Cfg/cmd.go split: Cfg holds
// the parsed TOML configuration and the cobra command tree, and the
// subcommands in cmd.go translate that configuration into calls against
// the root dwsm package.
package dwsmutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dwsm-go/dwsm"
)

// RunConfig is the fully-resolved, validated configuration for one `run`
// invocation: raster paths, solids class table, outlet table, time
// stepping, and the reporting station list that the distilled spec
// leaves as an externally-supplied deck (spec.md §6).
type RunConfig struct {
	MaskFile string
	Rasters  map[string]string // raster name -> file path, e.g. "elevation" -> "elev.asc"

	RainFile string
	SnowFile string
	SnowOpt  dwsm.SnowOption

	Classes []*dwsm.SolidsClass
	Outlets []*dwsm.Outlet

	PointSources []PointSourceConfig

	Dt       float64
	Duration float64

	Stations []dwsm.Station

	OutputFile    string
	LogFile       string
	FinalStateDir string // optional; end-of-run depth/concentration ASCII grid dump
}

// PointSourceConfig names one point source/sink (4.4.1): either an
// overland cell (Row/Col, Link == 0) or a channel node (Link != 0, Index),
// plus the flow and per-class load time-series files backing it. LoadFiles
// is indexed the same way as the Classes table; an empty entry leaves that
// class's load unset.
type PointSourceConfig struct {
	Row, Col    int
	Link, Index int

	FlowFile  string
	LoadFiles []string
	Option    dwsm.LoadOption
}

// checkOutputFile makes sure an output file path is non-empty and its
// parent directory exists, expanding environment variables, mirroring
// inmaputil's checkOutputFile.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf("dwsm: you need to specify an OutputFile configuration variable")
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("dwsm: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default log file path derived from the output
// file when one isn't specified, mirroring inmaputil's checkLogFile.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		ext := filepath.Ext(outputFile)
		logFile = outputFile[:len(outputFile)-len(ext)] + ".log"
	}
	return logFile
}

// VarGridConfig reads and validates the raster/solids-class/outlet
// configuration out of cfg, the way inmaputil.VarGridConfig validates
// cfg into an inmap.VarGridConfig.
func VarGridConfig(cfg *Cfg) (*RunConfig, error) {
	rc := &RunConfig{
		MaskFile: cfg.GetString("MaskFile"),
		RainFile: cfg.GetString("RainFile"),
		SnowFile: cfg.GetString("SnowFile"),
		SnowOpt:  dwsm.SnowOption(cfg.GetInt("SnowOpt")),
		Dt:       cfg.GetFloat64("Dt"),
		Duration: cfg.GetFloat64("Duration"),
		Rasters:  map[string]string{},
	}
	if rc.MaskFile == "" {
		return nil, fmt.Errorf("dwsm: MaskFile configuration variable is required")
	}
	if rc.Dt <= 0 {
		return nil, fmt.Errorf("dwsm: Dt configuration variable must be positive")
	}

	for _, name := range []string{"LandUse", "SoilType", "Elevation", "Slope", "Depression",
		"ManningN", "KSat", "Psi", "ThetaD", "Link", "Node"} {
		if p := cfg.GetString(name + "File"); p != "" {
			rc.Rasters[strings.ToLower(name)] = p
		}
	}

	if err := cfg.UnmarshalKey("PointSources", &rc.PointSources); err != nil {
		return nil, fmt.Errorf("dwsm: could not parse PointSources configuration: %v", err)
	}
	if err := cfg.UnmarshalKey("Classes", &rc.Classes); err != nil {
		return nil, fmt.Errorf("dwsm: could not parse Classes configuration: %v", err)
	}
	if err := cfg.UnmarshalKey("Outlets", &rc.Outlets); err != nil {
		return nil, fmt.Errorf("dwsm: could not parse Outlets configuration: %v", err)
	}
	if err := cfg.UnmarshalKey("Stations", &rc.Stations); err != nil {
		return nil, fmt.Errorf("dwsm: could not parse Stations configuration: %v", err)
	}

	outputFile, err := checkOutputFile(cfg.GetString("OutputFile"))
	if err != nil {
		return nil, err
	}
	rc.OutputFile = outputFile
	rc.LogFile = checkLogFile(cfg.GetString("LogFile"), outputFile)
	rc.FinalStateDir = cfg.GetString("FinalStateDir")

	return rc, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
