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

	"gonum.org/v1/gonum/floats"
)

const gravity = 9.81 // m/s^2

// SnowOption selects whether and how snow accumulation/melt is modeled.
// snowopt in {1,2,3} enable the snow interception analog; 0 disables it,
// per design notes §9 ("treat as unimplemented capability flags that
// refuse to activate unless explicitly requested").
type SnowOption int

const (
	SnowOff SnowOption = 0
	SnowOn1 SnowOption = 1
	SnowOn2 SnowOption = 2
	SnowOn3 SnowOption = 3
)

// InterceptionResult is the outcome of one interception-debit calculation.
type InterceptionResult struct {
	NetRate float64 // m/s passed through to the depth update
	Debit   float64 // m depth removed from the remaining capacity this step
}

// InterceptionDebit implements component design 4.3's interception rule,
// applied identically to rainfall (against InterceptRemaining) and, when
// snowOpt != SnowOff, to snowfall (against SnowRemaining).
func InterceptionDebit(grossRate, remaining, dt float64) InterceptionResult {
	if remaining <= 0 {
		return InterceptionResult{NetRate: grossRate, Debit: 0}
	}
	if grossRate*dt >= remaining {
		return InterceptionResult{
			NetRate: grossRate - remaining/dt,
			Debit:   remaining,
		}
	}
	return InterceptionResult{NetRate: 0, Debit: grossRate * dt}
}

// OverlandAreaFrac returns the overland cross-section area of a cell,
// A_over = w^2 - A_channel_surface(cell).
func OverlandAreaFrac(cellSize float64, n *Node) float64 {
	w2 := cellSize * cellSize
	if n == nil {
		return w2
	}
	a := n.TopWidth * n.ChannelLength
	if a > w2 {
		a = w2
	}
	return w2 - a
}

// UpdateOverlandDepth implements the overland depth update of 4.3:
//
//	derivative = netrain - infiltration + snowmelt + dq_overland/A_over
//	h_new = h + derivative * dt
//
// Values within TOLERANCE of zero are clamped to zero; values further
// negative are reported via the returned error.
func UpdateOverlandDepth(h, netRain, infiltration, snowmelt, dqOverland, aOver, dt float64) (float64, error) {
	if aOver <= 0 {
		aOver = 1
	}
	derivative := netRain - infiltration + snowmelt + dqOverland/aOver
	hNew := h + derivative*dt
	clamped, ok := clampDepth(hNew)
	if !ok {
		return h, &InstabilityError{Field: "h_overland", Value: hNew}
	}
	return clamped, nil
}

// UpdateSWE is the snow-water-equivalent analog of UpdateOverlandDepth:
// derivative = netswe - swemelt.
func UpdateSWE(swe, netSWE, sweMelt, dt float64) (float64, error) {
	hNew := swe + (netSWE-sweMelt)*dt
	clamped, ok := clampDepth(hNew)
	if !ok {
		return swe, &InstabilityError{Field: "swe", Value: hNew}
	}
	return clamped, nil
}

// UpdateChannelDepth implements the channel depth update of 4.3:
//
//	h_new = h + dt*(net_channel_flow + external_load - transmission_loss_flow + floodplain_transfer) / dxStation
func UpdateChannelDepth(h, netChannelFlow, externalLoad, transmissionLossFlow, floodplainTransfer, dxStation, dt float64) (float64, error) {
	if dxStation <= 0 {
		dxStation = 1
	}
	derivative := (netChannelFlow + externalLoad - transmissionLossFlow + floodplainTransfer) / dxStation
	hNew := h + derivative*dt
	clamped, ok := clampDepth(hNew)
	if !ok {
		return h, &InstabilityError{Field: "h_channel", Value: hNew}
	}
	return clamped, nil
}

// GreenAmpt computes the Green-Ampt infiltration (or transmission-loss)
// rate for one step, per component design 4.3:
//
//	rate = ((kh*dt - 2F) + sqrt((kh*dt-2F)^2 + 8*kh*(F+(h+psi)*thetaD)*dt)) / (2*dt)
//
// capped so that rate*dt <= h (the rate cannot draw down more water than is
// ponded). kh is saturated hydraulic conductivity, psi is capillary
// suction head, thetaD is moisture deficit, h is ponded head, F is
// cumulative infiltration depth at the start of the step.
func GreenAmpt(kh, psi, thetaD, h, f, dt float64) (rate, newF float64) {
	suctionTerm := (h + psi) * thetaD
	a := kh*dt - 2*f
	disc := a*a + 8*kh*(f+suctionTerm)*dt
	if disc < 0 {
		disc = 0
	}
	rate = (a + math.Sqrt(disc)) / (2 * dt)
	if rate < 0 {
		rate = 0
	}
	if cap := h / dt; rate > cap {
		rate = cap
	}
	newF = f + rate*dt
	return rate, newF
}

// HydraulicGeometry describes the trapezoid-plus-rectangular-cap channel
// cross section used for shear stress and erosion calculations.
type HydraulicGeometry struct {
	BottomWidth float64
	BankHeight  float64
	SideSlope   float64
	TopWidth    float64
}

// CrossSection returns the wetted cross-section area and wetted perimeter
// for depth h against a trapezoidal channel with a rectangular cap above
// bank height (overflow onto the floodplain uses the cap's full top
// width).
func (g HydraulicGeometry) CrossSection(h float64) (area, perimeter float64) {
	if h <= 0 {
		return 0, 0
	}
	if h <= g.BankHeight {
		area = h * (g.BottomWidth + g.SideSlope*h)
		sideLen := h * math.Sqrt(1+g.SideSlope*g.SideSlope)
		perimeter = g.BottomWidth + 2*sideLen
		return area, perimeter
	}
	// Trapezoid up to bank height, plus a rectangular cap of TopWidth above it.
	bankArea := g.BankHeight * (g.BottomWidth + g.SideSlope*g.BankHeight)
	capHeight := h - g.BankHeight
	area = bankArea + capHeight*g.TopWidth
	sideLen := g.BankHeight * math.Sqrt(1+g.SideSlope*g.SideSlope)
	perimeter = g.BottomWidth + 2*sideLen + 2*capHeight
	return area, perimeter
}

// HydraulicRadius returns A/P, or 0 if P is 0.
func HydraulicRadius(area, perimeter float64) float64 {
	if perimeter <= 0 {
		return 0
	}
	return area / perimeter
}

// OverlandHydraulicRadius treats the overland cell as a very wide sheet
// flow, for which R_h reduces to the water depth.
func OverlandHydraulicRadius(h float64) float64 {
	return h
}

// FrictionSlope combines the 4 axial-direction slope components into a
// single friction slope: S_f = sqrt(sum(component^2)).
func FrictionSlope(components [4]float64) float64 {
	var sumSq float64
	for _, s := range components {
		sumSq += s * s
	}
	return math.Sqrt(sumSq)
}

// ShearStress returns tau = rho*g*Rh*Sf and the friction velocity
// u* = sqrt(g*Rh*Sf).
func ShearStress(rh, sf float64) (tau, uStar float64) {
	tau = waterDensity * gravity * rh * sf
	uStar = math.Sqrt(gravity * rh * sf)
	return tau, uStar
}

// OverlandFlowRate computes the diffusive-kinematic cell-to-cell routing
// flow (m^3/s) between two adjacent overland cells, per the non-goal that
// rules out a full 2-D momentum solver: conveyance follows Manning's
// equation with sheet-flow geometry (A = width*h, R = h), and the driving
// slope is the head-gradient between the two cells (diffusive) rather
// than the bed slope alone (kinematic), so backwater and ponding are
// represented without solving the full shallow-water equations.
func OverlandFlowRate(hUp, zUp, hDown, zDown, manningN, width, dx float64) float64 {
	if manningN <= 0 || dx <= 0 {
		return 0
	}
	headUp := zUp + hUp
	headDown := zDown + hDown
	sf := (headUp - headDown) / dx
	upstream := hUp
	if sf < 0 {
		sf = -sf
		upstream = hDown
	}
	if upstream <= 0 || sf <= 0 {
		return 0
	}
	area := width * upstream
	r := OverlandHydraulicRadius(upstream)
	q := (1 / manningN) * area * math.Pow(r, 2.0/3.0) * math.Sqrt(sf)
	if headUp < headDown {
		return -q
	}
	return q
}

// GrainShearOption enables the optional grain-shear partitioning of 4.3
// (erschopt > 1). Disabled by default per design notes §9.
type GrainShearOption int

const (
	GrainShearOff GrainShearOption = 0
	GrainShearOn  GrainShearOption = 1
)

// D50FromSurfaceLayer computes the mass-weighted mean particle diameter of
// the surface bed layer, defaulting to 1 mm when the layer is empty.
func D50FromSurfaceLayer(layer *Layer, classes []*SolidsClass) float64 {
	if layer == nil || layer.Total <= 0 {
		return 1e-3
	}
	n := len(layer.C)
	if n > len(classes) {
		n = len(classes)
	}
	c := layer.C[:n]
	d := make([]float64, n)
	for s := range d {
		d[s] = classes[s].Ds
	}
	mass := floats.Sum(c)
	if mass <= 0 {
		return 1e-3
	}
	return floats.Dot(d, c) / mass
}

// GrainPartitionedShear implements the optional grain-shear partitioning of
// 4.3 for channel nodes when erschopt > 1.
func GrainPartitionedShear(tau, h, d50 float64) float64 {
	if h <= 0 {
		return 0
	}
	fGrain := 0.32 * math.Cbrt(d50/h)
	delta := 2.5 * math.Pow(h, 0.7) * math.Pow(d50, 0.3)
	lambda := math.Min(6.5*h, 1000.0)
	ratio := fGrain / (fGrain + delta/lambda)
	if ratio > 1 {
		ratio = 1
	}
	return tau * ratio
}
