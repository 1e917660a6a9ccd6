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

	"github.com/ctessum/atmos/advect"
)

// ErosionOption selects between the shear-excess erosion formulation and
// the capacity-limited alternative (component design 4.4.3).
type ErosionOption int

const (
	// ErosionShearExcess computes erosion from (tau/tce - 1)^m.
	ErosionShearExcess ErosionOption = 3
	// ErosionCapacityLimited computes erosion from the gap between
	// transport capacity and the already-assembled outflow.
	ErosionCapacityLimited ErosionOption = 2
)

// SourceVector is a per-source-index workspace, e.g. the 8 inflowing
// concentrations plus point/floodplain/boundary sources at one cell or
// node for one solids class. It is stack-scoped to a single cell/node
// iteration per the ownership rule in the data model.
type SourceVector [NumSources]float64

// Flux holds the assembled in/out flux workspace for one solids class at
// one cell or node, before and after supply-rule reconciliation.
type Flux struct {
	AdvIn, AdvOut SourceVector
	DspIn, DspOut SourceVector
	ErsOut        float64
	DepOut        float64
}

// AdvectiveFlux implements 4.4.1's per-direction advective flux formulas by
// deriving a single signed interface velocity from dqOut-dqIn and handing it
// to github.com/ctessum/atmos/advect.UpwindFlux, the same upwind-flux
// primitive InMAP's UpwindAdvection (science.go) calls per direction.
// This cell is always upstream of its neighbor when the net flow is
// outgoing, so the primitive's Cm1 (the "negative direction" neighbor) is
// this cell's own concentration and its C is the neighbor's:
//
//	net = dqOut - dqIn; flux = UpwindFlux(net*advectionScale, C_node, C_in, 1)
//	flux > 0: adv_out = flux   (this cell upstream, mass leaving)
//	flux < 0: adv_in  = -flux  (neighbor upstream, mass entering)
//
// which reduces to the textbook dq_in*scale*C_in / dq_out*scale*C_node split
// whenever dqIn and dqOut are mutually exclusive, as the depth-update phase
// always stages them.
func AdvectiveFlux(dqIn, dqOut, advectionScale, cIn, cNode float64) (advIn, advOut float64) {
	net := (dqOut - dqIn) * advectionScale
	flux := advect.UpwindFlux(net, cNode, cIn, 1)
	if flux > 0 {
		return 0, flux
	}
	return -flux, 0
}

// PointSourceFlux implements 4.4.1's k=0 point-source/sink rule: a
// positive load writes to inflow, a negative load writes to outflow.
func PointSourceFlux(load float64) (in, out float64) {
	if load >= 0 {
		return load, 0
	}
	return 0, -load
}

// DispersionCoefficients returns the axial (longitudinal) and transverse
// dispersion coefficients of 4.4.2: E_long = 250*h*u*, E_trans = 0.6*h*u*.
func DispersionCoefficients(h, uStar float64) (eLong, eTrans float64) {
	return 250 * h * uStar, 0.6 * h * uStar
}

// DispersiveFlux implements 4.4.2's bulk dispersive exchange across one
// interface: D = E*A_mix/L_mix*dispersionScale, then split by the sign of
// the concentration gradient cNode-cAdj.
func DispersiveFlux(e, aMix, lMix, dispersionScale, cNode, cAdj float64) (dspIn, dspOut float64) {
	if lMix <= 0 {
		// Arithmetic guard (§7): division by zero on mixing length is
		// replaced by a unit length with zero mixing area, producing
		// zero flux.
		return 0, 0
	}
	d := e * aMix / lMix * dispersionScale
	delta := cNode - cAdj
	if delta > 0 {
		return 0, d * delta
	}
	if delta < 0 {
		return d * -delta, 0
	}
	return 0, 0
}

// ErosionShearExcessRate implements the non-cohesive/cohesive shear-excess
// erosion rate of 4.4.3, in kg/m^2.
func ErosionShearExcessRate(class *SolidsClass, tau, aY, m float64, layer *Layer) float64 {
	if tau <= class.Tce {
		return 0
	}
	ratio := tau/class.Tce - 1
	base := aY / class.ZAge

	switch class.Cncopt {
	case NonCohesive:
		return base * math.Pow(ratio, m)
	case Cohesive:
		if tau <= layer.TauMax {
			return 0
		}
		maxRatio := layer.TauMax/class.Tce - 1
		if maxRatio < 0 {
			maxRatio = 0
		}
		eps := base * (math.Pow(ratio, m) - math.Pow(maxRatio, m))
		layer.TauMax = tau
		if eps < 0 {
			eps = 0
		}
		return eps
	}
	return 0
}

// CapacityLimitedErosionRate implements the alternative erosion regime of
// 4.4.3: erosion fills the gap between transport capacity and the
// transport rate already committed by advective outflow and deposition.
func CapacityLimitedErosionRate(available, dt float64, advOutSum, depositionOut, transcap, aBed float64) float64 {
	transportRate := available/dt - advOutSum - depositionOut
	if transportRate < 0 {
		transportRate = 0
	}
	if transcap <= transportRate {
		return 0
	}
	if aBed <= 0 {
		return 0
	}
	return (transcap - transportRate) * dt / aBed
}

// ErosionFlow converts an erosion rate (kg/m^2) to a volumetric erosion
// flow (m^3/s) and the mass leaving the bed over dt (g), per 4.4.3:
//
//	q_ers = eps * A_bed / (rho_bulk * 1000) / dt, scaled by erosionScale
//	mass  = q_ers * C_surface[s] * dt
func ErosionFlow(eps, aBed, rhoBulk, erosionScale, dt, cSurface float64) (qErs, mass float64) {
	if rhoBulk <= 0 || dt <= 0 {
		return 0, 0
	}
	qErs = eps * aBed / (rhoBulk * 1000) / dt * erosionScale
	mass = qErs * cSurface * dt
	return qErs, mass
}

// DepositionFlux implements 4.4.4's settling flux: dep_out = vs*Asurface*Cwater,
// applied only when tau <= tcd (the default option); callers that choose the
// "always deposit" implementation option may pass tcd = +Inf.
func DepositionFlux(vs, aSurface, cWater, tau, tcd float64) float64 {
	if tau > tcd {
		return 0
	}
	return vs * aSurface * cWater
}

// SupplyRule implements 4.4.5's "potential vs. available" reconciliation:
// if the summed outgoing potential over dt exceeds the available mass in
// the drawn-down reservoir, every outgoing flux from that reservoir is
// scaled down uniformly so the reservoir cannot go negative. When
// potential is 0 no scaling is needed (arithmetic guard, §7).
func SupplyRule(potential, available float64) (scale float64) {
	if available < 0 {
		available = 0
	}
	if potential <= 0 {
		return 1
	}
	if potential > available {
		return available / potential
	}
	return 1
}

// ReconcileReservoir scales every outgoing flux value in outs by the
// supply-rule factor computed from their sum against available, and
// returns the scaled total. It implements steps 1-3 of 4.4.5 for a single
// reservoir (water column or bed surface layer) shared by one or more
// flux categories (advection, dispersion, deposition or erosion) at one
// cell/node for one solids class.
func ReconcileReservoir(dt, available float64, outs ...*float64) (scale float64) {
	var potential float64
	for _, o := range outs {
		potential += *o * dt
	}
	scale = SupplyRule(potential, available)
	if scale < 1 {
		for _, o := range outs {
			*o *= scale
		}
	}
	return scale
}

// WaterColumnAvailable returns the available water-column mass for a
// class, per 4.4.5 step 2: V_water*C_water - dt*dep_out, clamped to >= 0.
func WaterColumnAvailable(vWater, cWater, dt, depOut float64) float64 {
	a := vWater*cWater - dt*depOut
	if a < 0 {
		return 0
	}
	return a
}

// BedSurfaceAvailable returns the available bed-surface-layer mass for a
// class, per 4.4.5 step 2: V_layer_top * C_layer_top, clamped to >= 0.
func BedSurfaceAvailable(vLayerTop, cLayerTop float64) float64 {
	a := vLayerTop * cLayerTop
	if a < 0 {
		return 0
	}
	return a
}

// UpdateReservoirConcentration applies mass accounting to a reservoir
// after reconciliation: (inflow mass - outflow mass) / reservoir volume,
// added to the previous concentration. Returns the new concentration,
// clamped to be non-negative (invariant 1 of the testable properties).
func UpdateReservoirConcentration(cOld, inflowMass, outflowMass, volume float64) float64 {
	if volume <= 0 {
		return cOld
	}
	c := cOld + (inflowMass-outflowMass)/volume
	if c < 0 {
		c = 0
	}
	return c
}
