package solver

import "math"

// DensityEpsilon is the smallest density the force kernel divides by.
const DensityEpsilon = 1e-4

// DensityKernel is the normalized spiky kernel 15/(2πh⁵)·(h-d)² for d < h.
func DensityKernel(d, h float32) float32 {
	if d >= h {
		return 0
	}
	v := h - d
	return v * v * float32(15/(2*math.Pi)) / pow5(h)
}

// DensityDerivative is dW/dd of DensityKernel, negative inside the support.
func DensityDerivative(d, h float32) float32 {
	if d >= h {
		return 0
	}
	return -(h - d) * float32(15/math.Pi) / pow5(h)
}

// ViscosityKernel is the normalized poly6 kernel 315/(64πh⁹)·(h²-d²)³.
func ViscosityKernel(d, h float32) float32 {
	if d >= h {
		return 0
	}
	v := h*h - d*d
	h3 := h * h * h
	return v * v * v * float32(315/(64*math.Pi)) / (h3 * h3 * h3)
}

// SelfDensity is the density of a particle with no neighbors: its own mass
// weighted by DensityKernel at zero distance.
func SelfDensity(mass, h float32) float32 {
	return mass * float32(15/(2*math.Pi)) / (h * h * h)
}

func pow5(h float32) float32 {
	h2 := h * h
	return h2 * h2 * h
}
