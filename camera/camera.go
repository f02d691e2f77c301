// Package camera provides an orbit camera for viewing the fluid domain.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Radians of rotation per screen pixel dragged.
const Sensitivity = 0.005

// MaxPitch keeps the camera off the poles, where the up vector degenerates.
const MaxPitch = 1.5

// Camera orbits a target point at a given distance.
type Camera struct {
	// Target is the point the camera looks at
	Target mgl32.Vec3

	// Yaw around the vertical axis and pitch above the horizontal plane, in radians
	Yaw, Pitch float32

	// Distance from the target
	Distance float32

	// Zoom constraints
	MinDistance, MaxDistance float32

	homeYaw, homePitch, homeDistance float32
}

// New creates a camera looking at target from a three-quarter view.
func New(target mgl32.Vec3, distance float32) *Camera {
	c := &Camera{
		Target:      target,
		Yaw:         math.Pi / 4,
		Pitch:       math.Pi / 6,
		Distance:    distance,
		MinDistance: distance / 10,
		MaxDistance: distance * 4,
	}
	c.homeYaw, c.homePitch, c.homeDistance = c.Yaw, c.Pitch, c.Distance
	return c
}

// ForDomain frames a box with the given center and half extents.
func ForDomain(center, extents mgl32.Vec3) *Camera {
	radius := extents.Len()
	if radius == 0 {
		radius = 1
	}
	return New(center, radius*2.5)
}

// Position returns the camera location in world coordinates.
func (c *Camera) Position() mgl32.Vec3 {
	sy, cy := math.Sincos(float64(c.Yaw))
	sp, cp := math.Sincos(float64(c.Pitch))
	offset := mgl32.Vec3{float32(cp * sy), float32(sp), float32(cp * cy)}
	return c.Target.Add(offset.Mul(c.Distance))
}

// Forward returns the unit view direction.
func (c *Camera) Forward() mgl32.Vec3 {
	return c.Target.Sub(c.Position()).Normalize()
}

// Rotate orbits by a mouse drag in screen pixels.
func (c *Camera) Rotate(dx, dy float32) {
	c.Yaw = mod(c.Yaw-dx*Sensitivity, 2*math.Pi)
	c.Pitch = clamp(c.Pitch+dy*Sensitivity, -MaxPitch, MaxPitch)
}

// SetDistance sets the distance, clamped to min/max.
func (c *Camera) SetDistance(d float32) {
	c.Distance = clamp(d, c.MinDistance, c.MaxDistance)
}

// ZoomBy moves closer by the given factor (2 halves the distance).
func (c *Camera) ZoomBy(factor float32) {
	if factor <= 0 {
		return
	}
	c.SetDistance(c.Distance / factor)
}

// Reset returns the camera to the view it was created with.
func (c *Camera) Reset() {
	c.Yaw = c.homeYaw
	c.Pitch = c.homePitch
	c.Distance = c.homeDistance
}

// mod computes the positive modulo (Go's % can return negative).
func mod(x, m float32) float32 {
	r := float32(math.Mod(float64(x), float64(m)))
	if r < 0 {
		r += m
	}
	return r
}

// clamp restricts a value to a range.
func clamp(x, min, max float32) float32 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
