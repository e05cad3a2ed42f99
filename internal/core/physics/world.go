package physics

import (
	"github.com/aethersync/aethersync/internal/core/entity"
)

const (
	// FixedTimeStep is the simulation step advanced per tick, independent of
	// the configured tick rate or actual elapsed time.
	FixedTimeStep = 1.0 / 60.0

	// GravityY is applied to every dynamic body.
	GravityY = -9.82

	defaultMass = 1.0
)

// Body is the serialized rigid-body descriptor stored under a room's physics
// key. Velocity is intentionally absent: only position and orientation cross
// the wire, so every tick rebuilds its bodies at rest. Momentum is therefore
// not carried across ticks; a body under gravity alone does not move, because
// positions integrate from the pre-step velocity of zero. Known limitation,
// kept for compatibility with existing room state.
type Body struct {
	ID         string            `json:"id"`
	Position   entity.Vector3    `json:"position"`
	Quaternion entity.Quaternion `json:"quaternion"`
}

type rigidBody struct {
	id          string
	position    entity.Vector3
	velocity    entity.Vector3
	orientation entity.Quaternion
	mass        float64
}

// World is a rigid-body simulation for a single room. There is no cross-room
// interaction; each room's world is constructed, stepped once, and discarded.
type World struct {
	gravity entity.Vector3
	bodies  []*rigidBody
}

func NewWorld() *World {
	return &World{gravity: entity.Vector3{Y: GravityY}}
}

// AddBody instantiates a unit-mass dynamic body at the descriptor's last
// known position and orientation, with zero initial velocity.
func (w *World) AddBody(b Body) {
	w.bodies = append(w.bodies, &rigidBody{
		id:          b.ID,
		position:    b.Position,
		orientation: b.Quaternion,
		mass:        defaultMass,
	})
}

// Step advances the world by dt seconds using explicit Euler integration:
// positions move by the pre-step velocity, then gravity updates velocities.
func (w *World) Step(dt float64) {
	for _, b := range w.bodies {
		b.position = b.position.Add(b.velocity.Scale(dt))
		b.velocity = b.velocity.Add(w.gravity.Scale(dt))
	}
}

// Bodies serializes the current body states back to wire descriptors.
func (w *World) Bodies() []Body {
	out := make([]Body, len(w.bodies))
	for i, b := range w.bodies {
		out[i] = Body{ID: b.id, Position: b.position, Quaternion: b.orientation}
	}
	return out
}
