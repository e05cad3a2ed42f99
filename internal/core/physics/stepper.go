package physics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/store"
	"github.com/aethersync/aethersync/pkg/concurrent"
)

// Stepper advances each room's simulation by one fixed step per tick, reading
// and writing the serialized body list under the room's physics cache key.
type Stepper struct {
	cache   store.Cache
	logger  log.Log
	workers int
}

func NewStepper(cache store.Cache, workers int, logger log.Log) *Stepper {
	if workers < 1 {
		workers = 1
	}
	return &Stepper{
		cache:   cache,
		workers: workers,
		logger:  logger.With(log.String("component", "physics")),
	}
}

// ProcessRooms steps every room in parallel. Rooms have no shared state, so
// the only serialization point is each room's own cache key.
func (s *Stepper) ProcessRooms(ctx context.Context, roomIDs []string) error {
	return concurrent.ForEachLimit(ctx, roomIDs, s.workers, s.ProcessRoom)
}

// ProcessRoom loads the room's body descriptors, steps a fresh world by
// exactly one fixed timestep, and writes the resulting descriptors back.
func (s *Stepper) ProcessRoom(ctx context.Context, roomID string) error {
	key := store.PhysicsKey(roomID)

	blob, err := s.cache.Get(ctx, key)
	if err == store.ErrCacheMiss {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load physics state %s: %w", roomID, err)
	}

	bodies, err := decodeBodies(blob)
	if err != nil {
		return fmt.Errorf("decode physics state %s: %w", roomID, err)
	}
	if len(bodies) == 0 {
		return nil
	}

	world := NewWorld()
	for _, b := range bodies {
		world.AddBody(b)
	}
	world.Step(FixedTimeStep)

	out, err := json.Marshal(world.Bodies())
	if err != nil {
		return fmt.Errorf("encode physics state %s: %w", roomID, err)
	}
	if err = s.cache.Set(ctx, key, string(out)); err != nil {
		return fmt.Errorf("store physics state %s: %w", roomID, err)
	}
	return nil
}

func decodeBodies(blob string) ([]Body, error) {
	if blob == "" {
		return nil, nil
	}
	var bodies []Body
	if err := json.Unmarshal([]byte(blob), &bodies); err != nil {
		return nil, err
	}
	return bodies, nil
}
