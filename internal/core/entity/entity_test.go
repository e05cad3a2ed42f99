package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentMap_RoundTrip(t *testing.T) {
	t.Run("Recognized Keys", func(t *testing.T) {
		in := ComponentMap{
			Transform: &Transform{
				Position: Vector3{X: 1, Y: 2, Z: 3},
				Rotation: IdentityQuaternion(),
				Scale:    Vector3{X: 1, Y: 1, Z: 1},
			},
			Physics: &Physics{Mass: 2, Shape: ShapeBox, Dimensions: Vector3{X: 1, Y: 1, Z: 1}},
			RoomID:  "r1",
			OwnerID: "u1",
		}

		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out ComponentMap
		require.NoError(t, json.Unmarshal(data, &out))
		require.Equal(t, in.Transform, out.Transform)
		require.Equal(t, in.Physics, out.Physics)
		require.Equal(t, "r1", out.RoomID)
		require.Equal(t, "u1", out.OwnerID)
	})

	t.Run("Unknown Keys Preserved", func(t *testing.T) {
		raw := []byte(`{"roomId":"r1","health":{"current":80,"max":100}}`)

		var c ComponentMap
		require.NoError(t, json.Unmarshal(raw, &c))
		require.Equal(t, "r1", c.RoomID)
		require.Contains(t, c.Extra, "health")

		data, err := json.Marshal(c)
		require.NoError(t, err)
		require.JSONEq(t, string(raw), string(data))
	})
}

func TestEntity_Apply(t *testing.T) {
	base := func() Entity {
		return Entity{
			ID:   "e1",
			Type: "box",
			Components: ComponentMap{
				Transform: &Transform{
					Position: Vector3{X: 0, Y: 10, Z: 0},
					Rotation: IdentityQuaternion(),
					Scale:    Vector3{X: 1, Y: 1, Z: 1},
				},
				RoomID:  "r1",
				OwnerID: "u1",
			},
		}
	}

	t.Run("Component Key Replaced Wholesale", func(t *testing.T) {
		e := base()
		patch := Patch{
			ID: "e1",
			Components: map[string]json.RawMessage{
				"transform": json.RawMessage(`{"position":{"x":0,"y":5,"z":0}}`),
			},
		}
		require.NoError(t, e.Apply(patch))

		require.Equal(t, 5.0, e.Components.Transform.Position.Y)
		// The transform key is replaced as a whole, not merged recursively.
		require.Equal(t, Vector3{}, e.Components.Transform.Scale)
		// Keys not named by the patch are untouched.
		require.Equal(t, "u1", e.Components.OwnerID)
		require.Equal(t, "r1", e.Components.RoomID)
		require.Equal(t, "box", e.Type)
		require.NotNil(t, e.UpdatedAt)
	})

	t.Run("Top Level Shallow Merge", func(t *testing.T) {
		e := base()
		typ := "crate"
		require.NoError(t, e.Apply(Patch{ID: "e1", Type: &typ, Tags: []string{"static"}}))
		require.Equal(t, "crate", e.Type)
		require.Equal(t, []string{"static"}, e.Tags)
		require.NotNil(t, e.Components.Transform)
	})

	t.Run("Nil Fields Leave Values", func(t *testing.T) {
		e := base()
		require.NoError(t, e.Apply(Patch{ID: "e1"}))
		require.Equal(t, "box", e.Type)
		require.Equal(t, 10.0, e.Components.Transform.Position.Y)
	})
}

func TestEntity_Clone(t *testing.T) {
	e := Entity{
		ID: "e1",
		Components: ComponentMap{
			Transform: &Transform{Position: Vector3{Y: 10}},
			Extra:     map[string]json.RawMessage{"score": json.RawMessage(`1`)},
		},
		Tags: []string{"a"},
	}

	c := e.Clone()
	c.Components.Transform.Position.Y = 0
	c.Components.Extra["score"] = json.RawMessage(`2`)
	c.Tags[0] = "b"

	require.Equal(t, 10.0, e.Components.Transform.Position.Y)
	require.Equal(t, json.RawMessage(`1`), e.Components.Extra["score"])
	require.Equal(t, "a", e.Tags[0])
}
