package entity

import (
	"encoding/json"
	"time"
)

// Shape enumerates the collision shapes recognized by the physics component.
type Shape string

const (
	ShapeBox      Shape = "box"
	ShapeSphere   Shape = "sphere"
	ShapeCylinder Shape = "cylinder"
)

// Transform holds position, orientation and scale.
type Transform struct {
	Position Vector3    `json:"position"`
	Rotation Quaternion `json:"rotation"`
	Scale    Vector3    `json:"scale"`
}

// Physics describes a rigid body attached to an entity.
type Physics struct {
	Mass       float64 `json:"mass"`
	Shape      Shape   `json:"shape"`
	Dimensions Vector3 `json:"dimensions"`
}

// ComponentMap is an open map of components. The recognized keys are decoded
// into typed fields; everything else is carried opaquely in Extra so newer
// clients can round-trip components this server does not understand.
type ComponentMap struct {
	Transform *Transform
	Physics   *Physics
	RoomID    string
	OwnerID   string
	Extra     map[string]json.RawMessage
}

const (
	keyTransform = "transform"
	keyPhysics   = "physics"
	keyRoomID    = "roomId"
	keyOwnerID   = "ownerId"
)

func (c ComponentMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+4)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Transform != nil {
		raw, err := json.Marshal(c.Transform)
		if err != nil {
			return nil, err
		}
		out[keyTransform] = raw
	}
	if c.Physics != nil {
		raw, err := json.Marshal(c.Physics)
		if err != nil {
			return nil, err
		}
		out[keyPhysics] = raw
	}
	if c.RoomID != "" {
		raw, _ := json.Marshal(c.RoomID)
		out[keyRoomID] = raw
	}
	if c.OwnerID != "" {
		raw, _ := json.Marshal(c.OwnerID)
		out[keyOwnerID] = raw
	}
	return json.Marshal(out)
}

func (c *ComponentMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ComponentMap{}
	for k, v := range raw {
		if err := c.setKey(k, v); err != nil {
			return err
		}
	}
	return nil
}

// setKey assigns one component key, decoding recognized keys into their typed
// fields and preserving anything else verbatim.
func (c *ComponentMap) setKey(key string, val json.RawMessage) error {
	switch key {
	case keyTransform:
		t := new(Transform)
		if err := json.Unmarshal(val, t); err != nil {
			return err
		}
		c.Transform = t
	case keyPhysics:
		p := new(Physics)
		if err := json.Unmarshal(val, p); err != nil {
			return err
		}
		c.Physics = p
	case keyRoomID:
		if err := json.Unmarshal(val, &c.RoomID); err != nil {
			return err
		}
	case keyOwnerID:
		if err := json.Unmarshal(val, &c.OwnerID); err != nil {
			return err
		}
	default:
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[key] = val
	}
	return nil
}

// Entity is a uniquely identified, typed bag of components synchronized
// across the session.
type Entity struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Components ComponentMap `json:"components"`
	Tags       []string     `json:"tags,omitempty"`
	CreatedAt  *time.Time   `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time   `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy safe to mutate independently.
func (e Entity) Clone() Entity {
	out := e
	if e.Components.Transform != nil {
		t := *e.Components.Transform
		out.Components.Transform = &t
	}
	if e.Components.Physics != nil {
		p := *e.Components.Physics
		out.Components.Physics = &p
	}
	if e.Components.Extra != nil {
		extra := make(map[string]json.RawMessage, len(e.Components.Extra))
		for k, v := range e.Components.Extra {
			extra[k] = v
		}
		out.Components.Extra = extra
	}
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	return out
}

// Patch is a partial entity update. Nil fields leave the current value
// untouched. Component keys are replaced wholesale, one key at a time; keys
// absent from the patch are preserved.
type Patch struct {
	ID         string                     `json:"id"`
	Type       *string                    `json:"type,omitempty"`
	Tags       []string                   `json:"tags,omitempty"`
	Components map[string]json.RawMessage `json:"components,omitempty"`
}

// Apply merges the patch into e: shallow merge at the top level, key-by-key
// replacement inside components. Nested objects are not merged recursively.
func (e *Entity) Apply(p Patch) error {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Tags != nil {
		e.Tags = append([]string(nil), p.Tags...)
	}
	for k, v := range p.Components {
		if err := e.Components.setKey(k, v); err != nil {
			return err
		}
	}
	now := time.Now()
	e.UpdatedAt = &now
	return nil
}
