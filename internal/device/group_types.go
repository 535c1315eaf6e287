package device

import "time"

// Sort-order bounds. Out-of-range values are clamped, not rejected, so a
// sloppy admin client can never wedge a group into an unsortable state.
const (
	// MinSortOrder is the lowest permitted group sort order.
	MinSortOrder = 0

	// MaxSortOrder is the highest permitted group sort order.
	MaxSortOrder = 1_000_000_000
)

// Group is a named collection of devices sharing layered settings.
//
// A device may belong to any number of groups. When settings are resolved,
// groups apply in ascending SortOrder; later groups win ties on a key.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Settings    Settings  `json:"settings"`
	SortOrder   int64     `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupPatch is a partial group update. Nil fields are left unchanged.
type GroupPatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Settings    *Settings `json:"settings,omitempty"`
	SortOrder   *int64    `json:"sort_order,omitempty"`
}

// DeepCopy creates a deep copy of the group.
func (g *Group) DeepCopy() *Group {
	if g == nil {
		return nil
	}

	c := *g
	if g.Description != nil {
		desc := *g.Description
		c.Description = &desc
	}
	c.Settings = deepCopyMap(g.Settings)
	return &c
}

// ClampSortOrder sanitises a sort order into [MinSortOrder, MaxSortOrder].
func ClampSortOrder(order int64) int64 {
	if order < MinSortOrder {
		return MinSortOrder
	}
	if order > MaxSortOrder {
		return MaxSortOrder
	}
	return order
}
