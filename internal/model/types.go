package model

import "time"

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// OrderStatus is the kitchen-facing state of an order.
type OrderStatus string

const (
	StatusPreparing OrderStatus = "preparing"
	StatusDone      OrderStatus = "done"
	StatusDelivered OrderStatus = "delivered"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPreparing, StatusDone, StatusDelivered:
		return true
	}
	return false
}

// OrderType tells the kitchen where the order goes.
type OrderType string

const (
	TypeDineIn   OrderType = "dinein"
	TypeDelivery OrderType = "delivery"
)

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case TypeDineIn, TypeDelivery:
		return true
	}
	return false
}

// DishExtra is an optional add-on selected for a dish.
type DishExtra struct {
	Name string  `json:"name"`
	Cost float64 `json:"cost"`
}

// Dish is a menu entry. UnitCost is the price of one portion before extras.
type Dish struct {
	ID           string      `json:"_id" yaml:"id"`
	Title        string      `json:"title" yaml:"title"`
	Description  string      `json:"description,omitempty" yaml:"description"`
	UnitCost     float64     `json:"cost_unit" yaml:"cost_unit"`
	Categories   []string    `json:"id_categories,omitempty" yaml:"id_categories"`
	PreviewImage string      `json:"preview_image,omitempty" yaml:"preview_image"`
	Extras       []DishExtra `json:"extras,omitempty" yaml:"extras"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	DishID         string      `json:"id_dish"`
	Quantity       int         `json:"quantity"`
	UnitCost       float64     `json:"unit_cost,omitempty"` // Dish price at order time, if the register sent it
	SelectedExtras []DishExtra `json:"selected_extras,omitempty"`
}

// Order is the authoritative order record and the payload of every order event.
// Empty fields are omitted so partial events stay partial on the wire.
type Order struct {
	ID        string      `json:"id,omitempty"`
	UserID    string      `json:"id_user,omitempty"`
	Items     []OrderItem `json:"items,omitempty"`
	TotalCost float64     `json:"total_cost,omitempty"`
	Status    OrderStatus `json:"status,omitempty"`
	Type      OrderType   `json:"type,omitempty"`
	CreatedAt time.Time   `json:"created_at,omitzero"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
}

// ComputeTotal sums quantity × (unit cost + extras) over all items.
func (o Order) ComputeTotal() float64 {
	var total float64
	for _, item := range o.Items {
		unit := item.UnitCost
		for _, extra := range item.SelectedExtras {
			unit += extra.Cost
		}
		total += float64(item.Quantity) * unit
	}
	return total
}

// OrderFilter narrows an order listing. Zero fields are ignored.
type OrderFilter struct {
	Status OrderStatus
	Type   OrderType
	From   time.Time
	To     time.Time
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// Role is the dashboard a user is allowed to drive.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleRegister Role = "register"
	RoleKitchen  Role = "kitchen"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleRegister, RoleKitchen:
		return true
	}
	return false
}

// Session binds an opaque token to an authenticated identity.
// The store owns expiry; ExpiresAt mirrors it for clients that care.
type Session struct {
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the session carries an expiry that has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
