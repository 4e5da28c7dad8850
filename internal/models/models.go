package models

import "time"

type Location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type RiderStatus string

const (
	RiderAvailable RiderStatus = "available"
	RiderBusy      RiderStatus = "busy"
	RiderOffline   RiderStatus = "offline"
)

func (s RiderStatus) String() string { return string(s) }

// Capacity bounds the order size a rider can handle.
type Capacity struct {
	MaxWeightKg    float64 `json:"max_weight_kg"`
	MaxDimensionCm float64 `json:"max_dimension_cm"`
}

type Rider struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Email               string      `json:"email,omitempty"`
	Location            *Location   `json:"location,omitempty"` // nil until the first ping
	Status              RiderStatus `json:"status"`
	ServiceAreas        []string    `json:"service_areas,omitempty"`
	Rating              float64     `json:"rating"` // 0..5
	CompletedDeliveries int         `json:"completed_deliveries"`
	Capacity            Capacity    `json:"capacity"`
}

// HasLocation reports whether the rider carries usable coordinates.
func (r Rider) HasLocation() bool { return r.Location != nil }

type DistanceCategory string

const (
	CategoryLocal        DistanceCategory = "local"
	CategoryIntercity    DistanceCategory = "intercity"
	CategoryLongDistance DistanceCategory = "longDistance"
)

// Intercity reports whether the category uses the strict rider
// qualification regime.
func (c DistanceCategory) Intercity() bool {
	return c == CategoryIntercity || c == CategoryLongDistance
}

// Order statuses owned by the assignment engine.
const (
	StatusPendingAssignment = "Pending Rider Assignment"
	StatusRiderAssigned     = "Rider Assigned"
)

// Delivery-leg statuses reported by the rider after assignment.
const (
	DeliveryAccepted       = "accepted"
	DeliveryPickedUp       = "picked_up"
	DeliveryInTransit      = "in_transit"
	DeliveryOutForDelivery = "out_for_delivery"
	DeliveryDelivered      = "delivered"
	DeliveryFailed         = "failed_delivery"
	DeliveryCancelled      = "cancelled"
)

type StatusEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

type Order struct {
	ID                    string           `json:"id"`
	PickupLocation        Location         `json:"pickup_location"`
	DistanceCategory      DistanceCategory `json:"distance_category"`
	ParcelWeightKg        float64          `json:"parcel_weight_kg"`
	AssignedRiderID       string           `json:"assigned_rider_id,omitempty"`
	Status                string           `json:"status"`
	StatusHistory         []StatusEntry    `json:"status_history,omitempty"`
	DeclinedBy            []string         `json:"declined_by,omitempty"`
	NeedsManualAssignment bool             `json:"needs_manual_assignment"`
	ExpectedPickupTime    *time.Time       `json:"expected_pickup_time,omitempty"`
	ExpectedDeliveryTime  *time.Time       `json:"expected_delivery_time,omitempty"`
}

// Declined reports whether the rider already turned this order down.
func (o Order) Declined(riderID string) bool {
	for _, id := range o.DeclinedBy {
		if id == riderID {
			return true
		}
	}
	return false
}

// RiderFilters are the quality gates applied by a nearby search.
// Zero values disable the corresponding gate.
type RiderFilters struct {
	MinCompletedDeliveries int     `json:"min_completed_deliveries"`
	MinRating              float64 `json:"min_rating"`
	MinWeightCapacityKg    float64 `json:"min_weight_capacity_kg"`
}

// Candidate is a rider paired with its distance from the search center.
type Candidate struct {
	Rider      Rider   `json:"rider"`
	DistanceKm float64 `json:"distance_km"`
}

// Assignment is the successful outcome of one assignment attempt.
type Assignment struct {
	OrderID    string  `json:"order_id"`
	RiderID    string  `json:"rider_id"`
	RiderName  string  `json:"rider_name"`
	DistanceKm float64 `json:"distance_km"`
	Intercity  bool    `json:"intercity"`
}

// RiderLocationUpdate is the wire shape of a rider location ping as
// published to and consumed from the location topic.
type RiderLocationUpdate struct {
	RiderID    string    `json:"rider_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	RecordedAt time.Time `json:"recorded_at"`
}
