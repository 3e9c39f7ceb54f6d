package entities

import "time"

// LatLng is one geographic vertex.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is the farm's reference point and its resolved address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// Farm is owned by exactly one user. An empty Boundary means the outline has
// not been drawn yet.
type Farm struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Location    Location  `json:"location"`
	Area        float64   `json:"area"`
	CropType    string    `json:"cropType"`
	Boundary    []LatLng  `json:"boundary"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// FarmInput holds the caller-supplied attributes of a new farm.
type FarmInput struct {
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Area     float64  `json:"area"`
	CropType string   `json:"cropType"`
	Boundary []LatLng `json:"boundary"`
}

// LocationUpdate changes location components independently.
type LocationUpdate struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Address *string  `json:"address,omitempty"`
}

// FarmUpdate carries the farm fields to change; nil means untouched. A
// non-nil Boundary pointing at an empty slice clears the outline.
type FarmUpdate struct {
	Name     *string         `json:"name,omitempty"`
	Location *LocationUpdate `json:"location,omitempty"`
	Area     *float64        `json:"area,omitempty"`
	CropType *string         `json:"cropType,omitempty"`
	Boundary *[]LatLng       `json:"boundary,omitempty"`
}

// IsEmpty reports whether no field was supplied.
func (u FarmUpdate) IsEmpty() bool {
	locationEmpty := u.Location == nil ||
		(u.Location.Lat == nil && u.Location.Lng == nil && u.Location.Address == nil)
	return u.Name == nil && locationEmpty && u.Area == nil && u.CropType == nil && u.Boundary == nil
}
