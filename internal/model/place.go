package model

import (
	"encoding/json"
	"fmt"
)

// Place says whether a snapshot was taken before or after a pass ran.
type Place string

const (
	PlaceBefore Place = "Before"
	PlaceAfter  Place = "After"
)

// ParsePlace converts s to a Place. Only "Before" and "After" are valid.
func ParsePlace(s string) (Place, error) {
	switch Place(s) {
	case PlaceBefore, PlaceAfter:
		return Place(s), nil
	}
	return "", fmt.Errorf("invalid place %q: must be %q or %q", s, PlaceBefore, PlaceAfter)
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (p *Place) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePlace(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
