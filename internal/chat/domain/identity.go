package domain

// Identity an authenticated caller and the rooms the identity service lists for them
type Identity struct {
	UserID   string
	DeviceID string
	Rooms    []string
}
