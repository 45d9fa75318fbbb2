package domain

import "time"

// AssetStatus enumerates the operational states of a lab PC.
type AssetStatus string

const (
	AssetStatusWorking   AssetStatus = "Working"
	AssetStatusDefective AssetStatus = "Defective"
)

// Valid reports whether the status is one of the recognized values.
func (s AssetStatus) Valid() bool {
	return s == AssetStatusWorking || s == AssetStatusDefective
}

// AssetKey identifies a lab PC.
type AssetKey struct {
	RoomID   string
	PCNumber string
}

func (k AssetKey) String() string {
	return k.RoomID + "-" + k.PCNumber
}

// Asset is the current status snapshot of one PC. Exactly one row exists per key.
type Asset struct {
	RoomID      string
	PCNumber    string
	Status      AssetStatus
	LastUpdated time.Time
	LastFixedAt *time.Time
	LastFixedBy *int64
}

// Key returns the asset's identity.
func (a Asset) Key() AssetKey {
	return AssetKey{RoomID: a.RoomID, PCNumber: a.PCNumber}
}
