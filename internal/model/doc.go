// Package model defines the shared data types of the order event pipeline.
//
// Conventions:
//   - IDs: string, assigned by the order store (uuid text)
//   - Money: float64 in the menu's currency unit
//   - Timestamps: time.Time, encoded as RFC 3339 on the wire
//   - Enumerations (status, type, role) are closed string sets; Valid()
//     reports membership
package model
