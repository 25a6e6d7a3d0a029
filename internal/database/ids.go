package database

import "github.com/google/uuid"

// newID returns a collision-resistant random id for entities created without
// an explicit one.
func newID() string {
	return uuid.NewString()
}
