package store

import "github.com/google/uuid"

// NewID returns a fresh primary key.
func NewID() string {
	return uuid.New().String()
}

// ValidID reports whether id can address a row. Keys are UUID columns, so
// anything else cannot exist and is treated as a miss.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
