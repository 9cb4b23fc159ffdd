// Package identity provides the identity types referenced by magic links.
//
// The magiclink service does not own the user directory; it references
// identities from an external store by opaque ID. The Identity type here
// carries just enough state for link issuance and authorization checks.
package identity

import (
	"database/sql/driver"
	"errors"
	"time"
)

// Identity states.
const (
	StateActive   = "active"
	StateInactive = "inactive"
	StateLocked   = "locked"
	StatePending  = "pending"
)

// JSON is a custom type for handling JSON data in various storages.
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return errors.New("invalid type for JSON")
	}
	return nil
}

// Identity represents a user identity.
type Identity struct {
	ID        string    `json:"id"`
	Traits    JSON      `json:"traits"`
	State     string    `json:"state"` // active, inactive, locked, pending
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the identity may receive and use magic links.
func (i *Identity) IsActive() bool {
	return i.State == StateActive
}
