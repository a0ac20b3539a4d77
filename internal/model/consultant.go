package model

import (
	"strings"
	"time"
)

// Consultant is a member of the consulting staff that missions are attached to.
type Consultant struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Practice  string    `json:"practice,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName returns "First LAST" the way staff lists display consultants.
func (c *Consultant) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + strings.ToUpper(c.LastName))
}
