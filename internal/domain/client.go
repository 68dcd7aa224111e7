package domain

import (
	"strings"
	"time"
)

// ClientStatus is the lifecycle of a consultant's client.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
	ClientProspect ClientStatus = "prospect"
)

// Valid reports whether s is a known client status.
func (s ClientStatus) Valid() bool {
	switch s {
	case ClientActive, ClientInactive, ClientProspect:
		return true
	}
	return false
}

// Client is a row of the `clients` table.
type Client struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Email     *string      `json:"email"`
	Phone     *string      `json:"phone"`
	Company   *string      `json:"company"`
	Location  *string      `json:"location"`
	Status    ClientStatus `json:"status"`
	JoinDate  *Date        `json:"join_date"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (c Client) OwnerID() string { return c.UserID }

// ClientInsert is the payload for creating a client. UserID is always
// overwritten with the caller's identity.
type ClientInsert struct {
	UserID   string       `json:"user_id,omitempty"`
	Name     string       `json:"name"`
	Email    *string      `json:"email,omitempty"`
	Phone    *string      `json:"phone,omitempty"`
	Company  *string      `json:"company,omitempty"`
	Location *string      `json:"location,omitempty"`
	Status   ClientStatus `json:"status,omitempty"`
	JoinDate *Date        `json:"join_date,omitempty"`
}

func (in ClientInsert) WithDefaults() ClientInsert {
	if in.Status == "" {
		in.Status = ClientActive
	}
	return in
}

func (in ClientInsert) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ErrValidation{Field: "name", Message: "is required"}
	}
	if !in.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of active, inactive, prospect"}
	}
	return validDate("join_date", in.JoinDate)
}

// ClientUpdate is a sparse patch; nil fields are left untouched.
type ClientUpdate struct {
	Name     *string       `json:"name,omitempty"`
	Email    *string       `json:"email,omitempty"`
	Phone    *string       `json:"phone,omitempty"`
	Company  *string       `json:"company,omitempty"`
	Location *string       `json:"location,omitempty"`
	Status   *ClientStatus `json:"status,omitempty"`
	JoinDate *Date         `json:"join_date,omitempty"`
}

func (u ClientUpdate) Validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return &ErrValidation{Field: "name", Message: "must not be empty"}
	}
	if u.Status != nil && !u.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of active, inactive, prospect"}
	}
	return validDate("join_date", u.JoinDate)
}
