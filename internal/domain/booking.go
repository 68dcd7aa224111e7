package domain

import (
	"strings"
	"time"
)

// BookingStatus is the state of a consulting session.
type BookingStatus string

const (
	BookingScheduled BookingStatus = "scheduled"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingScheduled, BookingConfirmed, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// BookingSource records where a booking came from.
type BookingSource string

const (
	SourceWebsite  BookingSource = "website"
	SourceReferral BookingSource = "referral"
	SourceDirect   BookingSource = "direct"
	SourceSocial   BookingSource = "social"
)

func (s BookingSource) Valid() bool {
	switch s {
	case SourceWebsite, SourceReferral, SourceDirect, SourceSocial:
		return true
	}
	return false
}

// DefaultBookingMinutes is the schema default session length.
const DefaultBookingMinutes = 60

// Booking is a row of the `bookings` table. Client fields are denormalized.
type Booking struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	ClientName  string        `json:"client_name"`
	ClientEmail *string       `json:"client_email"`
	ClientPhone *string       `json:"client_phone"`
	Service     string        `json:"service"`
	Date        Date          `json:"date"`
	Time        string        `json:"time"`
	Duration    int           `json:"duration"`
	Status      BookingStatus `json:"status"`
	Notes       *string       `json:"notes"`
	Source      BookingSource `json:"source"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (b Booking) OwnerID() string { return b.UserID }

// BookingInsert is the payload for creating a booking.
type BookingInsert struct {
	UserID      string        `json:"user_id,omitempty"`
	ClientName  string        `json:"client_name"`
	ClientEmail *string       `json:"client_email,omitempty"`
	ClientPhone *string       `json:"client_phone,omitempty"`
	Service     string        `json:"service"`
	Date        Date          `json:"date"`
	Time        string        `json:"time"`
	Duration    int           `json:"duration,omitempty"`
	Status      BookingStatus `json:"status,omitempty"`
	Notes       *string       `json:"notes,omitempty"`
	Source      BookingSource `json:"source,omitempty"`
}

func (in BookingInsert) WithDefaults() BookingInsert {
	if in.Status == "" {
		in.Status = BookingScheduled
	}
	if in.Source == "" {
		in.Source = SourceWebsite
	}
	if in.Duration == 0 {
		in.Duration = DefaultBookingMinutes
	}
	return in
}

func (in BookingInsert) Validate() error {
	if strings.TrimSpace(in.ClientName) == "" {
		return &ErrValidation{Field: "client_name", Message: "is required"}
	}
	if strings.TrimSpace(in.Service) == "" {
		return &ErrValidation{Field: "service", Message: "is required"}
	}
	if !in.Date.Valid() {
		return &ErrValidation{Field: "date", Message: "must be a date in YYYY-MM-DD format"}
	}
	if !validClock(in.Time) {
		return &ErrValidation{Field: "time", Message: "must be HH:MM"}
	}
	if in.Duration < 0 {
		return &ErrValidation{Field: "duration", Message: "must be positive"}
	}
	if !in.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of scheduled, confirmed, completed, cancelled"}
	}
	if !in.Source.Valid() {
		return &ErrValidation{Field: "source", Message: "must be one of website, referral, direct, social"}
	}
	return nil
}

// BookingUpdate is a sparse patch; nil fields are left untouched.
type BookingUpdate struct {
	ClientName  *string        `json:"client_name,omitempty"`
	ClientEmail *string        `json:"client_email,omitempty"`
	ClientPhone *string        `json:"client_phone,omitempty"`
	Service     *string        `json:"service,omitempty"`
	Date        *Date          `json:"date,omitempty"`
	Time        *string        `json:"time,omitempty"`
	Duration    *int           `json:"duration,omitempty"`
	Status      *BookingStatus `json:"status,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
	Source      *BookingSource `json:"source,omitempty"`
}

func (u BookingUpdate) Validate() error {
	if u.ClientName != nil && strings.TrimSpace(*u.ClientName) == "" {
		return &ErrValidation{Field: "client_name", Message: "must not be empty"}
	}
	if u.Time != nil && !validClock(*u.Time) {
		return &ErrValidation{Field: "time", Message: "must be HH:MM"}
	}
	if u.Duration != nil && *u.Duration <= 0 {
		return &ErrValidation{Field: "duration", Message: "must be positive"}
	}
	if u.Status != nil && !u.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of scheduled, confirmed, completed, cancelled"}
	}
	if u.Source != nil && !u.Source.Valid() {
		return &ErrValidation{Field: "source", Message: "must be one of website, referral, direct, social"}
	}
	return validDate("date", u.Date)
}

// Postgres `time` comes back as HH:MM:SS; forms send HH:MM.
func validClock(v string) bool {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}
