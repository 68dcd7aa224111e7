package domain

import "time"

// DateLayout is the wire format of calendar dates (Postgres `date`).
const DateLayout = "2006-01-02"

// Date is a calendar date without time zone, as stored by the backend.
type Date string

// NewDate formats t as a Date.
func NewDate(t time.Time) Date { return Date(t.Format(DateLayout)) }

// Time parses the date at midnight UTC.
func (d Date) Time() (time.Time, error) {
	return time.Parse(DateLayout, string(d))
}

// Valid reports whether d is a well-formed calendar date.
func (d Date) Valid() bool {
	_, err := d.Time()
	return err == nil
}

func validDate(field string, d *Date) error {
	if d != nil && !d.Valid() {
		return &ErrValidation{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return nil
}
