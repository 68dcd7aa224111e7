package domain

import (
	"strings"
	"time"
)

// ExpenseStatus is the reimbursement state of an expense.
type ExpenseStatus string

const (
	ExpensePending    ExpenseStatus = "pending"
	ExpenseApproved   ExpenseStatus = "approved"
	ExpenseReimbursed ExpenseStatus = "reimbursed"
)

func (s ExpenseStatus) Valid() bool {
	switch s {
	case ExpensePending, ExpenseApproved, ExpenseReimbursed:
		return true
	}
	return false
}

// Expense is a row of the `expenses` table with client and project names embedded.
type Expense struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	ClientID    *string       `json:"client_id"`
	ProjectID   *string       `json:"project_id"`
	Description string        `json:"description"`
	Amount      float64       `json:"amount"`
	Category    *string       `json:"category"`
	Date        Date          `json:"date"`
	Status      ExpenseStatus `json:"status"`
	Receipt     bool          `json:"receipt"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	Client  *NameRef `json:"clients,omitempty"`
	Project *NameRef `json:"projects,omitempty"`
}

func (e Expense) OwnerID() string { return e.UserID }

// ExpenseInsert is the payload for recording an expense.
type ExpenseInsert struct {
	UserID      string        `json:"user_id,omitempty"`
	ClientID    *string       `json:"client_id,omitempty"`
	ProjectID   *string       `json:"project_id,omitempty"`
	Description string        `json:"description"`
	Amount      float64       `json:"amount"`
	Category    *string       `json:"category,omitempty"`
	Date        Date          `json:"date"`
	Status      ExpenseStatus `json:"status,omitempty"`
	Receipt     *bool         `json:"receipt,omitempty"`
}

func (in ExpenseInsert) WithDefaults() ExpenseInsert {
	if in.Status == "" {
		in.Status = ExpensePending
	}
	if in.Receipt == nil {
		no := false
		in.Receipt = &no
	}
	return in
}

func (in ExpenseInsert) Validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return &ErrValidation{Field: "description", Message: "is required"}
	}
	if in.Amount < 0 {
		return &ErrValidation{Field: "amount", Message: "must not be negative"}
	}
	if !in.Date.Valid() {
		return &ErrValidation{Field: "date", Message: "must be a date in YYYY-MM-DD format"}
	}
	if !in.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of pending, approved, reimbursed"}
	}
	return nil
}

// ExpenseUpdate is a sparse patch; nil fields are left untouched.
type ExpenseUpdate struct {
	ClientID    *string        `json:"client_id,omitempty"`
	ProjectID   *string        `json:"project_id,omitempty"`
	Description *string        `json:"description,omitempty"`
	Amount      *float64       `json:"amount,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Date        *Date          `json:"date,omitempty"`
	Status      *ExpenseStatus `json:"status,omitempty"`
	Receipt     *bool          `json:"receipt,omitempty"`
}

func (u ExpenseUpdate) Validate() error {
	if u.Description != nil && strings.TrimSpace(*u.Description) == "" {
		return &ErrValidation{Field: "description", Message: "must not be empty"}
	}
	if err := validMoney("amount", u.Amount); err != nil {
		return err
	}
	if u.Status != nil && !u.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of pending, approved, reimbursed"}
	}
	return validDate("date", u.Date)
}
