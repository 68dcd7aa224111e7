package domain

import (
	"strings"
	"time"
)

// ProjectStatus tracks a project through the kanban columns.
type ProjectStatus string

const (
	ProjectPlanning   ProjectStatus = "planning"
	ProjectInProgress ProjectStatus = "in-progress"
	ProjectReview     ProjectStatus = "review"
	ProjectCompleted  ProjectStatus = "completed"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPlanning, ProjectInProgress, ProjectReview, ProjectCompleted:
		return true
	}
	return false
}

// NameRef is an embedded `table(name)` selection on a weak reference.
type NameRef struct {
	Name string `json:"name"`
}

// Project is a row of the `projects` table with its client's name embedded.
type Project struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	ClientID    *string       `json:"client_id"`
	Name        string        `json:"name"`
	Description *string       `json:"description"`
	Status      ProjectStatus `json:"status"`
	Progress    int           `json:"progress"`
	Budget      *float64      `json:"budget"`
	Spent       *float64      `json:"spent"`
	Deadline    *Date         `json:"deadline"`
	Team        []string      `json:"team"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	Client *NameRef `json:"clients,omitempty"`
}

func (p Project) OwnerID() string { return p.UserID }

// ProjectInsert is the payload for creating a project.
type ProjectInsert struct {
	UserID      string        `json:"user_id,omitempty"`
	ClientID    *string       `json:"client_id,omitempty"`
	Name        string        `json:"name"`
	Description *string       `json:"description,omitempty"`
	Status      ProjectStatus `json:"status,omitempty"`
	Progress    *int          `json:"progress,omitempty"`
	Budget      *float64      `json:"budget,omitempty"`
	Spent       *float64      `json:"spent,omitempty"`
	Deadline    *Date         `json:"deadline,omitempty"`
	Team        []string      `json:"team,omitempty"`
}

func (in ProjectInsert) WithDefaults() ProjectInsert {
	if in.Status == "" {
		in.Status = ProjectPlanning
	}
	if in.Progress == nil {
		zero := 0
		in.Progress = &zero
	}
	return in
}

func (in ProjectInsert) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ErrValidation{Field: "name", Message: "is required"}
	}
	if !in.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of planning, in-progress, review, completed"}
	}
	if err := validProgress(in.Progress); err != nil {
		return err
	}
	if err := validMoney("budget", in.Budget); err != nil {
		return err
	}
	if err := validMoney("spent", in.Spent); err != nil {
		return err
	}
	return validDate("deadline", in.Deadline)
}

// ProjectUpdate is a sparse patch; nil fields are left untouched.
type ProjectUpdate struct {
	ClientID    *string        `json:"client_id,omitempty"`
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      *ProjectStatus `json:"status,omitempty"`
	Progress    *int           `json:"progress,omitempty"`
	Budget      *float64       `json:"budget,omitempty"`
	Spent       *float64       `json:"spent,omitempty"`
	Deadline    *Date          `json:"deadline,omitempty"`
	Team        []string       `json:"team,omitempty"`
}

func (u ProjectUpdate) Validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return &ErrValidation{Field: "name", Message: "must not be empty"}
	}
	if u.Status != nil && !u.Status.Valid() {
		return &ErrValidation{Field: "status", Message: "must be one of planning, in-progress, review, completed"}
	}
	if err := validProgress(u.Progress); err != nil {
		return err
	}
	if err := validMoney("budget", u.Budget); err != nil {
		return err
	}
	if err := validMoney("spent", u.Spent); err != nil {
		return err
	}
	return validDate("deadline", u.Deadline)
}

func validProgress(p *int) error {
	if p != nil && (*p < 0 || *p > 100) {
		return &ErrValidation{Field: "progress", Message: "must be between 0 and 100"}
	}
	return nil
}

func validMoney(field string, v *float64) error {
	if v != nil && *v < 0 {
		return &ErrValidation{Field: field, Message: "must not be negative"}
	}
	return nil
}
