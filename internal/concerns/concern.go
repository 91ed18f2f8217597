// Package concerns holds the student-concern record model and the
// reconciliation policy that merges live updates into a locally held
// collection.
package concerns

import "time"

// Status constants for the concern lifecycle.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Concern is a student concern record as returned by the REST layer and
// carried on live-update channels. Records are keyed by numeric ID.
type Concern struct {
	ID           int64     `json:"id"`
	Subject      string    `json:"subject"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	StudentID    int64     `json:"student_id"`
	DepartmentID int64     `json:"department_id"`
	AssignedTo   int64     `json:"assigned_to,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Patch is a partial concern update. Pointer fields distinguish "absent"
// from "set to zero value" so a shallow merge only touches the fields the
// event actually carried.
type Patch struct {
	ID           int64      `json:"id"`
	Subject      *string    `json:"subject"`
	Description  *string    `json:"description"`
	Status       *string    `json:"status"`
	Priority     *string    `json:"priority"`
	StudentID    *int64     `json:"student_id"`
	DepartmentID *int64     `json:"department_id"`
	AssignedTo   *int64     `json:"assigned_to"`
	CreatedAt    *time.Time `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// ApplyTo returns a copy of c with the patch's present fields merged over it.
func (p Patch) ApplyTo(c Concern) Concern {
	if p.Subject != nil {
		c.Subject = *p.Subject
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.StudentID != nil {
		c.StudentID = *p.StudentID
	}
	if p.DepartmentID != nil {
		c.DepartmentID = *p.DepartmentID
	}
	if p.AssignedTo != nil {
		c.AssignedTo = *p.AssignedTo
	}
	if p.CreatedAt != nil {
		c.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	return c
}

// Materialize builds a full record from the patch alone, used when an update
// arrives for an ID the collection has never seen.
func (p Patch) Materialize() Concern {
	return p.ApplyTo(Concern{ID: p.ID})
}
