package domain

import "time"

// LeadStatus is the admin-assigned pipeline stage of a lead. Transitions are
// deliberately unconstrained: an admin may set any status at any time.
type LeadStatus string

const (
	StatusNew       LeadStatus = "new"
	StatusContacted LeadStatus = "contacted"
	StatusQualified LeadStatus = "qualified"
	StatusConverted LeadStatus = "converted"
)

// LeadPriority is an optional admin-assigned triage label.
type LeadPriority string

const (
	PriorityHigh   LeadPriority = "high"
	PriorityMedium LeadPriority = "medium"
	PriorityLow    LeadPriority = "low"
)

// Lead is a prospect record: contact info, generated report, and fit score.
// Created once a report is generated from a completed conversation; mutated
// afterwards only by admin actions.
type Lead struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	Company   string       `json:"company"`
	Phone     string       `json:"phone,omitempty"`
	Report    string       `json:"report,omitempty"`
	FitScore  *int         `json:"fitScore,omitempty"`
	Status    LeadStatus   `json:"status"`
	Priority  LeadPriority `json:"priority,omitempty"`
	Archived  bool         `json:"archived,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ProspectInfo is the ephemeral contact-form input that seeds a lead on
// first contact. Not persisted on its own.
type ProspectInfo struct {
	LeadID  string `json:"leadId,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Phone   string `json:"phone,omitempty"`
}
