package model

import (
	"time"

	"github.com/google/uuid"
)

// Company is the employer an application was sent to. Rows are created
// together with their first application and never modified.
type Company struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Website  string    `json:"website"`
	CEO      string    `json:"ceo"`
	Industry string    `json:"industry"`
}

// Application is a tracked job application owned by exactly one Company.
type Application struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"companyId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ApplicationResponse is one row of the joined application list.
type ApplicationResponse struct {
	ID      uuid.UUID `json:"id"`
	Company Company   `json:"company"`
	Status  Status    `json:"status"`
	Date    string    `json:"date"`
}

// CreateCompanyRequest carries the company fields of a new application.
// All four fields are required.
type CreateCompanyRequest struct {
	Name     string `json:"name"`
	Website  string `json:"website"`
	CEO      string `json:"ceo"`
	Industry string `json:"industry"`
}

// CreateApplicationRequest is the input of the create operation. Status
// is the raw wire token, parsed during validation; empty means
// DefaultStatus.
type CreateApplicationRequest struct {
	Company CreateCompanyRequest `json:"company"`
	Status  string               `json:"status,omitempty"`
}

// DateLayout is the fixed-width UTC layout used for applications.date.
// Fixed width keeps lexicographic order equal to chronological order.
const DateLayout = "2006-01-02T15:04:05.000000000Z"

// FormatDate renders t in DateLayout after converting it to UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
