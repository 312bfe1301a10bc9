package http

import (
	"github.com/google/uuid"

	"soulcrush/internal/model"
	"soulcrush/internal/refresh"
)

// ErrorResponse is the error envelope shared by every endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// ApplicationItem is one list row with the status presentation fields
// filled in so clients do not need their own label table.
type ApplicationItem struct {
	ID          uuid.UUID     `json:"id"`
	Company     model.Company `json:"company"`
	Status      model.Status  `json:"status"`
	StatusLabel string        `json:"statusLabel"`
	StatusClass string        `json:"statusClass"`
	Date        string        `json:"date"`
}

func toItem(a model.ApplicationResponse) ApplicationItem {
	return ApplicationItem{
		ID:          a.ID,
		Company:     a.Company,
		Status:      a.Status,
		StatusLabel: a.Status.Label(),
		StatusClass: a.Status.Class(),
		Date:        a.Date,
	}
}

func toItems(apps []model.ApplicationResponse) []ApplicationItem {
	items := make([]ApplicationItem, 0, len(apps))
	for _, a := range apps {
		items = append(items, toItem(a))
	}
	return items
}

// ListApplicationsResponse carries the list and the version tuple it
// was fetched for.
type ListApplicationsResponse struct {
	Success      bool              `json:"success"`
	State        refresh.State     `json:"state"`
	Key          refresh.Versions  `json:"key"`
	Applications []ApplicationItem `json:"applications"`
	Code         string            `json:"code,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// MutationResponse reports a committed mutation and the tuple it
// produced. Application is set for create and status changes.
type MutationResponse struct {
	Success     bool             `json:"success"`
	Key         refresh.Versions `json:"key"`
	Application *ApplicationItem `json:"application,omitempty"`
	Status      model.Status     `json:"status,omitempty"`
}

// UpdateStatusRequest is the body of PUT /v1/applications/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// StatusOption describes one status for forms and badges.
type StatusOption struct {
	Value model.Status `json:"value"`
	Label string       `json:"label"`
	Class string       `json:"class"`
	Next  model.Status `json:"next"`
}

// StreamEvent is the JSON data of one server-sent list event.
type StreamEvent struct {
	State        refresh.State     `json:"state"`
	Key          refresh.Versions  `json:"key"`
	Applications []ApplicationItem `json:"applications,omitempty"`
	Error        string            `json:"error,omitempty"`
}
