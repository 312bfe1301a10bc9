package model

import (
	"fmt"

	"soulcrush/internal/common"
)

// Status is the pipeline stage of an application. The constant values
// are the wire tokens stored in applications.status and must match them
// exactly.
type Status string

const (
	StatusToDo        Status = "ToDo"
	StatusSolicitated Status = "Solicitated"
	StatusPending     Status = "Pending"
	StatusAccepted    Status = "Accepted"
	StatusRejected    Status = "Rejected"
)

// DefaultStatus is assigned to applications created without a status.
const DefaultStatus = StatusToDo

// Statuses lists every status in pipeline order.
var Statuses = []Status{
	StatusToDo,
	StatusSolicitated,
	StatusPending,
	StatusAccepted,
	StatusRejected,
}

// ParseStatus maps a wire token back to its Status. Matching is exact:
// no trimming and no case folding.
func ParseStatus(token string) (Status, error) {
	switch Status(token) {
	case StatusToDo, StatusSolicitated, StatusPending, StatusAccepted, StatusRejected:
		return Status(token), nil
	}
	return "", common.NewAppError(common.CodeInvalidStatus, fmt.Sprintf("invalid status: %q", token), nil)
}

// Next returns the successor in the cycle
// ToDo -> Solicitated -> Pending -> Accepted -> Rejected -> ToDo.
func (s Status) Next() Status {
	switch s {
	case StatusToDo:
		return StatusSolicitated
	case StatusSolicitated:
		return StatusPending
	case StatusPending:
		return StatusAccepted
	case StatusAccepted:
		return StatusRejected
	default:
		return StatusToDo
	}
}

// Label is the human readable name shown in lists and forms.
func (s Status) Label() string {
	switch s {
	case StatusToDo:
		return "To Do"
	case StatusSolicitated:
		return "Applied"
	case StatusPending:
		return "Pending"
	case StatusAccepted:
		return "Accepted"
	case StatusRejected:
		return "Rejected"
	}
	return string(s)
}

// Class is the presentation class tag for the status badge.
func (s Status) Class() string {
	switch s {
	case StatusToDo:
		return "status-todo"
	case StatusSolicitated:
		return "status-solicitated"
	case StatusPending:
		return "status-pending"
	case StatusAccepted:
		return "status-accepted"
	case StatusRejected:
		return "status-rejected"
	}
	return "status-unknown"
}

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText accepts an empty value so that callers may omit the
// status and get DefaultStatus applied later.
func (s *Status) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = ""
		return nil
	}
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
