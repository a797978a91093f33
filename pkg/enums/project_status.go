package enums

import (
	"fmt"
	"strings"
)

// ProjectStatus is the moderation state of a listed project.
type ProjectStatus string

const (
	ProjectStatusPending  ProjectStatus = "pending"
	ProjectStatusApproved ProjectStatus = "approved"
	ProjectStatusRejected ProjectStatus = "rejected"
)

var validProjectStatuses = []ProjectStatus{
	ProjectStatusPending,
	ProjectStatusApproved,
	ProjectStatusRejected,
}

func (s ProjectStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known moderation state.
func (s ProjectStatus) IsValid() bool {
	for _, candidate := range validProjectStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseProjectStatus normalizes raw input into a ProjectStatus.
func ParseProjectStatus(value string) (ProjectStatus, error) {
	normalized := ProjectStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid project status %q", value)
}
