// Package syslog is the append-only audit record store. Domain services
// write entries as a side effect of business operations; entries are never
// mutated and are periodically pruned except for critical-level rows.
package syslog

import (
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

type Category string

const (
	CategoryAuth   Category = "auth"
	CategoryLab    Category = "lab"
	CategoryUser   Category = "user"
	CategoryReport Category = "report"
	CategorySystem Category = "system"
)

// Entry maps to the system_log table.
type Entry struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	Level     Level                  `db:"level" json:"level"`
	Category  Category               `db:"category" json:"category"`
	Message   string                 `db:"message" json:"message"`
	Details   map[string]interface{} `db:"details" json:"details,omitempty"`
	UserID    *uuid.UUID             `db:"user_id" json:"user_id,omitempty"`
	LabID     *uuid.UUID             `db:"lab_id" json:"lab_id,omitempty"`
	IP        string                 `db:"ip" json:"ip,omitempty"`
	UserAgent string                 `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
