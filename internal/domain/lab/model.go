package lab

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

type Subscription string

const (
	SubscriptionBasic      Subscription = "basic"
	SubscriptionPremium    Subscription = "premium"
	SubscriptionEnterprise Subscription = "enterprise"
)

// Address is stored as a JSONB document on the lab row.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// Contact is stored as a JSONB document on the lab row.
type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// Settings drive report rendering and display defaults for a lab.
type Settings struct {
	ReportHeader string `json:"report_header,omitempty"`
	ReportFooter string `json:"report_footer,omitempty"`
	Currency     string `json:"currency,omitempty"`
	TimeZone     string `json:"time_zone,omitempty"`
}

// Lab is the tenant root. Every user, patient and report belongs to exactly
// one lab; nothing is shared across labs.
type Lab struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	Name          string       `db:"name" json:"name"`
	Email         string       `db:"email" json:"email"`
	LicenseNumber string       `db:"license_number" json:"license_number"`
	Address       Address      `db:"address" json:"address"`
	Contact       Contact      `db:"contact" json:"contact"`
	Status        Status       `db:"status" json:"status"`
	Subscription  Subscription `db:"subscription" json:"subscription"`
	Settings      Settings     `db:"settings" json:"settings"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// TierLimits is the static per-subscription limit table.
type TierLimits struct {
	Users           int `json:"users"`
	ReportsPerMonth int `json:"reports_per_month"`
}

// Unlimited marks a tier dimension with no cap.
const Unlimited = -1

var tierLimits = map[Subscription]TierLimits{
	SubscriptionBasic:      {Users: 5, ReportsPerMonth: 100},
	SubscriptionPremium:    {Users: 20, ReportsPerMonth: 500},
	SubscriptionEnterprise: {Users: Unlimited, ReportsPerMonth: Unlimited},
}

// LimitsForTier returns the limit table entry for a subscription tier.
func LimitsForTier(s Subscription) TierLimits {
	return tierLimits[s]
}
