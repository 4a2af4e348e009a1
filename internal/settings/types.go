package settings

import "errors"

// Default values used when the settings row is created on first access.
const (
	DefaultAutoSync      = true
	DefaultMorningTime   = "08:00"
	DefaultEveningTime   = "20:00"
	DefaultTimezone      = "UTC"
	DefaultRetentionDays = 90

	MaxRetentionDays = 3650
)

var (
	// ErrInvalidTime is returned for a scheduled time that is not HH:MM.
	ErrInvalidTime = errors.New("settings: time must be HH:MM")
	// ErrInvalidTimezone is returned for a zone the tz database does not know.
	ErrInvalidTimezone = errors.New("settings: unknown timezone")
	// ErrInvalidRetention is returned when retention days is outside 1..3650.
	ErrInvalidRetention = errors.New("settings: retention days out of range")
)

// UpdateRequest is the input for updating sync settings (all fields optional).
type UpdateRequest struct {
	AutoSync      *bool   `json:"auto_sync,omitempty"`
	MorningTime   *string `json:"morning_time,omitempty"`
	EveningTime   *string `json:"evening_time,omitempty"`
	Timezone      *string `json:"timezone,omitempty"`
	RetentionDays *int    `json:"retention_days,omitempty"`
}
