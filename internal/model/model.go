package model

import "time"

// ShowAs is the free/busy visibility classification of an event.
type ShowAs string

const (
	ShowAsFree             ShowAs = "free"
	ShowAsTentative        ShowAs = "tentative"
	ShowAsBusy             ShowAs = "busy"
	ShowAsOutOfOffice      ShowAs = "oof"
	ShowAsWorkingElsewhere ShowAs = "workingElsewhere"
)

// AttendeeRole maps the iCalendar ROLE parameter onto a small fixed set.
type AttendeeRole string

const (
	RoleRequired AttendeeRole = "required"
	RoleOptional AttendeeRole = "optional"
	RoleResource AttendeeRole = "resource"
)

// ResponseStatus maps the iCalendar PARTSTAT parameter.
type ResponseStatus string

const (
	ResponseAccepted     ResponseStatus = "accepted"
	ResponseDeclined     ResponseStatus = "declined"
	ResponseTentative    ResponseStatus = "tentative"
	ResponseNotResponded ResponseStatus = "notResponded"
)

// Attendee is a single ATTENDEE property, normalized.
type Attendee struct {
	Name   string         `json:"name"`
	Email  string         `json:"email"`
	Role   AttendeeRole   `json:"role"`
	Status ResponseStatus `json:"status"`
}

// DateTimeInfo is a timestamp plus the timezone label it was declared in.
// The timestamp is always timezone-aware; naive values are normalized to
// UTC before any comparison or arithmetic.
type DateTimeInfo struct {
	DateTime time.Time `json:"date_time"`
	TimeZone string    `json:"time_zone"`
}

// UTC returns the timestamp normalized to UTC.
func (d DateTimeInfo) UTC() time.Time {
	return d.DateTime.UTC()
}

// CalendarEvent is the normalized representation of one VEVENT, either read
// directly from an ICS document or synthesized by recurrence expansion.
// Instances are fully populated at construction and not mutated afterwards.
type CalendarEvent struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	BodyPreview string       `json:"body_preview"`
	Start       DateTimeInfo `json:"start"`
	End         DateTimeInfo `json:"end"`
	AllDay      bool         `json:"is_all_day"`

	ShowAs      ShowAs `json:"show_as"`
	IsCancelled bool   `json:"is_cancelled"`
	IsOrganizer bool   `json:"is_organizer"`

	// Location is the bounded display name; empty means no location.
	Location  string     `json:"location,omitempty"`
	Attendees []Attendee `json:"attendees,omitempty"`

	IsRecurring  bool     `json:"is_recurring"`
	RecurrenceID string   `json:"recurrence_id,omitempty"`
	RRule        string   `json:"rrule,omitempty"`
	ExDates      []string `json:"exdates,omitempty"`

	// SeriesMasterID links an expanded occurrence back to its master event.
	SeriesMasterID string `json:"series_master_id,omitempty"`

	IsOnlineMeeting  bool   `json:"is_online_meeting"`
	OnlineMeetingURL string `json:"online_meeting_url,omitempty"`

	// Seq is the iCalendar SEQUENCE, used for override versioning.
	Seq int `json:"sequence,omitempty"`

	CreatedAt  time.Time `json:"created_at,omitzero"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// Duration is the event length derived from the normalized start/end pair.
func (e *CalendarEvent) Duration() time.Duration {
	return e.End.UTC().Sub(e.Start.UTC())
}

// CalendarMeta is calendar-level metadata collected outside any VEVENT.
type CalendarMeta struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	ProdID      string `json:"prodid,omitempty"`
	Version     string `json:"version,omitempty"`
}

// ParseResult is the single value returned from one parse invocation.
// It is never mutated after being returned.
type ParseResult struct {
	Success  bool            `json:"success"`
	Events   []CalendarEvent `json:"events"`
	Calendar CalendarMeta    `json:"calendar"`

	TotalComponents int `json:"total_components"`
	EventCount      int `json:"event_count"`
	RecurringCount  int `json:"recurring_count"`

	Warnings     []string `json:"warnings,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`

	// Source identifies where the stream came from; diagnostics only.
	Source string `json:"source,omitempty"`
}
