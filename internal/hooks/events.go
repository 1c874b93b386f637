package hooks

import "time"

const (
	EventRunStarted         = "run.started"
	EventRunCompleted       = "run.completed"
	EventRunFailed          = "run.failed"
	EventRunCancelled       = "run.cancelled"
	EventProductCreated     = "product.created"
	EventSourceRateLimited  = "source.rate_limited"
	EventTotalsRefreshed    = "totals.refreshed"
	EventCredentialsInvalid = "source.credentials_invalid"
)

// Event represents a hook event
type Event struct {
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Run       *Run      `json:"run,omitempty"`
	Product   *Product  `json:"product,omitempty"`
	Totals    []Total   `json:"totals,omitempty"`
	Alerts    []Alert   `json:"alerts,omitempty"`
	Error     *Error    `json:"error,omitempty"`
}

// Run info for event payload
type Run struct {
	ID    string         `json:"id"`
	Mode  string         `json:"mode"`
	Stats map[string]int `json:"stats,omitempty"`
}

// Product info for event payload
type Product struct {
	ID      string `json:"id"`
	LocalID string `json:"localId"`
	Title   string `json:"title"`
}

// Total is one source's catalog size in a totals.refreshed payload.
type Total struct {
	SourceID  string `json:"sourceId"`
	Count     int    `json:"count"`
	Label     string `json:"label"`
	Estimated bool   `json:"estimated"`
}

// Alert represents an alert in the event payload
type Alert struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // "info", "warning", "error"
}

// Error represents an error in the event payload
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType, source string) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Alerts:    []Alert{},
	}
}

// WithRun sets the run info
func (e *Event) WithRun(id, mode string, stats map[string]int) *Event {
	e.Run = &Run{ID: id, Mode: mode, Stats: stats}
	return e
}

// WithProduct sets the product info
func (e *Event) WithProduct(id, localID, title string) *Event {
	e.Product = &Product{ID: id, LocalID: localID, Title: title}
	return e
}

// WithTotal appends one source total
func (e *Event) WithTotal(sourceID string, count int, label string, estimated bool) *Event {
	e.Totals = append(e.Totals, Total{SourceID: sourceID, Count: count, Label: label, Estimated: estimated})
	return e
}

// WithAlert adds an alert
func (e *Event) WithAlert(alertType, message, severity string) *Event {
	e.Alerts = append(e.Alerts, Alert{
		Type:     alertType,
		Message:  message,
		Severity: severity,
	})
	return e
}

// WithError sets the error info
func (e *Event) WithError(code, message string) *Event {
	e.Error = &Error{Code: code, Message: message}
	return e
}
