package toolcall

import (
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Status is the lifecycle state of a tool call
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// IsTerminal reports whether no further transition can occur from s
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// ToolCall is one requested capability invocation
type ToolCall struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	Priority     int                    `json:"priority,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`

	// Key is the name the call is reported under. It equals Name unless an
	// earlier call in the same request already claimed that name.
	Key string `json:"key"`

	Status   Status        `json:"status"`
	Result   interface{}   `json:"result,omitempty"`
	Err      error         `json:"-"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`

	// Responder is the resource that produced the terminal outcome. It differs
	// from Name when a fallback substitute answered.
	Responder    string `json:"responder,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// New creates a pending call with a fresh ID
func New(name string, args map[string]interface{}) *ToolCall {
	return &ToolCall{
		ID:        newID(),
		Name:      name,
		Key:       name,
		Arguments: args,
		Status:    StatusPending,
	}
}

func newID() string {
	id, err := gonanoid.New()
	if err != nil {
		return ""
	}
	return id
}

// EnsureID assigns an ID if the call does not have one yet
func (c *ToolCall) EnsureID() {
	if c.ID == "" {
		c.ID = newID()
	}
}

// DependsOn reports whether name is one of the call's declared dependencies
func (c *ToolCall) DependsOn(name string) bool {
	for _, dep := range c.Dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// SortedDependencies returns a copy of the dependency names in lexical order
func (c *ToolCall) SortedDependencies() []string {
	deps := append([]string(nil), c.Dependencies...)
	sort.Strings(deps)
	return deps
}

// Start marks the call running
func (c *ToolCall) Start(now time.Time) {
	c.Status = StatusRunning
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
}

// Succeed moves the call to Succeeded
func (c *ToolCall) Succeed(result interface{}, responder string, now time.Time) {
	c.Status = StatusSucceeded
	c.Result = result
	c.Err = nil
	c.Responder = responder
	c.FinishedAt = now
}

// Fail moves the call to Failed
func (c *ToolCall) Fail(err error, now time.Time) {
	c.Status = StatusFailed
	c.Result = nil
	c.Err = err
	c.FinishedAt = now
}

// Skip moves the call to Skipped without it ever running
func (c *ToolCall) Skip(err error, now time.Time) {
	c.Status = StatusSkipped
	c.Result = nil
	c.Err = err
	c.FinishedAt = now
}

// CopyOutcome copies the terminal outcome of src into c
func (c *ToolCall) CopyOutcome(src *ToolCall) {
	c.Status = src.Status
	c.Result = src.Result
	c.Err = src.Err
	c.Attempts = src.Attempts
	c.Elapsed = src.Elapsed
	c.Responder = src.Responder
	c.StartedAt = src.StartedAt
	c.FinishedAt = src.FinishedAt
}
