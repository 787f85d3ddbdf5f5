package toolcall

// Outcome is what a resource returns for one invocation.
// Business failures ("no data for this city") are reported with
// Success=false and a human-readable Error, never as a Go error.
type Outcome struct {
	Success bool        `json:"success"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Succeeded builds a successful outcome
func Succeeded(payload interface{}) Outcome {
	return Outcome{Success: true, Payload: payload}
}

// Failed builds a business failure outcome
func Failed(message string) Outcome {
	return Outcome{Success: false, Error: message}
}
