package websocket

import "github.com/stemsi/exam-gateway/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionVisibility Action = "visibility"
	ActionComplete   Action = "complete"
	ActionPing       Action = "ping"
)

// RequestPayload is any client message. Fields unused by an action are ignored.
type RequestPayload struct {
	Action Action `json:"action"`
	// Hidden is set by visibility messages; true means the page lost focus.
	Hidden bool `json:"hidden"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick      Event = "tick"
	EventTimeUp    Event = "time_up"
	EventTabSwitch Event = "tab_switch"
	EventCompleted Event = "completed"
	EventPong      Event = "pong"
	EventError     Event = "error"
)

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

type TimeUpResponse struct {
	Event Event `json:"event"`
}

type TabSwitchResponse struct {
	Event Event `json:"event"`
	Count int   `json:"count"`
}

type CompletedResponse struct {
	Event  Event                   `json:"event"`
	Result *model.CompletionResult `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
