package audit

import "time"

// Action is what an operator did.
type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionWrite        Action = "write"
	ActionMonitorStart Action = "monitor_start"
	ActionMonitorStop  Action = "monitor_stop"
	ActionLogin        Action = "login"
)

// EntityType is the kind of object an action touched.
type EntityType string

const (
	EntityController EntityType = "controller"
	EntityRegister   EntityType = "register"
	EntityUser       EntityType = "user"
)

// Source identifies the interface an action arrived through.
type Source string

const (
	SourceAPI  Source = "api"
	SourceMQTT Source = "mqtt"
)

// Entry is one audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     Source         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Action     Action
	EntityType EntityType
	EntityID   string
	UserID     string
	Since      time.Time

	Limit  int // default 50, max 200
	Offset int
}

// Page is one page of List results, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Page size limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)
