package models

import "time"

// TabInfo is one entry of the tab list sent to clients
type TabInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SessionSummary describes a live session for diagnostics
type SessionSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ActiveTabID  string    `json:"activeTabId"`
	Tabs         []TabInfo `json:"tabs"`
	WarningSent  bool      `json:"warningSent"`
}

// SessionState is the durable browser position restored at session start
type SessionState struct {
	URL     string  `json:"url"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}
