package models

// ImportApplied reports which parts of an imported bundle took effect
type ImportApplied struct {
	Profile bool `json:"profile"`
	Session bool `json:"session"`
}

// ImportResult is returned to the uploader and broadcast as import-finish
type ImportResult struct {
	OK      bool          `json:"ok"`
	Message string        `json:"message"`
	Applied ImportApplied `json:"applied"`
	Notes   []string      `json:"notes,omitempty"`
}
