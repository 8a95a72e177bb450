package models

// Client → server message kinds
const (
	TypeMouse          = "mouse"
	TypeScroll         = "scroll"
	TypeKeyboard       = "keyboard"
	TypeNavigate       = "navigate"
	TypeResize         = "resize"
	TypePing           = "ping"
	TypeNewTab         = "newtab"
	TypeSwitchTab      = "switchtab"
	TypeCloseTab       = "closetab"
	TypeDownloadAccept = "download-accept"
)

// Server → client message kinds
const (
	TypeInit           = "init"
	TypeTabs           = "tabs"
	TypeNavigated      = "navigated"
	TypeResizeAck      = "resizeAck"
	TypePong           = "pong"
	TypeDownloadOffer  = "download-offer"
	TypeDownloadReady  = "download-ready"
	TypeFileRequest    = "file-request"
	TypeAudioAvailable = "audio-available"
	TypeExportStart    = "export-start"
	TypeExportProgress = "export-progress"
	TypeExportComplete = "export-complete"
	TypeImportStart    = "import-start"
	TypeImportProgress = "import-progress"
	TypeImportExtract  = "import-extracted"
	TypeImportFinish   = "import-finish"
	TypeImportError    = "import-error"
	TypeError          = "error"
	TypeWarning        = "warning"
	TypeServerShutdown = "server-shutdown"
)

// ClientMessage is the union of every field a client command may carry.
// Handlers read only the fields relevant to Type.
type ClientMessage struct {
	Type       string  `json:"type"`
	TabID      string  `json:"tabId,omitempty"`
	Action     string  `json:"action,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Button     string  `json:"button,omitempty"`
	ClickCount int     `json:"clickCount,omitempty"`
	DeltaX     float64 `json:"deltaX,omitempty"`
	DeltaY     float64 `json:"deltaY,omitempty"`
	Delta      float64 `json:"delta,omitempty"`
	Key        string  `json:"key,omitempty"`
	Text       string  `json:"text,omitempty"`
	Delay      int     `json:"delay,omitempty"`
	URL        string  `json:"url,omitempty"`
	Width      float64 `json:"width,omitempty"`
	Height     float64 `json:"height,omitempty"`
	Token      string  `json:"token,omitempty"`
}

type InitMessage struct {
	Type           string    `json:"type"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	MaxFPS         int       `json:"maxFps"`
	ConnID         string    `json:"connId"`
	Tabs           []TabInfo `json:"tabs"`
	ActiveTabID    string    `json:"activeTabId"`
	AudioAvailable bool      `json:"audioAvailable"`
}

type TabsMessage struct {
	Type        string    `json:"type"`
	Tabs        []TabInfo `json:"tabs"`
	ActiveTabID string    `json:"activeTabId"`
}

type NavigatedMessage struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	TabID string `json:"tabId"`
}

type ResizeAckMessage struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DownloadOffer announces an intercepted attachment to the owning session
type DownloadOffer struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	Filename string `json:"filename"`
	MIME     string `json:"mime"`
	Size     int64  `json:"size"`
}

type DownloadReadyMessage struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type FileRequestMessage struct {
	Type  string `json:"type"`
	TabID string `json:"tabId"`
}

type AudioAvailableMessage struct {
	Type      string `json:"type"`
	Available bool   `json:"available"`
}

// NoticeMessage covers error, warning and server-shutdown
type NoticeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type SimpleMessage struct {
	Type string `json:"type"`
}

type ExportStartMessage struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	WantFull bool   `json:"wantFull"`
	Format   string `json:"format"`
}

type ExportEntries struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

type ExportProgressMessage struct {
	Type           string        `json:"type"`
	ProcessedBytes int64         `json:"processedBytes"`
	Entries        ExportEntries `json:"entries"`
}

type ImportStartMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type ImportProgressMessage struct {
	Type             string `json:"type"`
	EntriesProcessed int    `json:"entriesProcessed"`
	Name             string `json:"name"`
}

type ImportExtractedMessage struct {
	Type    string `json:"type"`
	Entries int    `json:"entries"`
}

type ImportFinishMessage struct {
	Type string `json:"type"`
	ImportResult
}

// Notice builds an error/warning/shutdown message
func Notice(kind, message string) NoticeMessage {
	return NoticeMessage{Type: kind, Message: message}
}
