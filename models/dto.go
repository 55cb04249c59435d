package models

// VideoInput is the legacy request shape: {"type":"url","value":"..."}.
type VideoInput struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ProcessRequest is the body of a pipeline run request. URL wins over Input
// when both are set.
type ProcessRequest struct {
	URL      string      `json:"url"`
	Input    *VideoInput `json:"input,omitempty"`
	Settings *Settings   `json:"settings,omitempty"`
	ClientID string      `json:"clientId,omitempty"`
}

// VideoURL resolves the URL from either request shape.
func (r ProcessRequest) VideoURL() string {
	if r.URL != "" {
		return r.URL
	}
	if r.Input != nil && (r.Input.Type == "" || r.Input.Type == "url") {
		return r.Input.Value
	}
	return ""
}

// ProcessResponse is returned once a synchronous run finishes.
type ProcessResponse struct {
	Success          bool   `json:"success"`
	RunID            string `json:"runId,omitempty"`
	Result           string `json:"result"`
	Title            string `json:"title"`
	Model            string `json:"model,omitempty"`
	Timestamp        string `json:"timestamp"`
	ClientID         string `json:"clientId,omitempty"`
	IsTranscriptOnly bool   `json:"isTranscriptOnly"`
	IsPartial        bool   `json:"isPartial"`
	Error            string `json:"error,omitempty"`
}

type ScriptOnlyRequest struct {
	Transcript string    `json:"transcript"`
	Settings   *Settings `json:"settings,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message        string        `json:"message"`
	OriginalResult string        `json:"originalResult"`
	ChatHistory    []ChatMessage `json:"chatHistory"`
}

type ChatResponse struct {
	Success       bool   `json:"success"`
	Response      string `json:"response"`
	UpdatedResult string `json:"updatedResult"`
}

// KeyRequest identifies an API key by value or by pool id.
type KeyRequest struct {
	APIKey string `json:"apiKey"`
	KeyID  string `json:"keyId"`
}

type ProxyRequest struct {
	ProxyID  string `json:"proxyId"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
	Country  string `json:"country"`
	Speed    string `json:"speed"`
}
