package model

// Body types.
const (
	BodyTypeHTML = "html"
	BodyTypeText = "text"
)

// Priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Attachment encodings.
const (
	EncodingBase64 = "base64"
	EncodingBinary = "binary"
	EncodingHex    = "hex"
)

// Attachment is an inline file carried with an email.
type Attachment struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Filename    string `json:"filename"`
}

// Email is a single send request as accepted from callers and snapshotted
// into Content.
type Email struct {
	Attachments []Attachment `json:"attachments,omitempty"`
	BCC         []string     `json:"bcc,omitempty"`
	BodyType    string       `json:"bodyType"`
	Body        string       `json:"body"`
	CC          []string     `json:"cc,omitempty"`
	DelayTS     *int64       `json:"delayTS,omitempty"`
	Encoding    string       `json:"encoding,omitempty"`
	From        string       `json:"from"`
	Priority    string       `json:"priority,omitempty"`
	Subject     string       `json:"subject"`
	Tag         string       `json:"tag,omitempty"`
	To          []string     `json:"to"`
}

// Template is one email body rendered once per merge context.
type Template struct {
	Attachments []Attachment   `json:"attachments,omitempty"`
	BodyType    string         `json:"bodyType"`
	Body        string         `json:"body"`
	Contexts    []MergeContext `json:"contexts"`
	Encoding    string         `json:"encoding,omitempty"`
	From        string         `json:"from"`
	Priority    string         `json:"priority,omitempty"`
	Subject     string         `json:"subject"`
}

// MergeContext supplies recipients and substitution values for one rendering.
type MergeContext struct {
	BCC     []string       `json:"bcc,omitempty"`
	CC      []string       `json:"cc,omitempty"`
	Context map[string]any `json:"context"`
	DelayTS *int64         `json:"delayTS,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	To      []string       `json:"to"`
}
