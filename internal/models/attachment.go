package models

// Attachment encodings.
const (
	EncodingRaw    = ""
	EncodingBase64 = "base64"
)

// Attachment is a file submitted with a request. After ingestion exactly one of FileID and
// Error is set.
type Attachment struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Encoding string `json:"encoding,omitempty"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
	CID      string `json:"cid,omitempty"`
	Inline   bool   `json:"inline,omitempty"`

	// Truncated marks a file the transport could not buffer whole. Size is the real size
	// and Data is empty.
	Truncated bool `json:"truncated,omitempty"`

	FileID string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Stored reports whether the attachment was persisted.
func (a *Attachment) Stored() bool {
	return a != nil && a.FileID != "" && a.Error == ""
}

// Descriptor renders the attachment into the generic request shape.
func (a *Attachment) Descriptor() map[string]any {
	d := map[string]any{
		"name": a.Name,
		"type": a.Type,
		"data": a.Data,
		"size": a.Size,
	}
	if a.Encoding != "" {
		d["encoding"] = a.Encoding
	}
	if a.CID != "" {
		d["cid"] = a.CID
	}
	if a.Truncated {
		d["truncated"] = true
	}
	return d
}
