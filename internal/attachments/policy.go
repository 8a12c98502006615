package attachments

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// Policy is the attachment configuration of a form's message field.
type Policy struct {
	Enabled           bool
	MaxSize           int64
	MaxFiles          int
	AllowedTypes      []string // exact types or "type/*"
	BlockedExtensions []string
}

// DefaultBlockedExtensions are executable types refused regardless of the MIME type.
var DefaultBlockedExtensions = []string{
	".exe", ".com", ".bat", ".cmd", ".ps1", ".vbs", ".jar", ".msi", ".dll", ".scr",
}

// DefaultPolicy accepts up to 20 files of 10MB each.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:           true,
		MaxSize:           10 * 1024 * 1024,
		MaxFiles:          20,
		BlockedExtensions: DefaultBlockedExtensions,
	}
}

// Check validates one decoded file. index is its zero based position in the batch.
func (p Policy) Check(name, contentType string, size int64, index int) error {
	if p.MaxFiles > 0 && index >= p.MaxFiles {
		return fmt.Errorf("Too many files (limit %d)", p.MaxFiles)
	}
	if strings.HasPrefix(filepath.Base(name), ".") {
		return fmt.Errorf("Hidden files are not allowed")
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		return fmt.Errorf("File is too large (%d bytes, limit %d)", size, p.MaxSize)
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, blocked := range p.BlockedExtensions {
		if ext != "" && strings.EqualFold(ext, blocked) {
			return fmt.Errorf("File type not allowed: %s", ext)
		}
	}
	if len(p.AllowedTypes) > 0 && !p.allows(contentType) {
		return fmt.Errorf("File type not allowed: %s", contentType)
	}
	return nil
}

func (p Policy) allows(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, allowed := range p.AllowedTypes {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == mt {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return true
		}
	}
	return false
}
