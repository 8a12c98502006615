package postmaster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/filters"
)

func annotationString(meta *filters.MessageContext, key string) string {
	if meta == nil || meta.Annotations == nil {
		return ""
	}
	raw, ok := meta.Annotations[key]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func annotationInt(meta *filters.MessageContext, key string) int {
	if meta == nil || meta.Annotations == nil {
		return 0
	}
	switch v := meta.Annotations[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}

func annotationBool(meta *filters.MessageContext, key string) bool {
	if meta == nil || meta.Annotations == nil {
		return false
	}
	switch v := meta.Annotations[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		value := strings.TrimSpace(strings.ToLower(v))
		return value == "1" || value == "true" || value == "yes" || value == "y"
	default:
		return false
	}
}
