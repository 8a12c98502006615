package forms

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ().\-/]{7,32}(\s*(x|ext\.?)\s*[0-9]{1,6})?$`)

// Validate checks a submitted value against the field rules and returns the error
// message, or "" when the value is acceptable.
func (f Field) Validate(value any) string {
	s, present := stringValue(value)
	if !present || strings.TrimSpace(s) == "" {
		if f.Required {
			return "This field is required"
		}
		return ""
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
		return fmt.Sprintf("Value exceeds %d characters", f.MaxLength)
	}
	switch f.Type {
	case TypeEmail:
		if addr, err := mail.ParseAddress(s); err != nil || addr.Address != strings.TrimSpace(s) {
			return "Enter a valid email address"
		}
	case TypePhone:
		if !phonePattern.MatchString(strings.TrimSpace(s)) {
			return "Enter a valid phone number"
		}
	case TypeNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return "Enter a number"
		}
	case TypeChoices:
		for _, c := range f.Choices {
			if strings.EqualFold(c, s) {
				return ""
			}
		}
		return "Select a valid choice"
	}
	return ""
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}
