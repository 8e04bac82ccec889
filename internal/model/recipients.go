package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Recipients accepts a JSON list, a single string or a comma separated string.
type Recipients []string

func ParseRecipients(raw string) Recipients {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return Recipients(strings.Split(raw, ","))
}

func (r *Recipients) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*r = list
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("recipients must be a string or a list of strings")
	}
	*r = ParseRecipients(s)
	return nil
}

// Normalized trims every entry. Blank entries are kept so callers can reject them.
func (r Recipients) Normalized() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

// MaskPhone hides all but the last four digits of a phone number for logs.
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	prefix := ""
	rest := phone
	if strings.HasPrefix(phone, "+") {
		prefix, rest = "+", phone[1:]
	}
	if len(rest) <= 4 {
		return prefix + strings.Repeat("*", len(rest))
	}
	return prefix + strings.Repeat("*", len(rest)-4) + rest[len(rest)-4:]
}
