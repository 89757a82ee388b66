package middleware

import "strings"

// MaskToken маскирует секрет для логов: видны только первые 4 символа.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
