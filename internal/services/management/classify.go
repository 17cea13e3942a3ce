package management

import (
	"strings"

	"login-management-go/internal/audit"
	"login-management-go/internal/core/models"
)

const ellipsis = "..."

// ClassifyError maps a raw partner failure message to a short audit code.
// Messages without a known status are returned truncated.
func ClassifyError(catalog *audit.Catalog, message string) string {
	if strings.TrimSpace(message) == "" {
		return catalog.T(audit.CodeUnknown)
	}

	switch {
	case strings.Contains(message, "422"):
		switch {
		case strings.Contains(message, "ALREADY_ACTIVE"):
			return catalog.T(audit.CodeAlreadyActive)
		case strings.Contains(message, "ALREADY_EXISTS"):
			return catalog.T(audit.CodeAlreadyExists)
		}
		return catalog.T(audit.Code422)
	case strings.Contains(message, "401"), strings.Contains(message, "403"):
		return catalog.T(audit.CodeAuth)
	case strings.Contains(message, "404"):
		return catalog.T(audit.CodeNotFound)
	case strings.Contains(message, "500"):
		return catalog.T(audit.CodeServer)
	}
	return Truncate(message)
}

// Truncate bounds s to the change-log column, marking cut text with "..."
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= models.ChangeLogMaxLength {
		return s
	}
	return string(runes[:models.ChangeLogMaxLength-len(ellipsis)]) + ellipsis
}
