package logging

import (
	"context"
)

// Context keys for common log fields.
type contextKey string

const (
	// SessionKey is the context key for the pipeline session identifier.
	SessionKey contextKey = "session"

	// PageKey is the context key for the current page label.
	PageKey contextKey = "page"
)

// WithSession adds a session identifier to the context.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// GetSession retrieves the session identifier from the context.
func GetSession(ctx context.Context) string {
	if session, ok := ctx.Value(SessionKey).(string); ok {
		return session
	}
	return ""
}

// WithPage adds a page label to the context.
func WithPage(ctx context.Context, page string) context.Context {
	return context.WithValue(ctx, PageKey, page)
}

// GetPage retrieves the page label from the context.
func GetPage(ctx context.Context) string {
	if page, ok := ctx.Value(PageKey).(string); ok {
		return page
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
// Returns a slice of key-value pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	var fields []any

	if session := GetSession(ctx); session != "" {
		fields = append(fields, "session", session)
	}
	if page := GetPage(ctx); page != "" {
		fields = append(fields, "page", page)
	}

	return fields
}
