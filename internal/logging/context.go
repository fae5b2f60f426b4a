package logging

import (
	"context"
	"strings"
)

type ctxKey struct{}

// Into stores a request-scoped logger in ctx.
func Into(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored by Into, or fallback when there is none.
func From(ctx context.Context, fallback Logger) Logger {
	if v, ok := ctx.Value(ctxKey{}).(Logger); ok && v != nil {
		return v
	}
	if fallback == nil {
		return Nop{}
	}
	return fallback
}

// RedactEmail keeps the first two characters of the local part.
func RedactEmail(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}
	if len(local) > 2 {
		local = local[:2] + "***"
	} else {
		local = "***"
	}
	return local + "@" + domain
}

// RedactToken replaces any token value in log output.
func RedactToken() string { return "[REDACTED_TOKEN]" }
