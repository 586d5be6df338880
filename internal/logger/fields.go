package logger

import (
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	FieldProvider = "ai_provider"
	FieldModel    = "ai_model"
	FieldAgent    = "agent"
	FieldUser     = "user_id"
)

// Scope names who a log entry belongs to. Blank values are left out.
type Scope struct {
	Provider string
	Model    string
	Agent    string
	User     string
}

func (s Scope) Fields() []zap.Field {
	pairs := [...][2]string{
		{FieldProvider, s.Provider},
		{FieldModel, s.Model},
		{FieldAgent, s.Agent},
		{FieldUser, s.User},
	}

	fields := make([]zap.Field, 0, len(pairs))
	for _, p := range pairs {
		if v := strings.TrimSpace(p[1]); v != "" {
			fields = append(fields, zap.String(p[0], v))
		}
	}
	return fields
}

// Scoped tags l with the non-blank scope fields. A nil logger becomes a no-op one.
func Scoped(l *zap.Logger, s Scope) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	fields := s.Fields()
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Preview flattens whitespace runs into single spaces and cuts the text to
// limit runes, noting how many were dropped. A non-positive limit disables
// the preview.
func Preview(s string, limit int) string {
	if limit <= 0 {
		return ""
	}

	flat := strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	runes := []rune(flat)
	if len(runes) <= limit {
		return flat
	}
	return string(runes[:limit]) + "... (+" + strconv.Itoa(len(runes)-limit) + " chars)"
}
