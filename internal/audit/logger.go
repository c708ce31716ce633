// Package audit records one structured completion entry per tool call.
package audit

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)
	keyValuePattern    = regexp.MustCompile(`(?i)\b(token|secret|password|authorization)\s*[:=]\s*([^\s,;]+)`)
)

// ToolCallCompletion captures one finalized tool-call outcome.
type ToolCallCompletion struct {
	RequestID    string
	SessionID    string
	Transport    string
	ToolName     string
	Mode         string
	CallerSub    string
	ScopeSource  string
	Arguments    map[string]any
	Result       string
	ErrorDetail  string
	Duration     time.Duration
	ResponseCode int
}

// TargetSummary is a redacted summary of call targets.
type TargetSummary struct {
	ArtistIDs []string `json:"artist_ids,omitempty"`
	Names     []string `json:"names,omitempty"`
	Queries   []string `json:"queries,omitempty"`
}

// Event is the wire form of a completion published to the event bus.
type Event struct {
	Event         string        `json:"event"`
	Timestamp     time.Time     `json:"timestamp"`
	RequestID     string        `json:"request_id,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	Transport     string        `json:"transport"`
	Tool          string        `json:"tool"`
	Mode          string        `json:"mode"`
	CallerSubject string        `json:"caller_subject,omitempty"`
	ScopeSource   string        `json:"scope_source,omitempty"`
	Result        string        `json:"result"`
	DurationMS    int64         `json:"duration_ms"`
	ResponseCode  int           `json:"response_code,omitempty"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	Target        TargetSummary `json:"target"`
}

// Publisher forwards completion events to an external sink.
type Publisher interface {
	Publish(event Event) error
}

// Option configures a Logger.
type Option func(*Logger)

// WithPublisher also sends every completion to p.
func WithPublisher(p Publisher) Option {
	return func(l *Logger) {
		l.publisher = p
	}
}

// Logger emits structured audit entries.
type Logger struct {
	logger    zerolog.Logger
	publisher Publisher
	now       func() time.Time
}

// NewLogger creates an audit logger.
func NewLogger(logger zerolog.Logger, opts ...Option) *Logger {
	l := &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Complete writes a single completion log entry for one tool call and
// publishes it when a publisher is configured. Publish failures are logged
// and never affect the caller.
func (l *Logger) Complete(event ToolCallCompletion) {
	if l == nil {
		return
	}

	ev := l.normalize(event)

	entry := l.logger.Info().
		Str("event", ev.Event).
		Str("request_id", ev.RequestID).
		Str("session_id", ev.SessionID).
		Str("transport", ev.Transport).
		Str("tool", ev.Tool).
		Str("mode", ev.Mode).
		Str("caller_subject", ev.CallerSubject).
		Str("scope_source", ev.ScopeSource).
		Str("result", ev.Result).
		Int64("duration_ms", ev.DurationMS).
		Interface("target", ev.Target)

	if ev.ResponseCode > 0 {
		entry = entry.Int("response_code", ev.ResponseCode)
	}
	if ev.ErrorDetail != "" {
		entry = entry.Str("error_detail", ev.ErrorDetail)
	}

	entry.Msg("tool call completed")

	if l.publisher != nil {
		if err := l.publisher.Publish(ev); err != nil {
			l.logger.Warn().Err(err).Str("tool", ev.Tool).Msg("failed to publish audit event")
		}
	}
}

func (l *Logger) normalize(event ToolCallCompletion) Event {
	result := strings.TrimSpace(event.Result)
	if result == "" {
		result = "error"
	}

	tool := strings.TrimSpace(event.ToolName)
	if tool == "" {
		tool = "unknown"
	}
	mode := strings.TrimSpace(event.Mode)
	if mode == "" {
		mode = "read-only"
	}

	duration := event.Duration
	if duration < 0 {
		duration = 0
	}

	return Event{
		Event:         "mcp.tool_call.completed",
		Timestamp:     l.now().UTC(),
		RequestID:     strings.TrimSpace(event.RequestID),
		SessionID:     strings.TrimSpace(event.SessionID),
		Transport:     strings.TrimSpace(event.Transport),
		Tool:          tool,
		Mode:          mode,
		CallerSubject: strings.TrimSpace(event.CallerSub),
		ScopeSource:   strings.TrimSpace(event.ScopeSource),
		Result:        result,
		DurationMS:    duration.Milliseconds(),
		ResponseCode:  event.ResponseCode,
		ErrorDetail:   RedactSensitiveText(event.ErrorDetail),
		Target:        SummarizeTargets(event.Arguments),
	}
}

// SummarizeTargets builds a compact target summary from tool arguments.
func SummarizeTargets(args map[string]any) TargetSummary {
	if args == nil {
		return TargetSummary{}
	}

	return TargetSummary{
		ArtistIDs: uniqueStrings(append(readIDs(args, "id", "artist_id"), readStringSlice(args, "ids", "artist_ids")...)),
		Names:     uniqueStrings(readString(args, "name")),
		Queries:   uniqueStrings(readString(args, "query")),
	}
}

// RedactSensitiveText removes obvious secrets from free-text error details.
func RedactSensitiveText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	redacted := bearerTokenPattern.ReplaceAllString(trimmed, "Bearer [REDACTED]")
	redacted = keyValuePattern.ReplaceAllStringFunc(redacted, func(match string) string {
		parts := strings.SplitN(match, ":", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s: [REDACTED]", strings.TrimSpace(parts[0]))
		}
		parts = strings.SplitN(match, "=", 2)
		if len(parts) == 2 {
			return fmt.Sprintf("%s=[REDACTED]", strings.TrimSpace(parts[0]))
		}
		return "[REDACTED]"
	})
	return redacted
}

func readString(args map[string]any, keys ...string) []string {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		raw, ok := args[key]
		if !ok {
			continue
		}
		asString, ok := raw.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(asString)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func readStringSlice(args map[string]any, keys ...string) []string {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		raw, ok := args[key]
		if !ok {
			continue
		}
		switch typed := raw.(type) {
		case []string:
			for _, item := range typed {
				trimmed := strings.TrimSpace(item)
				if trimmed != "" {
					values = append(values, trimmed)
				}
			}
		case []any:
			for _, item := range typed {
				asString, ok := item.(string)
				if !ok {
					continue
				}
				trimmed := strings.TrimSpace(asString)
				if trimmed != "" {
					values = append(values, trimmed)
				}
			}
		}
	}
	return values
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	if len(unique) == 0 {
		return nil
	}
	slices.Sort(unique)
	return unique
}

// readIDs accepts identifiers given either as strings or as JSON numbers.
func readIDs(args map[string]any, keys ...string) []string {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		switch typed := args[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				values = append(values, trimmed)
			}
		case float64:
			values = append(values, strconv.FormatFloat(typed, 'f', -1, 64))
		case int:
			values = append(values, strconv.Itoa(typed))
		case int64:
			values = append(values, strconv.FormatInt(typed, 10))
		}
	}
	return values
}
