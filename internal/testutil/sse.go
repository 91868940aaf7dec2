package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// SSEEvent is one parsed Server-Sent Event.
type SSEEvent struct {
	Type string
	Data string
}

// ParseSSE parses a raw SSE response body into events. Multiple data
// lines join with newline, a blank line terminates an event, and
// comment lines starting with ":" are skipped. A data line with no
// preceding event line gets the SSE default type "message".
func ParseSSE(t *testing.T, body string) []SSEEvent {
	t.Helper()

	var events []SSEEvent
	var cur SSEEvent
	var dataLines []string

	scanner := bufio.NewScanner(strings.NewReader(body))
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		switch {
		case strings.HasPrefix(text, "event: "):
			if cur.Type != "" && len(dataLines) > 0 {
				t.Fatalf("line %d: event %q started before previous event terminated", line, text)
			}
			cur.Type = strings.TrimPrefix(text, "event: ")

		case strings.HasPrefix(text, "data: "):
			if cur.Type == "" {
				cur.Type = "message"
			}
			dataLines = append(dataLines, strings.TrimPrefix(text, "data: "))

		case text == "":
			if cur.Type != "" {
				cur.Data = strings.Join(dataLines, "\n")
				events = append(events, cur)
				cur = SSEEvent{}
				dataLines = nil
			}

		default:
			if !strings.HasPrefix(text, ":") {
				t.Fatalf("line %d: unexpected SSE line %q", line, text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning SSE body: %v", err)
	}
	if cur.Type != "" {
		t.Fatalf("stream ended inside unterminated event %q", cur.Type)
	}

	return events
}

// FindEvent returns the first event of the given type, or nil.
func FindEvent(events []SSEEvent, eventType string) *SSEEvent {
	for i := range events {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

// EventsOfType returns every event of the given type in stream order.
func EventsOfType(events []SSEEvent, eventType string) []SSEEvent {
	var out []SSEEvent
	for _, e := range events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
