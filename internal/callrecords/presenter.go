package callrecords

import (
	"log/slog"
	"strings"
	"time"
)

// CallSummary is the list-view projection of a record. Optional input fields
// fall back to "N/A" so the list never renders holes.
type CallSummary struct {
	CallID       string  `json:"call_id"`
	CustomerName string  `json:"customer_name"`
	CallType     string  `json:"call_type"`
	PhoneNumber  *string `json:"phone_number"`
	PostalCode   string  `json:"postal_code"`
	CreatedAt    string  `json:"created_at"`
	HasOutput    bool    `json:"has_output"`
	Status       string  `json:"status"`
}

// CallDetail is the detail-view projection: the full record with normalized
// timestamps, derived status and the resolved output view.
type CallDetail struct {
	CallID     string      `json:"call_id"`
	InputData  JSONB       `json:"input_data"`
	OutputData JSONB       `json:"output_data"`
	OutputView *OutputView `json:"output_view,omitempty"`
	CreatedAt  string      `json:"created_at"`
	UpdatedAt  string      `json:"updated_at"`
	Status     string      `json:"status"`
}

type OutputKind string

const (
	OutputKindCollected  OutputKind = "collected_data"
	OutputKindTranscript OutputKind = "transcript"
	OutputKindMessages   OutputKind = "message_history"
	OutputKindRaw        OutputKind = "raw"
)

// OutputView is the tagged rendering of the free-form output blob. Kind is
// resolved by strict priority (collected data, then transcript, then generic
// message history, then raw JSON); shapes are not mutually exclusive in
// storage, only in display.
type OutputView struct {
	Kind          OutputKind       `json:"kind"`
	CollectedData map[string]any   `json:"collected_data,omitempty"`
	Transcript    []TranscriptLine `json:"transcript,omitempty"`
	Messages      []MessageLine    `json:"messages,omitempty"`
	Raw           JSONB            `json:"raw,omitempty"`
}

type TranscriptLine struct {
	UserMessage string `json:"user_message,omitempty"`
	Response    string `json:"response,omitempty"`
}

type MessageLine struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NormalizeTimestamp coerces any stored timestamp representation (time.Time,
// ISO string, epoch milliseconds, or garbage) to a canonical UTC ISO-8601
// string. An unparseable value falls back to "now" with a log line; it never
// fails.
func NormalizeTimestamp(v any) string {
	switch t := v.(type) {
	case nil:
		return time.Now().UTC().Format(time.RFC3339)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05.999999999Z07:00",
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC().Format(time.RFC3339)
			}
		}
	case float64:
		// JSON numbers arrive as float64; the upstream writer uses epoch ms.
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339)
	case int64:
		return time.UnixMilli(t).UTC().Format(time.RFC3339)
	case int:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339)
	}
	slog.Warn("unparseable timestamp, falling back to now", "value", v)
	return time.Now().UTC().Format(time.RFC3339)
}

// Summarize derives the list-view fields from a record.
func Summarize(rec CallRecord) CallSummary {
	in := rec.InputData

	name := strings.TrimSpace(strings.TrimSpace(stringField(in, "first_name")) + " " + strings.TrimSpace(stringField(in, "last_name")))
	if name == "" {
		name = "N/A"
	}

	callType := stringField(in, "call_type")
	if callType == "" {
		callType = stringField(in, "phone_type")
	}
	if callType == "" {
		callType = "N/A"
	}

	postal := stringField(in, "postal_code")
	if postal == "" {
		postal = "N/A"
	}

	var phone *string
	if p := stringField(in, "phone_number"); p != "" {
		phone = &p
	}

	return CallSummary{
		CallID:       rec.CallID,
		CustomerName: name,
		CallType:     callType,
		PhoneNumber:  phone,
		PostalCode:   postal,
		CreatedAt:    NormalizeTimestamp(rec.CreatedAt),
		HasOutput:    rec.HasOutput(),
		Status:       rec.Status(),
	}
}

// Detail builds the detail projection for a record.
func Detail(rec CallRecord) CallDetail {
	return CallDetail{
		CallID:     rec.CallID,
		InputData:  rec.InputData,
		OutputData: rec.OutputData,
		OutputView: ResolveOutputView(rec.OutputData),
		CreatedAt:  NormalizeTimestamp(rec.CreatedAt),
		UpdatedAt:  NormalizeTimestamp(rec.UpdatedAt),
		Status:     rec.Status(),
	}
}

// ResolveOutputView probes the output blob for known shapes in priority
// order. Returns nil for absent output.
func ResolveOutputView(out JSONB) *OutputView {
	if out == nil {
		return nil
	}

	if collected, ok := out["collected_data"].(map[string]any); ok && len(collected) > 0 {
		return &OutputView{Kind: OutputKindCollected, CollectedData: collected}
	}

	if entries, ok := anySlice(out["call_transcripts"]); ok && len(entries) > 0 {
		lines := make([]TranscriptLine, 0, len(entries))
		for _, e := range entries {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			lines = append(lines, TranscriptLine{
				UserMessage: stringField(m, "user_message"),
				Response:    cleanResponse(stringField(m, "response")),
			})
		}
		if len(lines) > 0 {
			return &OutputView{Kind: OutputKindTranscript, Transcript: lines}
		}
	}

	if entries, ok := anySlice(out["llm_call_history"]); ok && len(entries) > 0 {
		msgs := make([]MessageLine, 0, len(entries))
		for _, e := range entries {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			msg := MessageLine{
				Role:    stringField(m, "role"),
				Content: firstString(m, "content", "message", "text"),
			}
			if msg.Content == "" {
				msg.Content = "No content"
			}
			if ts, ok := m["timestamp"]; ok && ts != nil {
				msg.Timestamp = NormalizeTimestamp(ts)
			}
			msgs = append(msgs, msg)
		}
		if len(msgs) > 0 {
			return &OutputView{Kind: OutputKindMessages, Messages: msgs}
		}
	}

	return &OutputView{Kind: OutputKindRaw, Raw: out}
}

// cleanResponse drops the tool-invocation tail the agent appends after a
// literal " && " separator.
func cleanResponse(s string) string {
	if i := strings.Index(s, " && "); i >= 0 {
		return s[:i]
	}
	return s
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringField(m, k); v != "" {
			return v
		}
	}
	return ""
}

func anySlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}
