package tenant

import (
	"bytes"
	"encoding/json"
	"strings"
)

// StreamAdapter parses one raw SSE line from a backend's streamed response
// into plain text, or reports that the stream is finished. Vendor-specific
// wire formats (OpenAI, Anthropic) stay behind this generic
// contract: ContentPath/DoneMarker configure a single adapter
// implementation rather than one bespoke type per vendor.
type StreamAdapter interface {
	// ParseLine parses one "data: ..." SSE payload (prefix already
	// stripped). ok is false for lines that carry no text (e.g. role-only
	// deltas); done is true once the adapter recognizes its done marker.
	ParseLine(line []byte) (text string, ok bool, done bool)
}

// AdapterConfig describes how to pull text out of a vendor's JSON chunk
// shape: ContentPath is a dot-separated path into the decoded JSON object
// (e.g. "choices.0.delta.content" or "delta.text"), DoneMarker is the raw
// line content signaling stream end (OpenAI's "[DONE]").
type AdapterConfig struct {
	Name        string
	ContentPath string
	DoneMarker  string
}

// ConfigurableAdapter is a single generic StreamAdapter driven by
// AdapterConfig: one path-driven implementation covers every
// OpenAI-compatible wire shape instead of one type per vendor.
type ConfigurableAdapter struct {
	cfg  AdapterConfig
	path []pathSegment
}

type pathSegment struct {
	key   string
	index int
	isIdx bool
}

// NewConfigurableAdapter compiles cfg.ContentPath once at construction.
func NewConfigurableAdapter(cfg AdapterConfig) *ConfigurableAdapter {
	return &ConfigurableAdapter{cfg: cfg, path: compilePath(cfg.ContentPath)}
}

func compilePath(path string) []pathSegment {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segs := make([]pathSegment, 0, len(parts))
	for _, p := range parts {
		if isAllDigits(p) {
			idx := 0
			for _, r := range p {
				idx = idx*10 + int(r-'0')
			}
			segs = append(segs, pathSegment{index: idx, isIdx: true})
		} else {
			segs = append(segs, pathSegment{key: p})
		}
	}
	return segs
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseLine implements StreamAdapter.
func (a *ConfigurableAdapter) ParseLine(line []byte) (string, bool, bool) {
	trimmed := bytes.TrimSpace(line)
	if a.cfg.DoneMarker != "" && string(trimmed) == a.cfg.DoneMarker {
		return "", false, true
	}
	if len(trimmed) == 0 {
		return "", false, false
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return "", false, false
	}

	value := decoded
	for _, seg := range a.path {
		if seg.isIdx {
			arr, ok := value.([]any)
			if !ok || seg.index >= len(arr) {
				return "", false, false
			}
			value = arr[seg.index]
		} else {
			obj, ok := value.(map[string]any)
			if !ok {
				return "", false, false
			}
			value, ok = obj[seg.key]
			if !ok {
				return "", false, false
			}
		}
	}

	text, ok := value.(string)
	if !ok || text == "" {
		return "", false, false
	}
	return text, true, false
}

// OpenAIAdapter returns a ConfigurableAdapter matching the OpenAI
// chat-completions streaming chunk shape.
func OpenAIAdapter() *ConfigurableAdapter {
	return NewConfigurableAdapter(AdapterConfig{
		Name:        "openai",
		ContentPath: "choices.0.delta.content",
		DoneMarker:  "[DONE]",
	})
}

// AnthropicAdapter returns a ConfigurableAdapter matching Anthropic's
// content_block_delta streaming event shape.
func AnthropicAdapter() *ConfigurableAdapter {
	return NewConfigurableAdapter(AdapterConfig{
		Name:        "anthropic",
		ContentPath: "delta.text",
		DoneMarker:  "",
	})
}
