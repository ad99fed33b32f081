package rtl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Storage keys and defaults for the preference pair.
const (
	KeyFontSize   = "prefFontSize"
	KeyLineHeight = "prefLineHeight"

	DefaultFontSize   = 16.0
	DefaultLineHeight = 1.8
)

// MessageUpdateSettings is the only inbound message type.
const MessageUpdateSettings = "UPDATE_SETTINGS"

var (
	ErrUnknownMessage = errors.New("rtl: unknown message type")
	ErrInvalidValue   = errors.New("rtl: invalid numeric value")
)

// Preferences is the page-wide font size (px) and line height (ratio).
type Preferences struct {
	FontSize   float64 `json:"fontSize"`
	LineHeight float64 `json:"lineHeight"`
}

// Defaults returns the preference pair used when storage has nothing.
func Defaults() Preferences {
	return Preferences{FontSize: DefaultFontSize, LineHeight: DefaultLineHeight}
}

// Update is a partial preference change. A nil field leaves the
// corresponding CSS variable untouched.
type Update struct {
	FontSize   *float64 `json:"fontSize,omitempty"`
	LineHeight *float64 `json:"lineHeight,omitempty"`
}

// Full turns a complete preference pair into an Update.
func (p Preferences) Full() Update {
	fs, lh := p.FontSize, p.LineHeight
	return Update{FontSize: &fs, LineHeight: &lh}
}

// Merge returns p with the present fields of u applied.
func (p Preferences) Merge(u Update) Preferences {
	if u.FontSize != nil && *u.FontSize > 0 {
		p.FontSize = *u.FontSize
	}
	if u.LineHeight != nil && *u.LineHeight > 0 {
		p.LineHeight = *u.LineHeight
	}
	return p
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return (u.FontSize == nil || *u.FontSize <= 0) && (u.LineHeight == nil || *u.LineHeight <= 0)
}

// FontSizeValue formats a font size for --ai-rtl-font-size.
func FontSizeValue(px float64) string {
	return strconv.FormatFloat(px, 'f', -1, 64) + "px"
}

// LineHeightValue formats a line height for --ai-rtl-line-height.
func LineHeightValue(ratio float64) string {
	return strconv.FormatFloat(ratio, 'f', -1, 64)
}

// Message is the settings broadcast sent by a preferences UI.
type Message struct {
	Type       string          `json:"type"`
	FontSize   json.RawMessage `json:"fontSize,omitempty"`
	LineHeight json.RawMessage `json:"lineHeight,omitempty"`
}

// ParseMessage decodes an UPDATE_SETTINGS message. Values may be JSON
// numbers or numeric strings; null, "", 0 and missing fields yield a nil
// field in the returned Update.
func ParseMessage(data []byte) (Update, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Update{}, fmt.Errorf("rtl: decode message: %w", err)
	}
	if m.Type != MessageUpdateSettings {
		return Update{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	return m.update()
}

// ParseUpdate decodes a bare {fontSize, lineHeight} object with the value
// rules of ParseMessage.
func ParseUpdate(data []byte) (Update, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Update{}, fmt.Errorf("rtl: decode update: %w", err)
	}
	return m.update()
}

func (m Message) update() (Update, error) {
	fs, err := parseNumber(m.FontSize)
	if err != nil {
		return Update{}, fmt.Errorf("fontSize: %w", err)
	}
	lh, err := parseNumber(m.LineHeight)
	if err != nil {
		return Update{}, fmt.Errorf("lineHeight: %w", err)
	}
	return Update{FontSize: fs, LineHeight: lh}, nil
}

func parseNumber(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidValue, raw)
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, raw)
	}
	if v == 0 {
		return nil, nil
	}
	return &v, nil
}
