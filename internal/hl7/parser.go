package hl7

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks a message rejected at intake because its header is
// missing or malformed.
var ErrValidation = errors.New("geçersiz HL7 mesajı")

// Validate performs the literal intake check: the text must not be blank and
// its first segment must start with "MSH|".
func Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("%w: boş mesaj", ErrValidation)
	}
	segments := SplitSegments(trimmed)
	if len(segments) == 0 || !strings.HasPrefix(segments[0], HeaderTag+DefaultFieldSeparator) {
		return fmt.Errorf("%w: MSH segmenti bulunamadı", ErrValidation)
	}
	return nil
}

// SplitSegments splits text into segment lines. CR, LF and CRLF are all
// accepted as terminators; blank lines are dropped.
func SplitSegments(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var segments []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			segments = append(segments, line)
		}
	}
	return segments
}

// Parser splits and normalizes values under one EncodingProfile.
// Splits are literal; escapes are only resolved on leaf values.
type Parser struct {
	enc EncodingProfile
	tr  *Translator
}

// NewParser returns a Parser bound to enc.
func NewParser(enc EncodingProfile) *Parser {
	return &Parser{enc: enc, tr: NewTranslator(enc)}
}

// ParserFor resolves the encoding from the first segment of text.
func ParserFor(text string) *Parser {
	segments := SplitSegments(text)
	if len(segments) == 0 {
		return NewParser(DefaultEncoding())
	}
	return NewParser(ResolveEncoding(segments[0]))
}

// Encoding returns the profile the parser splits with.
func (p *Parser) Encoding() EncodingProfile { return p.enc }

// Translator returns the escape translator for the parser's profile.
func (p *Parser) Translator() *Translator { return p.tr }

// Fields splits a segment on the field separator. Index 0 is the segment name.
func (p *Parser) Fields(segment string) []string {
	return strings.Split(segment, p.enc.Field)
}

// Components splits a field on the component separator.
func (p *Parser) Components(field string) []string {
	return splitNonEmpty(field, p.enc.Component)
}

// SubComponents splits a component on the sub-component separator.
func (p *Parser) SubComponents(component string) []string {
	return splitNonEmpty(component, p.enc.SubComponent)
}

// Repetitions splits a field on the repetition separator.
func (p *Parser) Repetitions(field string) []string {
	return splitNonEmpty(field, p.enc.Repetition)
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

// Normalize unescapes value and collapses whitespace runs to single spaces.
// It returns nil when nothing is left.
func (p *Parser) Normalize(value string) *string {
	if value == "" {
		return nil
	}
	normalized := strings.Join(strings.Fields(p.tr.Unescape(value)), " ")
	if normalized == "" {
		return nil
	}
	return &normalized
}

// Component returns the normalized component at the zero-based index, or nil
// when it is out of range or empty.
func (p *Parser) Component(field string, component int) *string {
	components := p.Components(field)
	if component < 0 || component >= len(components) {
		return nil
	}
	return p.Normalize(components[component])
}

// SubComponent returns the normalized sub-component at the zero-based
// component/sub-component indices, or nil when either is out of range.
func (p *Parser) SubComponent(field string, component, subComponent int) *string {
	components := p.Components(field)
	if component < 0 || component >= len(components) {
		return nil
	}
	subs := p.SubComponents(components[component])
	if subComponent < 0 || subComponent >= len(subs) {
		return nil
	}
	return p.Normalize(subs[subComponent])
}

// Segment is one split segment line.
type Segment struct {
	Name   string
	sep    string
	fields []string
}

// Field returns the raw value of the 1-based HL7 field n. For MSH, field 1
// is the field separator itself. Out of range yields "".
func (s Segment) Field(n int) string {
	if n < 1 {
		return ""
	}
	if s.Name == HeaderTag {
		if n == 1 {
			return s.sep
		}
		n--
	}
	if n >= len(s.fields) {
		return ""
	}
	return s.fields[n]
}

// Message is a split HL7 message together with the parser for its encoding.
type Message struct {
	Segments []Segment
	parser   *Parser
}

// Parse splits text into segments using the delimiters its header declares.
// It never fails: malformed input simply yields fewer segments or fields.
func Parse(text string) *Message {
	lines := SplitSegments(text)
	enc := DefaultEncoding()
	if len(lines) > 0 {
		enc = ResolveEncoding(lines[0])
	}
	p := NewParser(enc)

	msg := &Message{parser: p}
	for _, line := range lines {
		fields := p.Fields(line)
		msg.Segments = append(msg.Segments, Segment{
			Name:   fields[0],
			sep:    enc.Field,
			fields: fields,
		})
	}
	return msg
}

// Parser returns the parser bound to the message's encoding.
func (m *Message) Parser() *Parser { return m.parser }

// Encoding returns the message's resolved delimiters.
func (m *Message) Encoding() EncodingProfile { return m.parser.enc }

// Segment returns the first segment named name, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// SegmentsNamed returns all segments named name in message order.
func (m *Message) SegmentsNamed(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}
