package hl7

import "strings"

// HeaderTag is the segment name every message must start with.
const HeaderTag = "MSH"

// Standard HL7 encoding characters.
const (
	DefaultFieldSeparator        = "|"
	DefaultComponentSeparator    = "^"
	DefaultRepetitionSeparator   = "~"
	DefaultEscapeCharacter       = `\`
	DefaultSubComponentSeparator = "&"
)

// EncodingProfile holds the delimiters declared by one message header.
// It is a value type: every message gets its own copy.
type EncodingProfile struct {
	Field        string
	Component    string
	Repetition   string
	Escape       string
	SubComponent string
}

// DefaultEncoding returns the standard `|^~\&` profile.
func DefaultEncoding() EncodingProfile {
	return EncodingProfile{
		Field:        DefaultFieldSeparator,
		Component:    DefaultComponentSeparator,
		Repetition:   DefaultRepetitionSeparator,
		Escape:       DefaultEscapeCharacter,
		SubComponent: DefaultSubComponentSeparator,
	}
}

// ResolveEncoding reads the field separator and the four encoding characters
// from a header line (MSH|^~\&...). Lines that are too short or do not start
// with the header tag yield the defaults; this never fails.
func ResolveEncoding(line string) EncodingProfile {
	profile := DefaultEncoding()
	if !strings.HasPrefix(line, HeaderTag) {
		return profile
	}

	r := []rune(line)
	if len(r) < len(HeaderTag)+5 {
		return profile
	}

	profile.Field = string(r[3])
	profile.Component = string(r[4])
	profile.Repetition = string(r[5])
	profile.Escape = string(r[6])
	profile.SubComponent = string(r[7])
	return profile
}

// String renders the profile as it appears in MSH-1 and MSH-2.
func (p EncodingProfile) String() string {
	return p.Field + p.Component + p.Repetition + p.Escape + p.SubComponent
}
