package hl7

import (
	"regexp"
	"strings"
	"time"
)

// PersonName is an XPN field split into its roles. Nil roles were absent.
type PersonName struct {
	Last   *string `json:"last,omitempty"`
	First  *string `json:"first,omitempty"`
	Middle *string `json:"middle,omitempty"`
	Suffix *string `json:"suffix,omitempty"`
	Prefix *string `json:"prefix,omitempty"`
	Degree *string `json:"degree,omitempty"`
}

// Address is an XAD field split into its roles.
type Address struct {
	Street           *string `json:"street,omitempty"`
	OtherDesignation *string `json:"other_designation,omitempty"`
	City             *string `json:"city,omitempty"`
	State            *string `json:"state,omitempty"`
	Zip              *string `json:"zip,omitempty"`
	Country          *string `json:"country,omitempty"`
}

// Name decomposes LAST^FIRST^MIDDLE^SUFFIX^PREFIX^DEGREE.
func (p *Parser) Name(field string) PersonName {
	return PersonName{
		Last:   p.Component(field, 0),
		First:  p.Component(field, 1),
		Middle: p.Component(field, 2),
		Suffix: p.Component(field, 3),
		Prefix: p.Component(field, 4),
		Degree: p.Component(field, 5),
	}
}

// Address decomposes STREET^OTHER^CITY^STATE^ZIP^COUNTRY.
func (p *Parser) Address(field string) Address {
	return Address{
		Street:           p.Component(field, 0),
		OtherDesignation: p.Component(field, 1),
		City:             p.Component(field, 2),
		State:            p.Component(field, 3),
		Zip:              p.Component(field, 4),
		Country:          p.Component(field, 5),
	}
}

// Identifier returns the ID component of a CX field
// (ID^CHECK_DIGIT^CHECK_DIGIT_SCHEME^ASSIGNING_AUTHORITY). When authority is
// non-empty and the field carries an assigning authority, the two must match
// exactly or nil is returned.
func (p *Parser) Identifier(field, authority string) *string {
	components := p.Components(field)
	if len(components) == 0 {
		return nil
	}
	if authority != "" && len(components) > 3 {
		assigning := p.Normalize(components[3])
		if assigning == nil || *assigning != authority {
			return nil
		}
	}
	return p.Normalize(components[0])
}

var phoneStrip = regexp.MustCompile(`[^\d+\-()\s]`)

// Phone normalizes a telephone field, keeping digits, '+', '-', parentheses
// and whitespace.
func (p *Parser) Phone(field string) *string {
	normalized := p.Normalize(field)
	if normalized == nil {
		return nil
	}
	cleaned := strings.TrimSpace(phoneStrip.ReplaceAllString(*normalized, ""))
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

const (
	dateLayout      = "20060102"
	timestampLayout = "20060102150405"
)

// Date parses the YYYYMMDD prefix of a normalized field. Short or invalid
// values yield nil.
func (p *Parser) Date(field string) *time.Time {
	return parsePrefix(p.Normalize(field), dateLayout)
}

// Timestamp parses the YYYYMMDDHHMMSS prefix of a normalized field. Short or
// invalid values yield nil.
func (p *Parser) Timestamp(field string) *time.Time {
	return parsePrefix(p.Normalize(field), timestampLayout)
}

func parsePrefix(value *string, layout string) *time.Time {
	if value == nil || len(*value) < len(layout) {
		return nil
	}
	t, err := time.Parse(layout, (*value)[:len(layout)])
	if err != nil {
		return nil
	}
	return &t
}
