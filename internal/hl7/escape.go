package hl7

import "strings"

// Translator converts HL7 escape sequences to literal text and back.
// It is bound to the EncodingProfile it was built from.
type Translator struct {
	unescape *strings.Replacer
	escape   *strings.Replacer
}

// NewTranslator builds the token tables for p. The tables are rebuilt per
// message, never shared across profiles.
func NewTranslator(p EncodingProfile) *Translator {
	esc := p.Escape
	token := func(code string) string { return esc + code + esc }

	return &Translator{
		unescape: strings.NewReplacer(
			token("F"), p.Field,
			token("S"), p.Component,
			token("T"), p.SubComponent,
			token("R"), p.Repetition,
			token("E"), p.Escape,
			token(".br"), "\n",
			token(".sp"), " ",
			token(".fi"), "",
			token(".nf"), "",
		),
		escape: strings.NewReplacer(
			p.Escape, token("E"),
			p.Field, token("F"),
			p.Component, token("S"),
			p.SubComponent, token("T"),
			p.Repetition, token("R"),
		),
	}
}

// Unescape replaces every escape token in s with its literal value.
// The empty string passes through unchanged.
func (t *Translator) Unescape(s string) string {
	if s == "" {
		return s
	}
	return t.unescape.Replace(s)
}

// Escape is the inverse of Unescape for the delimiter codes F, S, T, R and E.
func (t *Translator) Escape(s string) string {
	if s == "" {
		return s
	}
	return t.escape.Replace(s)
}
