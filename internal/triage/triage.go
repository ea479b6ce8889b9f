// Package triage scores a message's clinical urgency when no triage agent
// is available. The weights are a rough heuristic, not a clinical protocol.
package triage

import (
	"sort"
	"strings"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/hl7"
)

type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityModerate Priority = "Moderate"
	PriorityLow      Priority = "Low"
	PriorityRoutine  Priority = "Routine"
)

const baseScore = 40

var timelines = map[Priority]string{
	PriorityCritical: "Immediate",
	PriorityHigh:     "Within 15 minutes",
	PriorityModerate: "Within 1 hour",
	PriorityLow:      "Within 2 hours",
	PriorityRoutine:  "Within 4 hours",
}

// keywords are matched case-insensitively against free-text fields.
var keywords = map[string]int{
	"cardiac arrest":        50,
	"anaphylaxis":           45,
	"respiratory failure":   45,
	"unresponsive":          45,
	"myocardial infarction": 40,
	"stroke":                40,
	"sepsis":                40,
	"chest pain":            35,
	"hemorrhage":            30,
	"bleeding":              30,
	"shortness of breath":   25,
	"pneumonia":             20,
	"fracture":              15,
	"fever":                 10,
}

var patientClassWeights = map[string]int{
	"E": 25, // emergency
	"I": 10, // inpatient
}

var abnormalFlagWeights = map[string]int{
	"HH": 15,
	"LL": 15,
	"AA": 15,
	"H":  5,
	"L":  5,
	"A":  5,
}

type Assessment struct {
	PatientID   *string  `json:"patient_id,omitempty"`
	PatientName string   `json:"patient_name"`
	Score       int      `json:"severity_score"`
	Priority    Priority `json:"priority_level"`
	Findings    []string `json:"key_findings"`
	Timeline    string   `json:"recommended_timeline"`
}

// PriorityFor buckets a 0..100 score.
func PriorityFor(score int) Priority {
	switch {
	case score >= 90:
		return PriorityCritical
	case score >= 80:
		return PriorityHigh
	case score >= 70:
		return PriorityModerate
	case score >= 60:
		return PriorityLow
	default:
		return PriorityRoutine
	}
}

// Assess scores raw at the instant now; now is used for the age factor.
func Assess(raw string, now time.Time) Assessment {
	msg := hl7.Parse(raw)
	p := msg.Parser()
	summary := hl7.SummarizeMessage(msg)

	score := baseScore
	findings := []string{}

	var texts []string
	for _, obx := range msg.SegmentsNamed("OBX") {
		if v := p.Normalize(obx.Field(5)); v != nil {
			texts = append(texts, *v)
		}
		if flag := p.Normalize(obx.Field(8)); flag != nil {
			if w, ok := abnormalFlagWeights[strings.ToUpper(*flag)]; ok {
				score += w
				findings = append(findings, "Abnormal result flag "+strings.ToUpper(*flag))
			}
		}
	}
	for _, nte := range msg.SegmentsNamed("NTE") {
		if v := p.Normalize(nte.Field(3)); v != nil {
			texts = append(texts, *v)
		}
	}
	for _, dg1 := range msg.SegmentsNamed("DG1") {
		if v := p.Component(dg1.Field(3), 1); v != nil {
			texts = append(texts, *v)
		}
		if v := p.Normalize(dg1.Field(4)); v != nil {
			texts = append(texts, *v)
		}
	}

	score += keywordScore(strings.ToLower(strings.Join(texts, " ")), &findings)

	if pv1 := msg.Segment("PV1"); pv1 != nil {
		if class := p.Component(pv1.Field(2), 0); class != nil {
			if w, ok := patientClassWeights[strings.ToUpper(*class)]; ok {
				score += w
				findings = append(findings, "Patient class "+strings.ToUpper(*class))
			}
		}
	}

	if summary.DateOfBirth != nil {
		age := ageAt(*summary.DateOfBirth, now)
		switch {
		case age >= 75:
			score += 10
			findings = append(findings, "Age 75 or older")
		case age < 1:
			score += 10
			findings = append(findings, "Infant")
		}
	}

	score = max(0, min(100, score))
	priority := PriorityFor(score)

	return Assessment{
		PatientID:   summary.PatientID,
		PatientName: displayName(summary.Name),
		Score:       score,
		Priority:    priority,
		Findings:    findings,
		Timeline:    timelines[priority],
	}
}

func keywordScore(text string, findings *[]string) int {
	if text == "" {
		return 0
	}

	var matched []string
	total := 0
	for kw, w := range keywords {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
			total += w
		}
	}
	sort.Strings(matched)
	for _, kw := range matched {
		*findings = append(*findings, "Mentions "+kw)
	}
	return total
}

func ageAt(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

func displayName(n hl7.PersonName) string {
	var parts []string
	if n.First != nil {
		parts = append(parts, *n.First)
	}
	if n.Last != nil {
		parts = append(parts, *n.Last)
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, " ")
}
