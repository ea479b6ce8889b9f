package hl7

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func admitMessage() string {
	return strings.Join([]string{
		`MSH|^~\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20240101120000||ADT^A01|MSG00001|P|2.5`,
		`PID|1||12345^^^HOSP||SMITH^JOHN^A^JR^DR||19850315|male|||123 MAIN ST^^SPRINGFIELD^IL^62701^USA||(555)123-4567`,
		pv1Line(map[int]string{1: "1", 2: "I", 19: "V001", 44: "20240101083000", 45: "20240105170000"}),
	}, "\r")
}

func TestSummarizeAdmit(t *testing.T) {
	s := Summarize(admitMessage())

	assert.Equal(t, "ADT", s.MessageType)
	assert.Equal(t, "A01", *s.TriggerEvent)
	assert.Equal(t, "MSG00001", *s.ControlID)
	assert.Equal(t, "2.5", *s.Version)

	assert.Equal(t, "12345", *s.PatientID)
	assert.Equal(t, "SMITH", *s.Name.Last)
	assert.Equal(t, "JOHN", *s.Name.First)
	assert.Equal(t, "A", *s.Name.Middle)
	assert.Equal(t, "JR", *s.Name.Suffix)
	assert.Equal(t, "DR", *s.Name.Prefix)
	assert.Nil(t, s.Name.Degree)
	assert.Equal(t, time.Date(1985, 3, 15, 0, 0, 0, 0, time.UTC), *s.DateOfBirth)
	assert.Equal(t, "M", *s.Gender)
	assert.Equal(t, "SPRINGFIELD", *s.Address.City)
	assert.Equal(t, "USA", *s.Address.Country)
	assert.Equal(t, "(555)123-4567", *s.Phone)

	assert.Equal(t, "I", *s.PatientClass)
	assert.Equal(t, "V001", *s.VisitNumber)
	assert.Equal(t, time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC), *s.AdmissionDate)
	assert.Equal(t, time.Date(2024, 1, 5, 17, 0, 0, 0, time.UTC), *s.DischargeDate)
}

func TestSummarizeMessageTypeComponents(t *testing.T) {
	s := Summarize(`MSH|^~\&|APP|FAC|APP2|FAC2|20230101120000||ADT^A01^ADT_A01|123|P|2.5`)

	assert.Equal(t, "ADT", s.MessageType)
	assert.Equal(t, "A01", *s.TriggerEvent)
	assert.Equal(t, "123", *s.ControlID)
}

func TestSummarizeHeaderOnly(t *testing.T) {
	s := Summarize(`MSH|^~\&|APP|FAC`)

	assert.Equal(t, UnknownMessageType, s.MessageType)
	assert.Nil(t, s.TriggerEvent)
	assert.Nil(t, s.ControlID)
	assert.Nil(t, s.PatientID)
	assert.Nil(t, s.Name.Last)
	assert.Nil(t, s.VisitNumber)
}

func TestSummarizeEscapedAndCustomEncoding(t *testing.T) {
	text := "MSH#*~$&#APP#FAC#R#RF#20240101##ORU*R01#C2#P#2.3\n" +
		"PID#1##777##O$F$NEIL*MARY##20000229#f"
	s := Summarize(text)

	assert.Equal(t, "ORU", s.MessageType)
	assert.Equal(t, "R01", *s.TriggerEvent)
	assert.Equal(t, "777", *s.PatientID)
	assert.Equal(t, "O#NEIL", *s.Name.Last)
	assert.Equal(t, "MARY", *s.Name.First)
	assert.Equal(t, "F", *s.Gender)
	require.NotNil(t, s.DateOfBirth)
	assert.Equal(t, 29, s.DateOfBirth.Day())
}

func TestSummarizeGarbage(t *testing.T) {
	s := Summarize("not an hl7 message")
	assert.Equal(t, UnknownMessageType, s.MessageType)
	assert.Nil(t, s.PatientID)
}
