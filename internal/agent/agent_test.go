package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHL7 = "MSH|^~\\&|APP|FAC|R|RF|20240101120000||ADT^A01|C1|P|2.5\rPID|1||12345||DOE^JANE||19900101|F"

func newAgentServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{Endpoint: srv.URL + "/", Timeout: 2 * time.Second})
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultEndpoint, c.endpoint)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, DefaultName, c.Name())
}

func TestClientConvertStructured(t *testing.T) {
	var got structuredRequest
	c := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/hl7-to-structured", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"xml":"<HL7Message/>","json":{"messageType":"ADT"}}`))
	})

	res, err := c.Convert(context.Background(), db.FormatXML, sampleHL7)
	require.NoError(t, err)
	require.NotNil(t, res.XML)
	assert.Equal(t, "<HL7Message/>", *res.XML)
	assert.Equal(t, sampleHL7, got.HL7Content)
	assert.Equal(t, []string{"xml"}, got.OutputFormats)

	res, err = c.Convert(context.Background(), db.FormatJSON, sampleHL7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"messageType":"ADT"}`, string(res.JSON))
	assert.Equal(t, []string{"json"}, got.OutputFormats)
}

func TestClientConvertMissingField(t *testing.T) {
	c := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"xml":null,"json":null}`))
	})

	_, err := c.Convert(context.Background(), db.FormatXML, sampleHL7)
	assert.ErrorIs(t, err, ErrFormatUnavailable)

	_, err = c.Convert(context.Background(), db.FormatJSON, sampleHL7)
	assert.ErrorIs(t, err, ErrFormatUnavailable)
}

func TestClientConvertNon200(t *testing.T) {
	c := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent exploded", http.StatusInternalServerError)
	})

	_, err := c.Convert(context.Background(), db.FormatJSON, sampleHL7)
	require.ErrorIs(t, err, ErrFormatUnavailable)
	assert.Contains(t, err.Error(), "500")
}

func TestClientConvertInvalidBody(t *testing.T) {
	c := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := c.Convert(context.Background(), db.FormatXML, sampleHL7)
	assert.ErrorIs(t, err, ErrFormatUnavailable)
}

func TestClientConvertTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Convert(context.Background(), db.FormatXML, sampleHL7)
	assert.ErrorIs(t, err, ErrFormatUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientConvertPDF(t *testing.T) {
	var got pdfRequest
	c := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/hl7-to-pdf", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 body"))
	})

	res, err := c.Convert(context.Background(), db.FormatPDF, sampleHL7)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 body"), res.PDF)
	assert.Equal(t, "latex", got.Format)
}

func TestClientConvertEmptyPDF(t *testing.T) {
	c := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.Convert(context.Background(), db.FormatPDF, sampleHL7)
	assert.ErrorIs(t, err, ErrFormatUnavailable)
}

func TestClientConvertUnknownFormat(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1"})
	_, err := c.Convert(context.Background(), db.Format("docx"), sampleHL7)
	assert.ErrorIs(t, err, ErrFormatUnavailable)
}

func TestClientHealth(t *testing.T) {
	var unhealthy atomic.Bool
	c := newAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	assert.NoError(t, c.Health(context.Background()))

	unhealthy.Store(true)
	assert.Error(t, c.Health(context.Background()))
}

func TestMockConvert(t *testing.T) {
	m := &Mock{}
	ctx := context.Background()

	res, err := m.Convert(ctx, db.FormatXML, sampleHL7)
	require.NoError(t, err)
	require.NotNil(t, res.XML)
	assert.True(t, strings.HasPrefix(*res.XML, "<?xml"))
	assert.Contains(t, *res.XML, "<MessageType>ADT</MessageType>")
	assert.Contains(t, *res.XML, "<LastName>DOE</LastName>")
	assert.Contains(t, *res.XML, "<DateOfBirth>1990-01-01</DateOfBirth>")

	res, err = m.Convert(ctx, db.FormatJSON, sampleHL7)
	require.NoError(t, err)
	var doc struct {
		MessageHeader struct {
			MessageType string `json:"messageType"`
			ControlID   string `json:"controlId"`
		} `json:"messageHeader"`
		Patient struct {
			PatientID string `json:"patient_id"`
		} `json:"patient"`
	}
	require.NoError(t, json.Unmarshal(res.JSON, &doc))
	assert.Equal(t, "ADT", doc.MessageHeader.MessageType)
	assert.Equal(t, "C1", doc.MessageHeader.ControlID)
	assert.Equal(t, "12345", doc.Patient.PatientID)

	res, err = m.Convert(ctx, db.FormatPDF, sampleHL7)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(res.PDF), "%PDF-1.4"))

	assert.NoError(t, m.Health(ctx))
}

func TestMockDelayHonoursContext(t *testing.T) {
	m := &Mock{Delay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Convert(ctx, db.FormatXML, sampleHL7)
	assert.ErrorIs(t, err, ErrFormatUnavailable)
}
