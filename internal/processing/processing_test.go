package processing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/agent"
	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/hl7"
	"github.com/minasoft/hl7-liteboard/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const admitMessage = "MSH|^~\\&|APP|FAC|APP2|FAC2|20230101120000||ADT^A01^ADT_A01|123|P|2.5\r" +
	"PID|1||12345^^^HOSP||SMITH^JOHN^A^JR^DR||19850315|M\r" +
	"PV1|1|I|WARD^101^A||||||||||||||||V001|||||||||||||||||||||||||20230101120000"

type fakeConverter struct {
	fail  map[db.Format]bool
	calls atomic.Int32
}

func (f *fakeConverter) Name() string { return "fake" }

func (f *fakeConverter) Convert(_ context.Context, format db.Format, _ string) (agent.Result, error) {
	f.calls.Add(1)
	if f.fail[format] {
		return agent.Result{}, agent.ErrFormatUnavailable
	}
	switch format {
	case db.FormatXML:
		xml := "<HL7Message/>"
		return agent.Result{XML: &xml}, nil
	case db.FormatJSON:
		return agent.Result{JSON: json.RawMessage(`{"ok":true}`)}, nil
	default:
		return agent.Result{PDF: []byte("%PDF-1.4")}, nil
	}
}

func (f *fakeConverter) Health(context.Context) error { return nil }

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func intake(t *testing.T, st *memory.Store) *db.MessageRecord {
	t.Helper()
	rec, err := NewCoordinator(st, &recordingDispatcher{}).Intake(context.Background(), admitMessage, "admit.hl7")
	require.NoError(t, err)
	return rec
}

func TestIntakePersistsPendingSummary(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)

	stored, err := st.GetMessage(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, db.StatePending, stored.State)
	assert.Equal(t, "ADT", stored.MessageType)
	require.NotNil(t, stored.TriggerEvent)
	assert.Equal(t, "A01", *stored.TriggerEvent)
	require.NotNil(t, stored.PatientID)
	assert.Equal(t, "12345", *stored.PatientID)
	require.NotNil(t, stored.PatientLastName)
	assert.Equal(t, "SMITH", *stored.PatientLastName)
	require.NotNil(t, stored.PatientDOB)
	assert.Equal(t, time.Date(1985, 3, 15, 0, 0, 0, 0, time.UTC), *stored.PatientDOB)
	require.NotNil(t, stored.VisitNumber)
	assert.Equal(t, "V001", *stored.VisitNumber)
	assert.Nil(t, stored.XMLContent)
	assert.Empty(t, stored.JSONContent)
}

func TestIntakeRejectsInvalidText(t *testing.T) {
	st := memory.New()
	d := &recordingDispatcher{}
	c := NewCoordinator(st, d)

	for _, raw := range []string{"", "   ", "PID|1||123", "MSHX|^~\\&"} {
		id, err := c.Submit(context.Background(), raw, "bad.hl7")
		assert.ErrorIs(t, err, hl7.ErrValidation, raw)
		assert.Empty(t, id)
	}
	assert.Empty(t, d.jobs)
}

func TestSubmitDispatchesOneJob(t *testing.T) {
	st := memory.New()
	d := &recordingDispatcher{}
	c := NewCoordinator(st, d)

	id, err := c.Submit(context.Background(), admitMessage, "admit.hl7")
	require.NoError(t, err)

	require.Len(t, d.jobs, 1)
	assert.Equal(t, id, d.jobs[0].MessageID)
	assert.Equal(t, admitMessage, d.jobs[0].Raw)
}

func TestSubmitDispatchFailureKeepsRecord(t *testing.T) {
	st := memory.New()
	c := NewCoordinator(st, &recordingDispatcher{err: errors.New("queue down")})

	id, err := c.Submit(context.Background(), admitMessage, "admit.hl7")
	require.ErrorIs(t, err, ErrDispatch)
	require.NotEmpty(t, id)

	state, err := st.GetState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.StatePending, state)
}

func TestOrchestratorCompletes(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)
	conv := &fakeConverter{}

	state, err := NewOrchestrator(st, conv, true).Run(context.Background(), Job{MessageID: rec.ID, Raw: admitMessage})
	require.NoError(t, err)
	assert.Equal(t, db.StateCompleted, state)
	assert.EqualValues(t, 3, conv.calls.Load())

	stored, err := st.GetMessage(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StateCompleted, stored.State)
	assert.True(t, stored.HasFormat(db.FormatXML))
	assert.True(t, stored.HasFormat(db.FormatJSON))
	assert.True(t, stored.HasFormat(db.FormatPDF))

	logs, err := st.ListLogs(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestOrchestratorPartialWhenXMLFails(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)
	conv := &fakeConverter{fail: map[db.Format]bool{db.FormatXML: true}}

	state, err := NewOrchestrator(st, conv, false).Run(context.Background(), Job{MessageID: rec.ID, Raw: admitMessage})
	require.NoError(t, err)
	assert.Equal(t, db.StatePartial, state)

	stored, err := st.GetMessage(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatePartial, stored.State)
	assert.Nil(t, stored.XMLContent)
	assert.JSONEq(t, `{"ok":true}`, string(stored.JSONContent))

	logs, err := st.ListLogs(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "convert_xml", logs[0].ProcessingStep)
	assert.Equal(t, db.LogError, logs[0].Status)
	assert.Equal(t, "fake", logs[0].AgentName)
	assert.NotEmpty(t, logs[0].ErrorMessage)
}

func TestOrchestratorFailsWhenEverythingFails(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)
	conv := &fakeConverter{fail: map[db.Format]bool{db.FormatXML: true, db.FormatJSON: true}}

	state, err := NewOrchestrator(st, conv, false).Run(context.Background(), Job{MessageID: rec.ID, Raw: admitMessage})
	require.NoError(t, err)
	assert.Equal(t, db.StateFailed, state)

	stored, err := st.GetMessage(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StateFailed, stored.State)
	assert.Nil(t, stored.XMLContent)
	assert.Empty(t, stored.JSONContent)
	assert.Empty(t, stored.PDFContent)

	logs, err := st.ListLogs(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestOrchestratorPDFFailureStillCompletes(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)
	conv := &fakeConverter{fail: map[db.Format]bool{db.FormatPDF: true}}

	state, err := NewOrchestrator(st, conv, true).Run(context.Background(), Job{MessageID: rec.ID, Raw: admitMessage})
	require.NoError(t, err)
	assert.Equal(t, db.StateCompleted, state)

	logs, err := st.ListLogs(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "convert_pdf", logs[0].ProcessingStep)
}

func TestOrchestratorRunsOncePerMessage(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)
	o := NewOrchestrator(st, &fakeConverter{}, false)
	job := Job{MessageID: rec.ID, Raw: admitMessage}

	_, err := o.Run(context.Background(), job)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), job)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

type failingContentStore struct {
	*memory.Store
}

func (f failingContentStore) UpdateContent(context.Context, string, db.ContentUpdate) error {
	return errors.New("disk full")
}

func TestOrchestratorContentPersistenceFailure(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)

	state, err := NewOrchestrator(failingContentStore{st}, &fakeConverter{}, false).
		Run(context.Background(), Job{MessageID: rec.ID, Raw: admitMessage})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, db.StateFailed, state)

	stored, err := st.GetState(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StateFailed, stored)
}

func TestFinalState(t *testing.T) {
	tests := []struct {
		name      string
		succeeded map[db.Format]bool
		requested int
		want      db.ProcessingState
	}{
		{"all primary", map[db.Format]bool{db.FormatXML: true, db.FormatJSON: true}, 2, db.StateCompleted},
		{"only json", map[db.Format]bool{db.FormatJSON: true}, 2, db.StatePartial},
		{"only pdf", map[db.Format]bool{db.FormatPDF: true}, 3, db.StatePartial},
		{"nothing", map[db.Format]bool{}, 2, db.StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FinalState(tt.succeeded, tt.requested))
		})
	}
}

func TestStatusTracker(t *testing.T) {
	st := memory.New()
	rec := intake(t, st)
	tracker := NewStatusTracker(st)

	status, err := tracker.Status(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, db.StatePending, status.State)
	assert.Equal(t, 10, status.Progress)
	assert.Equal(t, "Queued", status.Step)

	require.NoError(t, st.TransitionState(context.Background(), rec.ID, db.StatePending, db.StateProcessing))
	status, err = tracker.Status(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, status.Progress)

	status, err = tracker.Status(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestProgressTable(t *testing.T) {
	for state, want := range map[db.ProcessingState]int{
		db.StatePending:    10,
		db.StateProcessing: 50,
		db.StatePartial:    75,
		db.StateCompleted:  100,
		db.StateFailed:     0,
	} {
		got, _ := Progress(state)
		assert.Equal(t, want, got, state)
	}
}

func TestPoolRunsDispatchedJobs(t *testing.T) {
	st := memory.New()
	orch := NewOrchestrator(st, &fakeConverter{}, false)
	p := NewPool(orch, 2, 8)
	c := NewCoordinator(st, p)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := c.Submit(context.Background(), admitMessage, "admit.hl7")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	p.Close()

	for _, id := range ids {
		state, err := st.GetState(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, db.StateCompleted, state)
	}

	assert.ErrorIs(t, p.Dispatch(context.Background(), Job{MessageID: "late"}), ErrPoolClosed)
}

func TestPoolDispatchRespectsContext(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(runnerFunc(func(context.Context, Job) (db.ProcessingState, error) {
		<-block
		return db.StateCompleted, nil
	}), 1, 1)

	require.NoError(t, p.Dispatch(context.Background(), Job{MessageID: "a"}))
	require.NoError(t, p.Dispatch(context.Background(), Job{MessageID: "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Dispatch(ctx, Job{MessageID: "c"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	p.Close()
}

type runnerFunc func(context.Context, Job) (db.ProcessingState, error)

func (f runnerFunc) Run(ctx context.Context, job Job) (db.ProcessingState, error) { return f(ctx, job) }
