package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrameCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordFrameSent(100)
	m.RecordFrameSent(50)
	m.RecordFrameReceived(30)

	if got := testutil.ToFloat64(m.FramesSent); got != 2 {
		t.Errorf("frames sent: %v", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 150 {
		t.Errorf("bytes sent: %v", got)
	}
	if got := testutil.ToFloat64(m.FramesReceived); got != 1 {
		t.Errorf("frames received: %v", got)
	}
}

func TestRecordAudioChunkLastFlag(t *testing.T) {
	m := NewMetrics()

	m.RecordAudioChunk(6400, false)
	m.RecordAudioChunk(1200, true)

	if got := testutil.ToFloat64(m.AudioChunksSent); got != 2 {
		t.Errorf("chunks sent: %v", got)
	}
	if got := testutil.ToFloat64(m.AudioBytesSent); got != 7600 {
		t.Errorf("audio bytes: %v", got)
	}
	if got := testutil.ToFloat64(m.LastChunksSent); got != 1 {
		t.Errorf("last chunks: %v", got)
	}
}

func TestRecordSessionOutcomes(t *testing.T) {
	m := NewMetrics()

	m.RecordSessionStarted("bidi")
	m.RecordSessionFinalized("completed", 42, 10.5)
	m.RecordServerError(45000001)

	if got := testutil.ToFloat64(m.SessionsStarted.WithLabelValues("bidi")); got != 1 {
		t.Errorf("sessions started: %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsFinalized.WithLabelValues("completed")); got != 1 {
		t.Errorf("sessions finalized: %v", got)
	}
	if got := testutil.ToFloat64(m.SessionChars); got != 42 {
		t.Errorf("session chars: %v", got)
	}
	if got := testutil.ToFloat64(m.ServerErrors.WithLabelValues("45000001")); got != 1 {
		t.Errorf("server errors: %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordCommit(5)
	if got := testutil.ToFloat64(b.CommitsTotal); got != 0 {
		t.Errorf("registries shared state: %v", got)
	}
}
