package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whoamihappyhacking/just-talk/internal/audio"
	"github.com/whoamihappyhacking/just-talk/internal/protocol"
	"github.com/whoamihappyhacking/just-talk/internal/transport"
)

const targetSampleRate = 16000

// Transport is the engine's view of the socket layer. All three calls
// are queued and non-blocking.
type Transport interface {
	Connect(url string, headers map[string]string)
	SendBinary(data []byte)
	CloseConn()
}

// TextDeliverer hands the finalized transcript to the outside world
// (clipboard, typing, pasting). Called from the engine goroutine.
type TextDeliverer interface {
	Deliver(text string) error
}

// MetricsRecorder receives session-level measurements. A nil recorder
// disables recording.
type MetricsRecorder interface {
	RecordSessionStarted(mode string)
	RecordSessionFinalized(outcome string, chars int, seconds float64)
	RecordCommit(chars int)
	RecordServerError(code uint32)
	RecordAudioChunk(bytes int, last bool)
}

// Events are the engine's outward notifications. Fields may be nil.
// Calls arrive serialized from the engine goroutine.
type Events struct {
	OnStateChanged func(state string)
	OnErrorMessage func(msg string)
}

// Options configure a recognition engine.
type Options struct {
	Mode        Mode
	BaseURL     string
	AppID       string
	AccessToken string
	ResourceID  string
	UID         string

	UseGzip    bool
	EnablePunc bool
	EnableDDC  bool
	Hotwords   string

	ChunkMS         int
	FinalizeTimeout time.Duration

	// Built-in trial credentials cap each recording.
	DefaultCredentials bool
	RecordingLimit     time.Duration
}

// Engine owns one recognition session at a time. It reacts to start,
// stop, audio, and decoded server frames, merging the server's partial
// and definite fragments into committed text. A single goroutine
// processes all events in order, so the session fields need no lock.
type Engine struct {
	logger    *slog.Logger
	opts      Options
	tr        Transport
	history   *History
	stats     *Stats
	deliverer TextDeliverer
	metrics   MetricsRecorder
	events    Events

	queue  chan func()
	stopCh chan struct{}
	done   chan struct{}

	// Owned by the event goroutine.
	connecting            bool
	connected             bool
	sending               bool
	pendingCloseAfterLast bool
	userCancelled         bool

	committedText        string
	partialText          string
	lastCommittedEndTime int
	lastFullText         string

	currentRow       int
	rowTimestamp     string
	sessionStartedAt time.Time
	sessionElapsed   float64
	connectID        string
	lastState        string

	resampler   *audio.Resampler
	chunker     *audio.Chunker
	captureRate int

	closeTimerGen int
	limitTimerGen int
}

// New creates an engine. deliverer and metrics may be nil.
func New(logger *slog.Logger, opts Options, tr Transport, history *History,
	stats *Stats, deliverer TextDeliverer, metrics MetricsRecorder, events Events) *Engine {

	if opts.ChunkMS <= 0 {
		opts.ChunkMS = 200
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 1500 * time.Millisecond
	}
	return &Engine{
		logger:               logger,
		opts:                 opts,
		tr:                   tr,
		history:              history,
		stats:                stats,
		deliverer:            deliverer,
		metrics:              metrics,
		events:               events,
		queue:                make(chan func(), 256),
		stopCh:               make(chan struct{}),
		done:                 make(chan struct{}),
		currentRow:           -1,
		lastCommittedEndTime: -1,
	}
}

// Start launches the event goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Shutdown closes any live session and stops the event goroutine.
func (e *Engine) Shutdown() {
	ack := make(chan struct{})
	e.post(func() {
		e.forceClose()
		close(ack)
	})
	select {
	case <-ack:
	case <-e.stopCh:
	}
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	<-e.done
}

// Callbacks returns the transport callbacks wired into this engine.
// Each callback posts onto the engine's serialized event queue.
func (e *Engine) Callbacks() transport.Callbacks {
	return transport.Callbacks{
		OnConnected:    func() { e.post(e.handleConnected) },
		OnDisconnected: func() { e.post(e.handleDisconnected) },
		OnError: func(err error) {
			e.post(func() { e.handleTransportError(err) })
		},
		OnBinaryMessage: func(payload []byte) {
			msg := protocol.ParseServerMessage(payload)
			e.post(func() { e.handleServerMessage(msg) })
		},
		// The service speaks binary only; a text frame is noise.
		OnTextMessage: func(text string) {
			e.logger.Debug("ignoring text message", slog.Int("len", len(text)))
		},
	}
}

// StartRecognition begins a new session: connects if needed, then
// starts accepting audio. Ignored while a session is already live.
func (e *Engine) StartRecognition() {
	e.post(e.startRecognition)
}

// StopRecognition ends the current session. With no audio sent the
// session is cancelled and leaves no history row; otherwise the last
// chunk is flushed and the engine waits briefly for the server's
// completion marker before finalizing.
func (e *Engine) StopRecognition() {
	e.post(e.stopRecognition)
}

// Cancel aborts the current session on the user's behalf; the
// transcript is not delivered.
func (e *Engine) Cancel() {
	e.post(func() {
		e.userCancelled = true
		e.stopRecognition()
	})
}

// OnAudioReady accepts one raw capture buffer. Safe to call from the
// capture thread; the bytes are copied before crossing goroutines.
func (e *Engine) OnAudioReady(raw []byte, rate, channels int) {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	e.post(func() { e.handleAudio(buf, rate, channels) })
}

// ClearHistory drops all transcript rows and resets session state.
func (e *Engine) ClearHistory() {
	e.post(func() {
		e.history.Clear()
		e.resetSession()
		e.stats.Observe("", 0)
		e.emitState()
	})
}

// Snapshot is a read-only view of the live session.
type Snapshot struct {
	State         string `json:"state"`
	Mode          string `json:"mode"`
	Connected     bool   `json:"connected"`
	Sending       bool   `json:"sending"`
	CommittedText string `json:"committed_text"`
	PartialText   string `json:"partial_text"`
}

// CurrentSnapshot returns the engine's state as seen by its own
// goroutine. Returns the zero snapshot after Shutdown.
func (e *Engine) CurrentSnapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	e.post(func() {
		reply <- Snapshot{
			State:         e.stateString(),
			Mode:          string(e.opts.Mode),
			Connected:     e.connected,
			Sending:       e.sending,
			CommittedText: e.committedText,
			PartialText:   e.partialText,
		}
	})
	select {
	case snap := <-reply:
		return snap
	case <-e.stopCh:
		return Snapshot{}
	}
}

func (e *Engine) post(fn func()) {
	select {
	case e.queue <- fn:
	case <-e.stopCh:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stopCh:
			return
		case fn := <-e.queue:
			fn()
		}
	}
}

func (e *Engine) startRecognition() {
	if e.sending || e.connecting {
		return
	}

	if !e.connected {
		if err := e.validateCredentials(); err != nil {
			e.emitError(err.Error())
			return
		}
		e.beginNewSession()
		e.connectID = uuid.NewString()
		headers := map[string]string{
			"X-Api-App-Key":    strings.TrimSpace(e.opts.AppID),
			"X-Api-Access-Key": strings.TrimSpace(e.opts.AccessToken),
			"X-Api-Resource-Id": e.opts.ResourceID,
			"X-Api-Connect-Id":  e.connectID,
		}
		e.connecting = true
		url := e.opts.Mode.URL(e.opts.BaseURL)
		e.logger.Info("connecting",
			slog.String("url", url),
			slog.String("mode", string(e.opts.Mode)),
			slog.String("connect_id", e.connectID),
		)
		e.tr.Connect(url, headers)
		e.emitState()
		return
	}

	e.beginNewSession()
	e.startCapture()
	e.emitState()
}

func (e *Engine) validateCredentials() error {
	if strings.TrimSpace(e.opts.AppID) == "" {
		return fmt.Errorf("missing app id")
	}
	if strings.TrimSpace(e.opts.AccessToken) == "" {
		return fmt.Errorf("missing access token")
	}
	return nil
}

func (e *Engine) beginNewSession() {
	e.resetSession()
	e.stats.ResetSpeed()
	e.rowTimestamp = time.Now().Format("2006-01-02 15:04:05")
	e.currentRow = e.history.Insert(HistoryEntry{
		Timestamp: e.rowTimestamp,
		Partial:   true,
	})
	e.stats.Observe("", 0)
	if e.metrics != nil {
		e.metrics.RecordSessionStarted(string(e.opts.Mode))
	}
}

func (e *Engine) resetSession() {
	e.limitTimerGen++
	e.closeTimerGen++
	e.committedText = ""
	e.partialText = ""
	e.lastCommittedEndTime = -1
	e.lastFullText = ""
	e.userCancelled = false
	e.pendingCloseAfterLast = false
	e.currentRow = -1
	e.sessionStartedAt = time.Time{}
	e.sessionElapsed = 0
	e.resampler = nil
	e.chunker = nil
}

func (e *Engine) handleConnected() {
	e.connected = true
	e.connecting = false
	e.logger.Info("session connected")

	payload, err := BuildRequestJSON(RequestOptions{
		Mode:               e.opts.Mode,
		UID:                e.opts.UID,
		EnablePunc:         e.opts.EnablePunc,
		EnableDDC:          e.opts.EnableDDC,
		Hotwords:           e.opts.Hotwords,
		DefaultCredentials: e.opts.DefaultCredentials,
	})
	if err != nil {
		e.emitError("build request: " + err.Error())
		e.forceClose()
		return
	}
	e.tr.SendBinary(protocol.BuildFullClientRequest(string(payload), e.opts.UseGzip))
	e.startCapture()
	e.emitState()
}

func (e *Engine) startCapture() {
	if e.sending || !e.connected {
		return
	}
	e.resampler = nil
	e.captureRate = 0
	e.chunker = audio.NewChunker(
		audio.ChunkSize(targetSampleRate, e.opts.ChunkMS), e.sendChunk)
	e.sending = true
	e.sessionStartedAt = time.Now()
	e.armRecordingLimit()
}

func (e *Engine) sendChunk(chunk []byte, last bool) {
	if !e.connected {
		return
	}
	e.tr.SendBinary(protocol.BuildAudioOnlyRequest(chunk, last, e.opts.UseGzip))
	if e.metrics != nil {
		e.metrics.RecordAudioChunk(len(chunk), last)
	}
}

func (e *Engine) handleAudio(raw []byte, rate, channels int) {
	if !e.sending || !e.connected {
		return
	}
	if e.resampler == nil || rate != e.captureRate {
		e.resampler = audio.NewResampler(rate, targetSampleRate)
		e.captureRate = rate
	}
	pcm := audio.DownmixAndResample(raw, channels, e.resampler)
	if len(pcm) == 0 {
		return
	}
	e.chunker.Push(pcm)
}

func (e *Engine) stopRecognition() {
	shouldCancel := e.chunker == nil || !e.chunker.AudioSent()

	if e.connecting && !e.connected {
		e.connecting = false
		e.finalizeSession(true)
		e.forceClose()
		e.emitState()
		return
	}

	if e.sending {
		if shouldCancel {
			// Nothing was sent; treat the activation as a no-op.
			if e.currentRow >= 0 {
				e.history.Remove(e.currentRow)
				e.currentRow = -1
			}
			e.forceClose()
		} else {
			e.pendingCloseAfterLast = true
			e.stopCaptureSendLast()
			e.armCloseTimer()
		}
	} else {
		e.forceClose()
	}
	e.emitState()
}

// stopCaptureSendLast stops accepting audio and flushes the remainder
// as the final chunk, which may be empty.
func (e *Engine) stopCaptureSendLast() {
	ch := e.chunker
	e.stopCaptureNoLast()
	if !e.connected || ch == nil {
		return
	}
	ch.Flush()
}

func (e *Engine) stopCaptureNoLast() {
	e.limitTimerGen++
	e.sending = false
	if !e.sessionStartedAt.IsZero() {
		e.sessionElapsed += time.Since(e.sessionStartedAt).Seconds()
		e.sessionStartedAt = time.Time{}
	}
	e.stats.Observe(e.currentSessionText(true), e.sessionElapsed)
}

// armCloseTimer bounds the wait for the server's completion marker
// after the final chunk. The server normally echoes the marker well
// within the timeout; the timer is a safety net against one that
// never does.
func (e *Engine) armCloseTimer() {
	e.closeTimerGen++
	gen := e.closeTimerGen
	time.AfterFunc(e.opts.FinalizeTimeout, func() {
		e.post(func() {
			if gen != e.closeTimerGen || !e.pendingCloseAfterLast {
				return
			}
			e.logger.Warn("completion marker timed out, closing")
			e.forceClose()
		})
	})
}

func (e *Engine) armRecordingLimit() {
	if !e.opts.DefaultCredentials || e.opts.RecordingLimit <= 0 {
		return
	}
	e.limitTimerGen++
	gen := e.limitTimerGen
	time.AfterFunc(e.opts.RecordingLimit, func() {
		e.post(func() {
			if gen != e.limitTimerGen || !e.sending {
				return
			}
			e.logger.Info("trial recording limit reached")
			e.emitError("built-in trial credentials allow one minute per recording")
			e.stopRecognition()
		})
	})
}

func (e *Engine) forceClose() {
	e.connecting = false
	e.connected = false
	e.pendingCloseAfterLast = false
	e.closeTimerGen++
	e.tr.CloseConn()
	e.stopCaptureNoLast()
}

func (e *Engine) handleDisconnected() {
	e.connected = false
	e.connecting = false
	e.pendingCloseAfterLast = false
	e.closeTimerGen++
	e.stopCaptureNoLast()
	e.logger.Info("session disconnected")
	e.finalizeSession(false)
	e.emitState()
}

func (e *Engine) handleTransportError(err error) {
	e.emitError(err.Error())
	e.forceClose()
	e.emitState()
}

type serverUtterance struct {
	Definite bool   `json:"definite"`
	EndTime  *int   `json:"end_time"`
	Text     string `json:"text"`
}

type serverResult struct {
	Utterances []serverUtterance `json:"utterances"`
	Text       string            `json:"text"`
}

type serverBody struct {
	Result *serverResult `json:"result"`
}

func (e *Engine) handleServerMessage(msg protocol.ServerMessage) {
	switch msg.Kind {
	case protocol.KindError:
		if e.metrics != nil {
			e.metrics.RecordServerError(msg.ErrorCode)
		}
		e.emitError(fmt.Sprintf("server error %d: %s", msg.ErrorCode, msg.ErrorMsg))
		if e.pendingCloseAfterLast {
			e.forceClose()
			e.emitState()
		}
		return
	case protocol.KindResponse:
	default:
		return
	}

	var body serverBody
	_ = json.Unmarshal([]byte(msg.JSONText), &body)

	partial := ""
	finalText := ""
	if body.Result != nil {
		if body.Result.Utterances != nil {
			partial = e.mergeUtterances(body.Result.Utterances)
		} else if full := strings.TrimSpace(body.Result.Text); full != "" {
			partial, finalText = e.mergeFullText(full)
		}
	}

	e.setPartial(partial)

	if finalText != "" && msg.IsLastPackage() {
		// Commit the provisional final text once the server confirms
		// completion.
		e.partialText = ""
		e.appendCommitted(finalText)
	}

	if e.pendingCloseAfterLast && msg.IsLastPackage() {
		e.forceClose()
		e.emitState()
	}
}

// mergeUtterances commits every definite utterance newer than the
// last committed marker and returns the freshest non-definite text as
// the new partial. The end-time marker guards against the server
// restating an already committed utterance.
func (e *Engine) mergeUtterances(utterances []serverUtterance) string {
	for _, u := range utterances {
		if !u.Definite || u.EndTime == nil || *u.EndTime <= e.lastCommittedEndTime {
			continue
		}
		if text := strings.TrimSpace(u.Text); text != "" {
			e.appendCommitted(text)
			e.lastCommittedEndTime = *u.EndTime
		}
	}
	for i := len(utterances) - 1; i >= 0; i-- {
		if !utterances[i].Definite {
			return strings.TrimSpace(utterances[i].Text)
		}
	}
	return ""
}

// mergeFullText applies the flat-text merge rules. In bidi_async the
// full text is the partial and becomes a provisional final. Otherwise
// growth against the previous snapshot commits only the new suffix; a
// non-prefix revision commits the whole new text.
func (e *Engine) mergeFullText(full string) (partial, finalText string) {
	switch {
	case e.opts.Mode == ModeBidiAsync:
		partial = full
		finalText = full
	case e.lastFullText != "" && strings.HasPrefix(full, e.lastFullText):
		// The hypothesis grew in place; extend the committed text
		// without a row break so "he" then "hello" ends as "hello".
		if suffix := full[len(e.lastFullText):]; strings.TrimSpace(suffix) != "" {
			e.appendCommittedInline(suffix)
		}
	case full != e.lastFullText:
		e.appendCommitted(full)
	}
	e.lastFullText = full
	return partial, finalText
}

func (e *Engine) appendCommitted(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if e.committedText != "" {
		e.committedText = strings.TrimRight(e.committedText, " \t\n") + "\n" + text
	} else {
		e.committedText = text
	}
	if e.metrics != nil {
		e.metrics.RecordCommit(countChars(text))
	}
	e.updateCurrentRow()
	e.observeStats()
}

// appendCommittedInline extends the last committed line rather than
// starting a new one. Used for suffix deltas of a growing flat-text
// hypothesis.
func (e *Engine) appendCommittedInline(suffix string) {
	if e.committedText == "" {
		suffix = strings.TrimLeft(suffix, " \t\n")
	}
	e.committedText = strings.TrimRight(e.committedText+suffix, " \t\n")
	if e.metrics != nil {
		e.metrics.RecordCommit(countChars(suffix))
	}
	e.updateCurrentRow()
	e.observeStats()
}

func (e *Engine) setPartial(text string) {
	e.partialText = strings.TrimSpace(text)
	e.updateCurrentRow()
	e.observeStats()
}

func (e *Engine) currentSessionText(includePartial bool) string {
	text := strings.TrimSpace(e.committedText)
	if includePartial {
		if p := strings.TrimSpace(e.partialText); p != "" {
			if text != "" {
				text = text + "\n" + p
			} else {
				text = p
			}
		}
	}
	return text
}

func (e *Engine) updateCurrentRow() {
	if e.currentRow < 0 {
		return
	}
	e.history.Update(e.currentRow, HistoryEntry{
		Timestamp: e.rowTimestamp,
		Text:      e.currentSessionText(true),
		Partial:   e.sending || e.pendingCloseAfterLast || e.partialText != "",
	})
}

func (e *Engine) currentElapsed() float64 {
	elapsed := e.sessionElapsed
	if !e.sessionStartedAt.IsZero() {
		elapsed += time.Since(e.sessionStartedAt).Seconds()
	}
	return elapsed
}

func (e *Engine) observeStats() {
	e.stats.Observe(e.currentSessionText(true), e.currentElapsed())
}

// finalizeSession freezes or discards the current history row. An
// empty transcript leaves no trace; a non-empty one is delivered
// unless the session was cancelled.
func (e *Engine) finalizeSession(cancelled bool) {
	e.partialText = ""
	if e.currentRow < 0 {
		return
	}

	content := e.currentSessionText(false)
	elapsed := e.currentElapsed()
	e.stats.Finalize(content, elapsed, cancelled)

	row := e.currentRow
	if content == "" {
		e.history.Remove(row)
	} else {
		e.history.Update(row, HistoryEntry{
			Timestamp: e.rowTimestamp,
			Text:      content,
			Partial:   false,
		})
		if !cancelled && !e.userCancelled && e.deliverer != nil {
			if err := e.deliverer.Deliver(content); err != nil {
				e.logger.Warn("text delivery failed", slog.String("error", err.Error()))
			}
		}
	}

	outcome := "completed"
	if cancelled || e.userCancelled {
		outcome = "cancelled"
	} else if content == "" {
		outcome = "empty"
	}
	if e.metrics != nil {
		e.metrics.RecordSessionFinalized(outcome, countChars(content), elapsed)
	}
	e.logger.Info("session finalized",
		slog.String("outcome", outcome),
		slog.Int("chars", countChars(content)),
		slog.Float64("elapsed_s", elapsed),
	)

	e.currentRow = -1
	e.committedText = ""
	e.sessionElapsed = 0
	e.sessionStartedAt = time.Time{}
	e.stats.Observe("", 0)
}

func (e *Engine) stateString() string {
	switch {
	case e.connecting:
		return "connecting"
	case e.pendingCloseAfterLast:
		return "finalizing"
	case e.sending:
		return "recording"
	case e.connected:
		return "connected"
	default:
		return "idle"
	}
}

func (e *Engine) emitState() {
	state := e.stateString()
	if state == e.lastState {
		return
	}
	e.lastState = state
	if e.events.OnStateChanged != nil {
		e.events.OnStateChanged(state)
	}
}

func (e *Engine) emitError(msg string) {
	e.logger.Error("session error", slog.String("error", msg))
	if e.events.OnErrorMessage != nil {
		e.events.OnErrorMessage(msg)
	}
}
