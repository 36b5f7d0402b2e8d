package delivery

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/atotto/clipboard"
)

// Mode selects what happens beyond the clipboard copy.
const (
	// ModeClipboard only copies the text.
	ModeClipboard = "clipboard"
	// ModeType injects the text as keystrokes.
	ModeType = "type"
	// ModePaste copies and presses the paste shortcut.
	ModePaste = "paste"
	// ModeAuto tries typing and falls back to pasting.
	ModeAuto = "auto"
)

const defaultPasteCombo = "ctrl+v"

// Options configure a Deliverer.
type Options struct {
	Mode       string
	PasteCombo string
}

type job struct {
	run   func() error
	reply chan error
}

// Deliverer hands finalized text to the focused application. The
// clipboard is always written; injection then follows the configured
// mode with at most one fallback attempt. Injection commands execute
// on a single worker goroutine in submission order.
type Deliverer struct {
	logger   *slog.Logger
	opts     Options
	backends []Backend

	jobs   chan job
	stopCh chan struct{}
	done   chan struct{}

	// Swapped out in tests.
	writeClipboard func(text string) error
}

// New creates a deliverer over the given backends, typically
// RankedBackends(). The worker starts immediately.
func New(logger *slog.Logger, opts Options, backends []Backend) *Deliverer {
	if opts.Mode == "" {
		opts.Mode = ModeClipboard
	}
	if opts.PasteCombo == "" {
		opts.PasteCombo = defaultPasteCombo
	}
	d := &Deliverer{
		logger:         logger,
		opts:           opts,
		backends:       backends,
		jobs:           make(chan job, 16),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
		writeClipboard: clipboard.WriteAll,
	}
	go d.work()
	return d
}

// Close stops the worker. Queued jobs are dropped.
func (d *Deliverer) Close() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	<-d.done
}

func (d *Deliverer) work() {
	defer close(d.done)
	for {
		select {
		case <-d.stopCh:
			return
		case j := <-d.jobs:
			j.reply <- j.run()
		}
	}
}

// submit runs fn on the worker goroutine and waits for its result.
func (d *Deliverer) submit(fn func() error) error {
	j := job{run: fn, reply: make(chan error, 1)}
	select {
	case d.jobs <- j:
	case <-d.stopCh:
		return fmt.Errorf("deliverer closed")
	}
	select {
	case err := <-j.reply:
		return err
	case <-d.stopCh:
		return fmt.Errorf("deliverer closed")
	}
}

// Deliver copies the text to the clipboard and, depending on the
// mode, types or pastes it into the focused application.
func (d *Deliverer) Deliver(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	clipErr := d.writeClipboard(text)
	if clipErr != nil {
		d.logger.Warn("clipboard write failed", slog.String("error", clipErr.Error()))
	}

	switch d.opts.Mode {
	case ModeType:
		return d.typeText(text)
	case ModePaste:
		if clipErr != nil {
			return fmt.Errorf("paste without clipboard: %w", clipErr)
		}
		return d.pasteKey()
	case ModeAuto:
		if err := d.typeText(text); err != nil {
			d.logger.Info("typing failed, falling back to paste",
				slog.String("error", err.Error()),
			)
			return d.pasteKey()
		}
		return nil
	default:
		return clipErr
	}
}

// typeText tries the preferred backend and at most one fallback.
func (d *Deliverer) typeText(text string) error {
	return d.tryBackends("type", func(b Backend) error {
		return d.submit(func() error { return b.Type(text) })
	})
}

func (d *Deliverer) pasteKey() error {
	return d.tryBackends("paste", func(b Backend) error {
		return d.submit(func() error { return b.PasteKey(d.opts.PasteCombo) })
	})
}

func (d *Deliverer) tryBackends(action string, attempt func(Backend) error) error {
	if len(d.backends) == 0 {
		return fmt.Errorf("no injection backend available")
	}

	tried := 0
	var lastErr error
	for _, b := range d.backends {
		if !b.Available() {
			continue
		}
		if tried >= 2 {
			break
		}
		tried++
		if err := attempt(b); err != nil {
			d.logger.Warn("injection backend failed",
				slog.String("backend", b.Name()),
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		return fmt.Errorf("no injection backend available")
	}
	return lastErr
}
