package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
)

// ErrSessionNotFound is returned for an unknown or deleted session ID.
var ErrSessionNotFound = errors.New("app: session not found")

// ErrClosed is returned by operations issued after [SessionManager.Close].
var ErrClosed = errors.New("app: session manager closed")

// eventBuffer is the per-subscriber event queue length. A subscriber that
// falls further behind misses events.
const eventBuffer = 16

// Checker runs one grammar check.
type Checker interface {
	Check(ctx context.Context, req llmcheck.Request) (llmcheck.Result, error)
}

type checkerFunc func(ctx context.Context, req llmcheck.Request) (llmcheck.Result, error)

func (f checkerFunc) Check(ctx context.Context, req llmcheck.Request) (llmcheck.Result, error) {
	return f(ctx, req)
}

// Meta is the context a document is checked with.
type Meta struct {
	ContentType llmcheck.ContentType `json:"content_type,omitempty"`
	Recipient   string               `json:"recipient,omitempty"`
	Occasion    string               `json:"occasion,omitempty"`
	BookTitle   string               `json:"book_title,omitempty"`
	ReviewType  string               `json:"review_type,omitempty"`
	User        string               `json:"user,omitempty"`
}

func (m Meta) request(text string) llmcheck.Request {
	return llmcheck.Request{
		Text:        text,
		ContentType: m.ContentType,
		Recipient:   m.Recipient,
		Occasion:    m.Occasion,
		BookTitle:   m.BookTitle,
		ReviewType:  m.ReviewType,
		User:        m.User,
	}
}

// View is a session's state as shown to clients.
type View struct {
	ID        string    `json:"id"`
	Meta      Meta      `json:"meta"`
	CreatedAt time.Time `json:"created_at"`
	proofread.Snapshot
	Segments []proofread.Segment `json:"segments"`
}

// EventType names a session event.
type EventType string

const (
	// EventSnapshot carries the state after a change.
	EventSnapshot EventType = "snapshot"

	// EventChecking announces that a check was issued.
	EventChecking EventType = "checking"

	// EventCheckFailed reports a check that could not reach the model.
	EventCheckFailed EventType = "check_failed"
)

// Event is delivered to subscribers of a session.
type Event struct {
	Type  EventType `json:"type"`
	Token uint64    `json:"token,omitempty"`
	View  *View     `json:"view,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// CheckOutcome is the result of an asynchronous check.
type CheckOutcome struct {
	Token uint64
	View  View
	Stats proofread.Stats

	// Stale is set when the buffer changed or a newer check was issued
	// before the answer arrived. The answer was discarded.
	Stale bool

	Err error
}

// document is one proofreading session plus its subscribers.
type document struct {
	id      string
	meta    Meta
	created time.Time
	sess    *proofread.Session

	// ctx is cancelled when the document is deleted.
	ctx    context.Context
	cancel context.CancelFunc

	// emit serializes capturing a view with publishing it, so snapshot
	// events reach subscribers in revision order.
	emit sync.Mutex

	mu      sync.Mutex
	subs    map[uint64]chan Event
	nextSub uint64
	closed  bool
}

func (d *document) view() View {
	snap := d.sess.Snapshot()
	return View{
		ID:        d.id,
		Meta:      d.meta,
		CreatedAt: d.created,
		Snapshot:  snap,
		Segments:  proofread.Segments(snap.Text, snap.Corrections),
	}
}

// publish delivers ev to every subscriber without blocking.
func (d *document) publish(ev Event) {
	ev.At = time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("session event dropped for slow subscriber", "session", d.id, "subscriber", id, "type", ev.Type)
		}
	}
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Checker      Checker
	Metrics      *observe.Metrics
	CheckTimeout time.Duration

	// NewID generates session IDs. Default: random UUIDs.
	NewID func() string
}

// SessionManager owns the open document sessions. All exported methods are
// safe for concurrent use.
type SessionManager struct {
	checker Checker
	metrics *observe.Metrics
	newID   func() string
	timeout atomic.Int64

	mu     sync.RWMutex
	docs   map[string]*document
	closed bool

	// checks tracks in-flight asynchronous checks.
	checks sync.WaitGroup
}

// NewSessionManager returns an empty manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := &SessionManager{
		checker: cfg.Checker,
		metrics: cfg.Metrics,
		newID:   cfg.NewID,
		docs:    make(map[string]*document),
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	m.timeout.Store(int64(cfg.CheckTimeout))
	return m
}

// SetCheckTimeout bounds checks issued from now on. Zero disables the
// bound.
func (m *SessionManager) SetCheckTimeout(d time.Duration) {
	m.timeout.Store(int64(d))
}

// Create opens a session over text.
func (m *SessionManager) Create(text string, meta Meta) (View, error) {
	if meta.ContentType == "" {
		meta.ContentType = llmcheck.DefaultContentType
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &document{
		id:      m.newID(),
		meta:    meta,
		created: time.Now().UTC(),
		sess:    proofread.NewSession(text),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[uint64]chan Event),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return View{}, fmt.Errorf("app: create session: %w", ErrClosed)
	}
	m.docs[d.id] = d
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Debug("session created", "session", d.id, "content_type", meta.ContentType, "len", len(text))
	return d.view(), nil
}

func (m *SessionManager) get(id string) (*document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return d, nil
}

// Get returns the current view of session id.
func (m *SessionManager) Get(id string) (View, error) {
	d, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	return d.view(), nil
}

// List returns the views of all sessions, oldest first.
func (m *SessionManager) List() []View {
	m.mu.RLock()
	docs := slices.Collect(maps.Values(m.docs))
	m.mu.RUnlock()

	slices.SortFunc(docs, func(a, b *document) int { return a.created.Compare(b.created) })
	out := make([]View, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.view())
	}
	return out
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Check issues a grammar check of the session's current buffer and returns
// at once. The outcome is sent on the returned channel, which is then
// closed. An answer that arrives after the buffer changed, or after a newer
// check was issued, is discarded and reported as stale.
//
// The check keeps running when ctx is cancelled; it stops when the session
// is deleted or the check timeout expires.
func (m *SessionManager) Check(ctx context.Context, id string) (<-chan CheckOutcome, error) {
	d, err := m.get(id)
	if err != nil {
		return nil, err
	}

	req := d.sess.Begin()
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("app: check session %s: %w", id, llmcheck.ErrEmptyText)
	}

	// The Add happens under m.mu so that Close either rejects this check or
	// waits for it.
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("app: check session %s: %w", id, ErrClosed)
	}
	m.checks.Add(1)
	m.mu.RUnlock()

	cctx := observe.WithSession(context.WithoutCancel(ctx), d.id)
	var cancel context.CancelFunc
	if t := time.Duration(m.timeout.Load()); t > 0 {
		cctx, cancel = context.WithTimeout(cctx, t)
	} else {
		cctx, cancel = context.WithCancel(cctx)
	}
	stop := context.AfterFunc(d.ctx, cancel)

	d.publish(Event{Type: EventChecking, Token: req.Token})

	out := make(chan CheckOutcome, 1)
	go func() {
		defer m.checks.Done()
		defer close(out)
		defer cancel()
		defer stop()
		out <- m.runCheck(cctx, d, req)
	}()
	return out, nil
}

func (m *SessionManager) runCheck(ctx context.Context, d *document, req proofread.Request) CheckOutcome {
	log := observe.Logger(ctx).With("token", req.Token)

	start := time.Now()
	res, err := m.checker.Check(ctx, d.meta.request(req.Text))
	elapsed := time.Since(start).Seconds()

	outcome := CheckOutcome{Token: req.Token, Stats: res.Stats}
	if err == nil {
		err = d.sess.Resolve(req, res.Corrections)
	}

	switch {
	case err == nil:
		m.metrics.RecordCheck(ctx, "ok", elapsed)
		d.emit.Lock()
		outcome.View = d.view()
		d.publish(Event{Type: EventSnapshot, Token: req.Token, View: &outcome.View})
		d.emit.Unlock()
		log.Debug("check resolved", "corrections", len(res.Corrections))

	case errors.Is(err, proofread.ErrStaleRequest):
		m.metrics.RecordCheck(ctx, "stale", elapsed)
		m.metrics.StaleResponses.Add(ctx, 1)
		outcome.Stale = true
		outcome.View = d.view()
		log.Debug("stale check discarded", "err", err)

	default:
		m.metrics.RecordCheck(ctx, "error", elapsed)
		outcome.Err = err
		outcome.View = d.view()
		d.publish(Event{Type: EventCheckFailed, Token: req.Token, Error: err.Error()})
		if errors.Is(err, proofread.ErrSpanDrift) {
			log.Error("check produced spans that do not match the buffer", "err", err)
		} else {
			log.Warn("check failed", "err", err)
		}
	}
	return outcome
}

// SetText replaces the buffer of session id, discarding pending
// corrections and invalidating in-flight checks.
func (m *SessionManager) SetText(id, text string) (View, error) {
	d, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	d.sess.SetText(text)
	return m.changed(d), nil
}

// Apply applies one pending correction.
func (m *SessionManager) Apply(ctx context.Context, id, correctionID string) (View, error) {
	d, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	if _, err := d.sess.Apply(correctionID); err != nil {
		m.logApplyError(ctx, d, err)
		return View{}, err
	}
	m.metrics.CorrectionsApplied.Add(ctx, 1)
	return m.changed(d), nil
}

// ApplyAll applies every pending correction and returns how many were
// applied.
func (m *SessionManager) ApplyAll(ctx context.Context, id string) (View, int, error) {
	d, err := m.get(id)
	if err != nil {
		return View{}, 0, err
	}
	_, n, err := d.sess.ApplyAll()
	if n > 0 {
		m.metrics.CorrectionsApplied.Add(ctx, int64(n))
	}
	v := m.changed(d)
	if err != nil {
		m.logApplyError(ctx, d, err)
		return v, n, err
	}
	return v, n, nil
}

// Dismiss drops a pending correction without editing the buffer.
func (m *SessionManager) Dismiss(id, correctionID string) (View, error) {
	d, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	if _, err := d.sess.Dismiss(correctionID); err != nil {
		return View{}, err
	}
	return m.changed(d), nil
}

func (m *SessionManager) logApplyError(ctx context.Context, d *document, err error) {
	if errors.Is(err, proofread.ErrSpanDrift) {
		observe.Logger(ctx).Error("correction no longer matches the buffer", "session", d.id, "err", err)
	}
}

// changed publishes the new state of d and returns it.
func (m *SessionManager) changed(d *document) View {
	d.emit.Lock()
	defer d.emit.Unlock()
	v := d.view()
	d.publish(Event{Type: EventSnapshot, View: &v})
	return v
}

// Subscribe returns a channel of events for session id and a function that
// ends the subscription. The channel is closed when the subscription ends or
// the session is deleted.
func (m *SessionManager) Subscribe(id string) (<-chan Event, func(), error) {
	d, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Event, eventBuffer)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sub := d.nextSub
	d.nextSub++
	d.subs[sub] = ch
	d.mu.Unlock()

	m.metrics.EventSubscribers.Add(context.Background(), 1)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			d.mu.Lock()
			if c, ok := d.subs[sub]; ok {
				delete(d.subs, sub)
				close(c)
			}
			d.mu.Unlock()
			m.metrics.EventSubscribers.Add(context.Background(), -1)
		})
	}
	return ch, unsubscribe, nil
}

// Delete closes session id. In-flight checks are cancelled and subscribers
// are disconnected.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	d, ok := m.docs[id]
	delete(m.docs, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.closeDocument(d)
	return nil
}

func (m *SessionManager) closeDocument(d *document) {
	d.cancel()
	d.mu.Lock()
	d.closed = true
	for sub, ch := range d.subs {
		delete(d.subs, sub)
		close(ch)
	}
	d.mu.Unlock()
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Debug("session closed", "session", d.id)
}

// Close deletes every session and waits for in-flight checks to return.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	m.closed = true
	docs := m.docs
	m.docs = make(map[string]*document)
	m.mu.Unlock()

	for _, d := range docs {
		m.closeDocument(d)
	}
	m.checks.Wait()
	return nil
}

