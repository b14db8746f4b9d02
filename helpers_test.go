package persistunit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	errBody     = errors.New("body failed")
	errBefore   = errors.New("before failed")
	errRelease  = errors.New("release failed")
	errNotReady = errors.New("fake session does not run queries")
)

// journal records the order of setup and teardown steps.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// recordingDecorator journals "before:<name>" and "after:<name>" around proceed
// and can be told to fail at either point.
type recordingDecorator struct {
	name       string
	priority   int
	journal    *journal
	failBefore error
	failAfter  error
	onlyIf     func(FeatureConfig) bool
}

func (d *recordingDecorator) Name() string  { return d.name }
func (d *recordingDecorator) Priority() int { return d.priority }

func (d *recordingDecorator) Apply(ctx context.Context, inv Invocation) (err error) {
	d.journal.add("before:" + d.name)
	if d.failBefore != nil {
		return d.failBefore
	}
	defer func() {
		d.journal.add("after:" + d.name)
		err = WithTeardown(err, d.name, d.failAfter)
	}()
	return inv.Proceed(ctx)
}

type conditionalDecorator struct {
	*recordingDecorator
}

func (d conditionalDecorator) AppliesTo(f FeatureConfig) bool { return d.onlyIf(f) }

func newRecorder(j *journal, name string, priority int) *recordingDecorator {
	return &recordingDecorator{name: name, priority: priority, journal: j}
}

// eventLog is an observer collecting event types.
type eventLog struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (l *eventLog) OnEvent(_ context.Context, e cloudevents.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) ObserverID() string { return "event-log" }

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type()
	}
	return out
}

// fakeSession counts Close calls.
type fakeSession struct {
	closed int
}

func (s *fakeSession) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNotReady
}

func (s *fakeSession) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNotReady
}

func (s *fakeSession) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }
func (s *fakeSession) Begin(context.Context) (Transaction, error)               { return nil, errNotReady }
func (s *fakeSession) InTransaction() bool                                      { return false }
func (s *fakeSession) Driver() string                                           { return "fake" }
func (s *fakeSession) Close() error                                             { s.closed++; return nil }

type fakeFactory struct {
	sessions []*fakeSession
}

func (f *fakeFactory) OpenSession(context.Context) (Session, error) {
	s := &fakeSession{}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) Cache() SecondLevelCache { return nil }
func (f *fakeFactory) Driver() string          { return "fake" }

type fakeProducer struct {
	mu        sync.Mutex
	created   int
	destroyed int
}

func (p *fakeProducer) Create(context.Context) (Factory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return &fakeFactory{}, nil
}

func (p *fakeProducer) Destroy(context.Context, Factory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed++
	return nil
}

func fakeUnits(names ...string) StaticUnits {
	u := StaticUnits{Producers: make(map[string]ResourceProducer)}
	for _, n := range names {
		u.Producers[n] = &fakeProducer{}
	}
	if len(names) > 0 {
		u.Default = names[0]
	}
	return u
}

type target struct {
	Name string
}

func okBody(context.Context, any) error { return nil }

func runWithTimeout(fn func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}
