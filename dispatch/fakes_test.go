package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pure-golang/bulkmail/mail"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mx     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep runs before Sleep returns.
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mx.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	onSleep := c.onSleep
	c.mx.Unlock()

	if onSleep != nil {
		onSleep()
	}
	return ctx.Err()
}

func (c *fakeClock) slept() []time.Duration {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeSender records sends and fails according to failFor.
type fakeSender struct {
	mx      sync.Mutex
	emails  []mail.Email
	failFor func(to string) error
	onSend  func()
	verify  error
	closed  bool
}

func (s *fakeSender) Send(_ context.Context, emails ...mail.Email) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	for _, e := range emails {
		s.emails = append(s.emails, e)
		if s.onSend != nil {
			s.onSend()
		}
		if s.failFor != nil {
			if err := s.failFor(e.To[0].Address); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *fakeSender) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSender) sent() []mail.Email {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]mail.Email(nil), s.emails...)
}

// verifyingSender adds mail.Verifier to fakeSender.
type verifyingSender struct {
	*fakeSender
}

func (s verifyingSender) Verify(context.Context) error {
	return s.verify
}

// events collects progress events.
type events struct {
	mx   sync.Mutex
	list []Event
}

func (e *events) add(ev Event) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) all() []Event {
	e.mx.Lock()
	defer e.mx.Unlock()
	return append([]Event(nil), e.list...)
}

func (e *events) ofKind(kinds ...Kind) []Event {
	var out []Event
	for _, ev := range e.all() {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
			}
		}
	}
	return out
}
