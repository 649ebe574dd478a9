// Package updates fans server pushed events out to observers.
package updates

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/sender"
)

// Envelope is one of Short, Batch or TooLong.
type Envelope interface {
	envelope()
}

// Short is a single event without entities.
type Short struct {
	Update any
}

// Batch is several events sharing auxiliary entities (users, chats).
type Batch struct {
	Updates  []any
	Entities []any
}

// TooLong means the server dropped events and the state has to be fetched
// again.
type TooLong struct{}

func (Short) envelope()   {}
func (Batch) envelope()   {}
func (TooLong) envelope() {}

// Classifier tells envelopes apart. req is the request a result answered,
// nil for unsolicited objects. ok is false for objects carrying no events.
type Classifier interface {
	Classify(req sender.Request, obj any) (env Envelope, ok bool)
}

type ClassifierFunc func(req sender.Request, obj any) (Envelope, bool)

func (f ClassifierFunc) Classify(req sender.Request, obj any) (Envelope, bool) {
	return f(req, obj)
}

// Event is one update handed to observers.
type Event struct {
	Update   any
	Entities []any
}

type Observer interface {
	OnUpdate(ctx context.Context, ev Event) error
}

type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) OnUpdate(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// GapHandler is called on TooLong.
type GapHandler func(ctx context.Context)

type observerEntry struct {
	id  uint64
	obs Observer
}

type gapEntry struct {
	id uint64
	h  GapHandler
}

// Dispatcher calls observers in registration order. A failing or panicking
// observer does not keep the others from running.
type Dispatcher struct {
	classifier Classifier
	log        *logrus.Entry

	mu        sync.RWMutex
	next      uint64
	observers []observerEntry
	gaps      []gapEntry
}

var _ sender.UpdateSink = (*Dispatcher)(nil)

func New(c Classifier, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		classifier: c,
		log:        logger.WithField("component", "updates"),
	}
}

// Register adds o and returns the function removing it.
func (d *Dispatcher) Register(o Observer) (unregister func()) {
	d.mu.Lock()
	d.next++
	id := d.next
	d.observers = append(d.observers, observerEntry{id: id, obs: o})
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, e := range d.observers {
			if e.id == id {
				d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

// OnGap adds a handler for TooLong envelopes.
func (d *Dispatcher) OnGap(h GapHandler) (unregister func()) {
	d.mu.Lock()
	d.next++
	id := d.next
	d.gaps = append(d.gaps, gapEntry{id: id, h: h})
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, e := range d.gaps {
			if e.id == id {
				d.gaps = append(d.gaps[:i:i], d.gaps[i+1:]...)
				return
			}
		}
	}
}

func (d *Dispatcher) HandleUpdate(ctx context.Context, obj any) {
	d.classify(ctx, nil, obj)
}

func (d *Dispatcher) HandleResult(ctx context.Context, req sender.Request, result any) {
	d.classify(ctx, req, result)
}

func (d *Dispatcher) classify(ctx context.Context, req sender.Request, obj any) {
	if d.classifier == nil {
		return
	}
	env, ok := d.classifier.Classify(req, obj)
	if !ok {
		if req == nil {
			d.log.WithField("type", fmt.Sprintf("%T", obj)).Debug("unclassified object")
		}
		return
	}
	d.Dispatch(ctx, env)
}

// Dispatch delivers env.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) {
	switch env := env.(type) {
	case Short:
		d.deliver(ctx, Event{Update: env.Update})
	case *Short:
		d.deliver(ctx, Event{Update: env.Update})
	case Batch:
		d.deliverBatch(ctx, env)
	case *Batch:
		d.deliverBatch(ctx, *env)
	case TooLong, *TooLong:
		d.gap(ctx)
	}
}

func (d *Dispatcher) deliverBatch(ctx context.Context, b Batch) {
	for _, u := range b.Updates {
		d.deliver(ctx, Event{Update: u, Entities: b.Entities})
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.mu.RLock()
	observers := append([]observerEntry{}, d.observers...)
	d.mu.RUnlock()
	for _, e := range observers {
		if err := d.call(ctx, e.obs, ev); err != nil {
			d.log.WithError(err).WithField("update", fmt.Sprintf("%T", ev.Update)).Warn("observer failed")
		}
	}
}

func (d *Dispatcher) call(ctx context.Context, o Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.OnUpdate(ctx, ev)
}

func (d *Dispatcher) gap(ctx context.Context) {
	d.mu.RLock()
	gaps := append([]gapEntry{}, d.gaps...)
	d.mu.RUnlock()
	if len(gaps) == 0 {
		d.log.Warn("updates too long and no gap handler")
		return
	}
	for _, g := range gaps {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.WithField("panic", r).Error("gap handler panic")
				}
			}()
			g.h(ctx)
		}()
	}
}
