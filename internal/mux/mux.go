// Package mux fans values out from one producer to many sinks.
package mux

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrClosed = errors.New("mux is closed")

type Logger interface {
	Info(format string, args ...interface{})
}

type awaitDone[T any] struct {
	value T
	done  chan struct{}
}

func newAwaitDone[T any](value T) awaitDone[T] {
	return awaitDone[T]{
		value: value,
		done:  make(chan struct{}),
	}
}

// Sink consumes values. Close is called once the sink is unsubscribed or the
// mux shuts down.
type Sink[T any] interface {
	Submit(T) error
	Close()
}

// SinkFunc turns a function into a Sink with a no-op Close.
type SinkFunc[T any] func(T) error

func (f SinkFunc[T]) Submit(v T) error {
	return f(v)
}

func (f SinkFunc[T]) Close() {}

type filterSink[T any] struct {
	sink Sink[T]
	f    FilterFunc[T]
}

func (c *filterSink[T]) Submit(v T) error {
	if c.f(v) {
		return c.sink.Submit(v)
	}
	return nil
}

func (c *filterSink[T]) Close() {
	c.sink.Close()
}

// FilterSink passes on only the values accepted by f.
func FilterSink[T any](sink Sink[T], f FilterFunc[T]) Sink[T] {
	return &filterSink[T]{sink, f}
}

type Source[T any] interface {
	Subscribe(Sink[T]) CancelFunc
}

// subscription identifies one Subscribe call. Sinks themselves may not be
// comparable.
type subscription[T any] struct {
	sink Sink[T]
}

type Mux[T any] struct {
	input      chan T
	register   chan awaitDone[*subscription[T]]
	unregister chan awaitDone[*subscription[T]]
	outputs    map[*subscription[T]]struct{}
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	submitTimeout time.Duration
	inBufSize     int
	logger        Logger
}

type Option[T any] interface {
	apply(*Mux[T])
}

type buffered[T any] struct {
	Size int
}

func (b *buffered[T]) apply(m *Mux[T]) {
	m.inBufSize = b.Size
}

func Buffered[T any](size int) Option[T] {
	return &buffered[T]{size}
}

type withLogger[T any] struct {
	Logger Logger
}

func (l *withLogger[T]) apply(m *Mux[T]) {
	m.logger = l.Logger
}

func WithLogger[T any](logger Logger) Option[T] {
	return &withLogger[T]{logger}
}

type submitTimeout[T any] time.Duration

func (t submitTimeout[T]) apply(m *Mux[T]) {
	m.submitTimeout = time.Duration(t)
}

// WithSubmitTimeout bounds how long Submit waits for the fan-out loop.
func WithSubmitTimeout[T any](d time.Duration) Option[T] {
	return submitTimeout[T](d)
}

func Make[T any](opts ...Option[T]) *Mux[T] {
	mux := &Mux[T]{
		submitTimeout: 1 * time.Second,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(mux)
	}

	mux.input = make(chan T, mux.inBufSize)
	mux.register = make(chan awaitDone[*subscription[T]])
	mux.unregister = make(chan awaitDone[*subscription[T]])
	mux.outputs = make(map[*subscription[T]]struct{})
	mux.quit = make(chan struct{})
	mux.done = make(chan struct{})

	go mux.run()

	return mux
}

func (m *Mux[T]) run() {
	defer close(m.done)
	defer func() {
		for sub := range m.outputs {
			delete(m.outputs, sub)
			sub.sink.Close()
		}
	}()

	for {
		select {
		case v := <-m.input:
			for out := range m.outputs {
				if err := out.sink.Submit(v); err != nil {
					m.error("error submitting value %v: %v", v, err)
				}
			}
		case ar := <-m.register:
			m.outputs[ar.value] = struct{}{}
			close(ar.done)
		case ar := <-m.unregister:
			if _, ok := m.outputs[ar.value]; ok {
				delete(m.outputs, ar.value)
				ar.value.sink.Close()
			}
			close(ar.done)
		case <-m.quit:
			return
		}
	}
}

func (m *Mux[T]) error(format string, args ...any) error {
	if m.logger != nil {
		m.logger.Info(format, args...)
	}
	return fmt.Errorf(format, args...)
}

// Close stops the fan-out loop and closes every subscribed sink. Values still
// buffered are dropped. It is safe to call more than once.
func (m *Mux[T]) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}

// Done is closed once the mux has shut down.
func (m *Mux[T]) Done() <-chan struct{} {
	return m.done
}

func (m *Mux[T]) Submit(v T) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.input <- v:
		return nil
	case <-m.done:
		return ErrClosed
	case <-time.After(m.submitTimeout):
		return m.error("timed out submitting value %v after %s", v, m.submitTimeout)
	}
}

type CancelFunc func()

// Subscribe registers sink. After the mux is closed the sink is closed
// right away. The returned CancelFunc may be called at any time.
func (m *Mux[T]) Subscribe(sink Sink[T]) CancelFunc {
	sub := &subscription[T]{sink: sink}
	ar := newAwaitDone(sub)
	select {
	case m.register <- ar:
		<-ar.done
	case <-m.done:
		sink.Close()
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ar := newAwaitDone(sub)
			select {
			case m.unregister <- ar:
				<-ar.done
			case <-m.done:
			}
		})
	}
}

func ChainCancelFunc(cf1, cf2 func(), cfs ...func()) CancelFunc {
	return func() {
		cf1()
		cf2()
		for _, cf := range cfs {
			if cf != nil {
				cf()
			}
		}
	}
}
