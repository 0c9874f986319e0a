// Package listener keeps a background subscription to daemon signals and
// fans them out to sinks.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
	"github.com/ydb-platform/fwupd-client/internal/mux"
)

// Source is a connection that can stream signals. *fwupd.Client satisfies it.
type Source interface {
	ListenSignals(ctx context.Context) (<-chan fwupd.Signal, error)
	Close() error
}

// Connector opens the listener's own connection.
type Connector func(ctx context.Context) (Source, error)

const (
	defaultRetryInterval = 5 * time.Second
	defaultSubmitTimeout = time.Second
	fanOutBuffer         = 16
)

var (
	errStreamClosed = errors.New("signal stream closed")
	errBusRestarted = errors.New("bus socket re-created")
)

var _ mux.Source[fwupd.Signal] = &Listener{}

type Listener struct {
	connect Connector
	mux     *mux.Mux[fwupd.Signal]
	retry   time.Duration
	submit  time.Duration
	hup     <-chan struct{}
	done    chan struct{}
}

type Option interface {
	apply(*Listener)
}

type retryInterval time.Duration

func (r retryInterval) apply(l *Listener) {
	if r > 0 {
		l.retry = time.Duration(r)
	}
}

// WithRetryInterval sets how long to wait before reconnecting after the
// stream ended.
func WithRetryInterval(d time.Duration) Option {
	return retryInterval(d)
}

type submitTimeout time.Duration

func (t submitTimeout) apply(l *Listener) {
	if t > 0 {
		l.submit = time.Duration(t)
	}
}

// WithSubmitTimeout bounds how long a signal waits for the sinks to take the
// previous ones before it is dropped.
func WithSubmitTimeout(d time.Duration) Option {
	return submitTimeout(d)
}

type reconnect struct {
	hup <-chan struct{}
}

func (r reconnect) apply(l *Listener) {
	l.hup = r.hup
}

// WithReconnect makes the listener drop its connection and reconnect at once
// whenever hup fires.
func WithReconnect(hup <-chan struct{}) Option {
	return reconnect{hup}
}

// klogLogger reports signals the mux could not deliver.
type klogLogger struct{}

func (klogLogger) Info(format string, args ...interface{}) {
	klog.Warningf(format, args...)
}

// Start runs the listener until ctx is done.
// `wg`: wait group that is released once the listener goroutine exits.
func Start(ctx context.Context, wg *sync.WaitGroup, connect Connector, opts ...Option) *Listener {
	l := &Listener{
		connect: connect,
		retry:   defaultRetryInterval,
		submit:  defaultSubmitTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(l)
	}
	l.mux = mux.Make(
		mux.Buffered[fwupd.Signal](fanOutBuffer),
		mux.WithLogger[fwupd.Signal](klogLogger{}),
		mux.WithSubmitTimeout[fwupd.Signal](l.submit),
	)

	wg.Add(1)
	go l.run(ctx, wg)

	return l
}

// Subscribe registers a sink for every signal received from now on.
func (l *Listener) Subscribe(sink mux.Sink[fwupd.Signal]) mux.CancelFunc {
	return l.mux.Subscribe(sink)
}

// Done is closed once the listener stopped and all sinks were closed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(l.done)
	defer l.mux.Close()

	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			klog.V(2).Info("signal listener stopped")
			return
		}
		if errors.Is(err, errBusRestarted) {
			klog.Infof("%v, reconnecting", err)
			continue
		}
		klog.Errorf("signal listener: %v, reconnecting in %s", err, l.retry)

		select {
		case <-ctx.Done():
			klog.V(2).Info("signal listener stopped")
			return
		case <-l.hup:
			klog.Info("bus socket re-created, reconnecting")
		case <-time.After(l.retry):
		}
	}
}

// session consumes one connection's signal stream. ctx is checked between
// reads.
func (l *Listener) session(ctx context.Context) error {
	source, err := l.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			klog.V(2).Infof("failed to close listener connection: %v", err)
		}
	}()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals, err := source.ListenSignals(sessionCtx)
	if err != nil {
		return err
	}
	klog.V(2).Info("listening for daemon signals")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.hup:
			return errBusRestarted
		case sig, ok := <-signals:
			if !ok {
				return errStreamClosed
			}
			klog.V(5).Infof("received %s signal", sig.Kind())
			// the mux logs dropped signals itself
			if err := l.mux.Submit(sig); errors.Is(err, mux.ErrClosed) {
				return err
			}
		}
	}
}
