package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/fwupd-client/internal/forward"
	"github.com/ydb-platform/fwupd-client/internal/fwupd"
	"github.com/ydb-platform/fwupd-client/internal/listener"
	"github.com/ydb-platform/fwupd-client/internal/mux"
	"github.com/ydb-platform/fwupd-client/internal/transport"
)

func main() {
	err := run(os.Args[1:])
	klog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

func connect(ctx context.Context) (listener.Source, error) {
	client, err := fwupd.New(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func run(args []string) error {
	flags, err := initFlags(args)
	if err != nil {
		return err
	}
	config := flags.config

	appContext, appCancel := context.WithCancel(context.Background())
	appWaitGroup := &sync.WaitGroup{}
	defer appWaitGroup.Wait()
	defer appCancel()

	out := &syncWriter{w: os.Stdout}

	// the listener owns a separate bus connection
	listenerOpts := []listener.Option{
		listener.WithRetryInterval(config.Listener.Retry),
		listener.WithSubmitTimeout(config.Listener.SubmitTimeout),
	}
	hup, err := listener.WatchSocket(appContext, appWaitGroup, config.Listener.BusSocket)
	if err != nil {
		klog.Errorf("bus restarts will not be detected: %v", err)
	} else {
		listenerOpts = append(listenerOpts, listener.WithReconnect(hup))
	}
	signals := listener.Start(appContext, appWaitGroup, connect, listenerOpts...)

	cancel := signals.Subscribe(mux.FilterSink(listener.HandlerSink(&printer{out: out}), config.filter))
	if config.MQTT != nil {
		forwarder, err := forward.Connect(*config.MQTT)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to start signal forwarding: %w", err)
		}
		cancel = mux.ChainCancelFunc(signals.Subscribe(forwarder), cancel)
	}
	defer cancel()

	client, err := fwupd.New(appContext, fwupd.WithCacheDir(config.CacheDir))
	if err != nil {
		return err
	}
	defer client.Close()

	httpClient, err := transport.NewHTTPClient(config.HTTP)
	if err != nil {
		return err
	}

	if config.Healthz != "" {
		startHealthz(appContext, appWaitGroup, config.Healthz, client)
	}

	report := &reporter{
		client:  client,
		http:    httpClient,
		out:     out,
		remotes: config.Remotes.matcher,
		refresh: config.Remotes.Refresh,
	}
	if err := report.run(appContext); err != nil {
		return err
	}

	if !config.Follow {
		return nil
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	select {
	case s := <-sigs:
		klog.Infof("Received signal %q, shutting down", s.String())
		return nil
	case <-signals.Done():
		return errors.New("signal listener stopped")
	}
}
