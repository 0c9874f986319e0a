package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

const DefaultBusSocket = "/run/dbus/system_bus_socket"

// WatchSocket reports every re-creation of the socket at path. A restarted
// bus removes and recreates its socket, and connections to the old one are
// dead.
// `ctx`: context that controls the lifecycle of the watch.
// `wg`: wait group that is released once the watcher is closed.
func WatchSocket(ctx context.Context, wg *sync.WaitGroup, path string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		klog.Errorf("failed to create fsnotify watcher: %v", err)
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	path = filepath.Clean(path)
	// the socket itself disappears on restart, so the directory is watched
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	hup := make(chan struct{}, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Create) {
					continue
				}
				klog.V(2).Infof("%s was created", path)
				select {
				case hup <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				klog.Errorf("watching %s: %v", path, err)
			case <-ctx.Done():
				return
			}
		}
	}()

	return hup, nil
}
