package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EngineDefaults holds a settable snapshot of the engine-wide defaults
// (port, interval, time, buffer sizes), loadable from and watchable on a
// JSON file. It is not consulted automatically by StartInstance — an
// embedder that wants these to replace the package constants reads
// Current() and sets the corresponding Config fields itself before calling
// StartInstance. Generalizes a CLI config load/save pair from one
// process's CLI flags to one Engine's defaults.
type EngineDefaults struct {
	Port                int   `json:"port"`
	IntervalSecs         int   `json:"interval_secs"`
	TimeSecs             int   `json:"time_secs"`
	TCPBufferLen         int   `json:"tcp_buffer_len"`
	UDPv4TxLen           int   `json:"udp_v4_tx_len"`
	UDPv6TxLen           int   `json:"udp_v6_tx_len"`
	UDPRxLen             int   `json:"udp_rx_len"`
	BandwidthLimitBps    int64 `json:"bandwidth_limit_bps"`
}

// DefaultEngineDefaults mirrors the package-level constants in instance.go.
func DefaultEngineDefaults() EngineDefaults {
	return EngineDefaults{
		Port:              DefaultPort,
		IntervalSecs:      DefaultIntervalSecs,
		TimeSecs:          DefaultTimeSecs,
		TCPBufferLen:      DefaultTCPBufferLen,
		UDPv4TxLen:        DefaultUDPv4TxLen,
		UDPv6TxLen:        DefaultUDPv6TxLen,
		UDPRxLen:          DefaultUDPRxLen,
		BandwidthLimitBps: unthrottledBandwidth,
	}
}

// LoadEngineDefaults reads an EngineDefaults JSON file, starting from
// DefaultEngineDefaults() so a partial file only overrides what it sets.
func LoadEngineDefaults(path string) (EngineDefaults, error) {
	d := DefaultEngineDefaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("load engine defaults: %w", err)
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("load engine defaults: %w", err)
	}
	return d, nil
}

// SaveEngineDefaults writes d as indented JSON to path.
func SaveEngineDefaults(path string, d EngineDefaults) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("save engine defaults: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultsWatcher hot-reloads an EngineDefaults JSON file using fsnotify,
// handing each successfully parsed revision to onChange. It watches one
// file rather than a directory tree.
type DefaultsWatcher struct {
	mu       sync.RWMutex
	current  EngineDefaults
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// WatchEngineDefaults loads path once, then watches it for writes,
// delivering every successfully parsed revision to onChange (which may be
// nil). The returned watcher owns the underlying inotify handle; call
// Close to release it.
func WatchEngineDefaults(path string, onChange func(EngineDefaults)) (*DefaultsWatcher, error) {
	d, err := LoadEngineDefaults(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch engine defaults: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch engine defaults: %w", err)
	}

	dw := &DefaultsWatcher{current: d, watcher: w, done: make(chan struct{})}
	go dw.loop(path, onChange)
	return dw, nil
}

func (dw *DefaultsWatcher) loop(path string, onChange func(EngineDefaults)) {
	defer close(dw.done)
	for {
		select {
		case ev, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			d, err := LoadEngineDefaults(path)
			if err != nil {
				continue // keep the last good revision
			}
			dw.mu.Lock()
			dw.current = d
			dw.mu.Unlock()
			if onChange != nil {
				onChange(d)
			}
		case _, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the most recently loaded EngineDefaults.
func (dw *DefaultsWatcher) Current() EngineDefaults {
	dw.mu.RLock()
	defer dw.mu.RUnlock()
	return dw.current
}

// Close stops watching and releases the inotify handle.
func (dw *DefaultsWatcher) Close() error {
	err := dw.watcher.Close()
	<-dw.done
	return err
}
