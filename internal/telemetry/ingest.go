package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// IngestConfig describes a remote HTTP endpoint that accepts batches of
// events as {"world_seed": n, "events": [...]}.
type IngestConfig struct {
	Endpoint      string
	Token         string
	WorldSeed     int64
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxPending caps events held back after failed flushes.
	MaxPending int
	Logger     *log.Logger
}

// HTTPIngest ships events to a remote collector in batches. A batch that
// fails to send is kept and retried on the next flush.
type HTTPIngest struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once

	// mu guards sends on ch against Close closing it.
	mu     sync.RWMutex
	closed bool

	flushOK      atomic.Uint64
	flushFail    atomic.Uint64
	queueDropped atomic.Uint64
	sentEvents   atomic.Uint64
}

type IngestStats struct {
	FlushOKTotal      uint64 `json:"flush_ok_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	SentEventsTotal   uint64 `json:"sent_events_total"`
}

func OpenHTTPIngest(cfg IngestConfig) (*HTTPIngest, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 8192
	}

	h := &HTTPIngest{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan Event, 16384),
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.loop()
	}()
	return h, nil
}

func (h *HTTPIngest) WriteEvent(e Event) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	select {
	case h.ch <- e:
	default:
		h.queueDropped.Add(1)
	}
	return nil
}

func (h *HTTPIngest) Stats() IngestStats {
	return IngestStats{
		FlushOKTotal:      h.flushOK.Load(),
		FlushFailTotal:    h.flushFail.Load(),
		QueueDroppedTotal: h.queueDropped.Load(),
		SentEventsTotal:   h.sentEvents.Load(),
	}
}

// Close flushes once more and stops. Events that still cannot be sent are
// dropped.
func (h *HTTPIngest) Close() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.ch)
		h.mu.Unlock()
		h.wg.Wait()
	})
	return nil
}

func (h *HTTPIngest) loop() {
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := h.sendBatch(batch); err != nil {
			h.flushFail.Add(1)
			h.printf("ingest flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - h.cfg.MaxPending; over > 0 {
				h.queueDropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		h.flushOK.Add(1)
		h.sentEvents.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-h.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= h.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (h *HTTPIngest) sendBatch(events []Event) error {
	body := struct {
		WorldSeed int64   `json:"world_seed"`
		Events    []Event `json:"events"`
	}{WorldSeed: h.cfg.WorldSeed, Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, h.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if h.cfg.Token != "" {
			req.Header.Set("authorization", "Bearer "+h.cfg.Token)
		}

		resp, err := h.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(20*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (h *HTTPIngest) printf(format string, args ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Printf(format, args...)
	}
}
