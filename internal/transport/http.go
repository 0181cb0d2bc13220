package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPFactory dials the SockJS-style HTTP fallback endpoints the backend
// exposes next to the websocket: a chunked GET stream (or long-poll GET) for
// inbound messages and a POST endpoint for outbound ones. Messages travel as
// base64 lines so frame bodies survive the line framing.
type HTTPFactory struct {
	Client    *http.Client
	streaming bool
}

func (f *HTTPFactory) Name() string {
	if f.streaming {
		return NameHTTPStreaming
	}
	return NameHTTPPolling
}

func (f *HTTPFactory) Dial(ctx context.Context, url string) (Transport, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 0} // stream reads have no overall deadline
	}

	t := &httpTransport{
		client:    client,
		url:       url,
		streaming: f.streaming,
		inbox:     make(chan []byte, 64),
		errCh:     make(chan error, 1),
		done:      make(chan struct{}),
	}

	if f.streaming {
		resp, err := t.openStream(ctx)
		if err != nil {
			return nil, err
		}
		go t.streamLoop(resp.Body)
	} else {
		// Probe once so dial failures surface here, then poll in background.
		if err := t.pollOnce(ctx); err != nil {
			return nil, err
		}
		go t.pollLoop()
	}
	return t, nil
}

type httpTransport struct {
	client    *http.Client
	url       string
	streaming bool

	inbox chan []byte
	errCh chan error

	closeOnce sync.Once
	done      chan struct{}
}

func (t *httpTransport) Name() string {
	if t.streaming {
		return NameHTTPStreaming
	}
	return NameHTTPPolling
}

func (t *httpTransport) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url+"/stream", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: status %d", resp.StatusCode)
	}
	return resp, nil
}

func (t *httpTransport) streamLoop(body io.ReadCloser) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		data, err := base64.StdEncoding.DecodeString(scanner.Text())
		if err != nil {
			continue // not a frame line, skip
		}
		select {
		case t.inbox <- data:
		case <-t.done:
			return
		}
	}
	t.fail(fmt.Errorf("stream ended: %w", firstErr(scanner.Err(), io.EOF)))
}

func (t *httpTransport) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url+"/poll", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil // long poll timed out server-side, nothing queued
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("poll read: %w", err)
	}
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(string(line))
		if err != nil {
			continue
		}
		select {
		case t.inbox <- data:
		case <-t.done:
			return ErrClosed
		}
	}
	return nil
}

func (t *httpTransport) pollLoop() {
	for {
		select {
		case <-t.done:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		err := t.pollOnce(ctx)
		cancel()
		if err != nil {
			t.fail(err)
			return
		}
	}
}

func (t *httpTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	case err := <-t.errCh:
		return nil, err
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *httpTransport) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+"/send", bytes.NewBufferString(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send: status %d", resp.StatusCode)
	}
	return nil
}

func (t *httpTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *httpTransport) fail(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
