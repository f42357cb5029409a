package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"title/internal/domain"
)

// The isolated environment has no network of its own; every outbound
// request crosses a blocking request/response channel with length-prefixed
// framing:
//
//	egress:  [4B BE method_len][method][4B BE url_len][url][4B BE body_len][body]
//	ingress: [4B BE status_code][4B BE body_len][body]
//
// BRIDGE_ADDR selects the transport endpoint; the literal "direct" issues
// plain HTTP instead (development), under the same byte budgets.

// DirectAddr selects the plain-HTTP mode.
const DirectAddr = "direct"

// Fetcher is the budgeted outbound HTTP channel.
type Fetcher struct {
	Addr string
	Sem  *semaphore.Weighted

	// HTTPClient serves direct mode; a default is installed lazily.
	HTTPClient *http.Client

	// Dial overrides the transport dialer in tests.
	Dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewFetcher builds a fetcher whose semaphore is sized to the global
// concurrent-byte budget.
func NewFetcher(addr string, maxConcurrentBytes int64) *Fetcher {
	return &Fetcher{
		Addr: addr,
		Sem:  semaphore.NewWeighted(maxConcurrentBytes),
	}
}

// NewReservation opens a request-scoped reservation on this fetcher's
// semaphore.
func (f *Fetcher) NewReservation() *Reservation {
	return NewReservation(f.Sem)
}

// Get fetches url with the declared-size cap, per-chunk idle timeout and
// incremental memory reservation of §4.5 applied.
func (f *Fetcher) Get(ctx context.Context, url string, maxSize uint64, budget domain.ResolvedBudget, res *Reservation) ([]byte, error) {
	return f.do(ctx, "GET", url, nil, maxSize, budget, res)
}

// Post sends body to url under the same envelope as Get.
func (f *Fetcher) Post(ctx context.Context, url string, body []byte, maxSize uint64, budget domain.ResolvedBudget, res *Reservation) ([]byte, error) {
	return f.do(ctx, "POST", url, body, maxSize, budget, res)
}

func (f *Fetcher) do(ctx context.Context, method, url string, body []byte, maxSize uint64, budget domain.ResolvedBudget, res *Reservation) ([]byte, error) {
	if f.Addr == DirectAddr {
		return f.doDirect(ctx, method, url, body, maxSize, budget, res)
	}
	return f.doFramed(ctx, method, url, body, maxSize, budget, res)
}

func (f *Fetcher) doFramed(ctx context.Context, method, url string, body []byte, maxSize uint64, budget domain.ResolvedBudget, res *Reservation) ([]byte, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProxy, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, method, url, body); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", domain.ErrProxy, err)
	}

	var hdr [4]byte
	if err := readFull(conn, hdr[:], budget.ChunkTimeout()); err != nil {
		return nil, err
	}
	status := binary.BigEndian.Uint32(hdr[:])

	if err := readFull(conn, hdr[:], budget.ChunkTimeout()); err != nil {
		return nil, err
	}
	declared := uint64(binary.BigEndian.Uint32(hdr[:]))

	if status != http.StatusOK {
		// Drain a bounded prefix of the error body and report upstream.
		drain := make([]byte, min64(declared, 4096))
		_ = readFull(conn, drain, budget.ChunkTimeout())
		return nil, fmt.Errorf("%w: upstream returned HTTP %d", domain.ErrProxy, status)
	}

	if declared > maxSize {
		return nil, fmt.Errorf("%w: declared %d bytes exceeds cap %d", domain.ErrPayloadTooLarge, declared, maxSize)
	}
	if declared == 0 {
		return nil, nil
	}

	// The read adapter stops at the declared length: a peer holding the
	// connection open past it cannot grow the buffer.
	buf := make([]byte, 0, declared)
	remaining := declared
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeadline, err)
		}
		chunk := min64(remaining, domain.ReservationChunk)
		if err := res.acquire(int64(chunk)); err != nil {
			return nil, err
		}
		chunkBuf := make([]byte, chunk)
		if err := readFull(conn, chunkBuf, budget.ChunkTimeout()); err != nil {
			return nil, err
		}
		buf = append(buf, chunkBuf...)
		remaining -= chunk
	}
	return buf, nil
}

func (f *Fetcher) dial(ctx context.Context) (net.Conn, error) {
	if f.Dial != nil {
		return f.Dial(ctx, f.Addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", f.Addr)
}

func writeFrame(conn net.Conn, method, url string, body []byte) error {
	var hdr [4]byte
	for _, part := range [][]byte{[]byte(method), []byte(url), body} {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(part)))
		if _, err := conn.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := conn.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// readFull reads len(buf) bytes with the per-chunk idle deadline; a slow
// peer trips the deadline rather than holding a permit indefinitely.
func readFull(conn net.Conn, buf []byte, chunkTimeout time.Duration) error {
	if chunkTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(chunkTimeout))
	}
	_, err := io.ReadFull(conn, buf)
	if err == nil {
		return nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: no data within %s", domain.ErrSlowPeer, chunkTimeout)
	}
	return fmt.Errorf("%w: %v", domain.ErrProxy, err)
}

func (f *Fetcher) doDirect(ctx context.Context, method, url string, body []byte, maxSize uint64, budget domain.ResolvedBudget, res *Reservation) ([]byte, error) {
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProxy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upstream returned HTTP %d", domain.ErrProxy, resp.StatusCode)
	}

	// Content-Length pre-check before any body read.
	if resp.ContentLength > 0 && uint64(resp.ContentLength) > maxSize {
		return nil, fmt.Errorf("%w: declared %d bytes exceeds cap %d", domain.ErrPayloadTooLarge, resp.ContentLength, maxSize)
	}

	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeadline, err)
		}
		if err := res.acquire(domain.ReservationChunk); err != nil {
			return nil, err
		}
		chunk := make([]byte, domain.ReservationChunk)
		n, readErr := io.ReadFull(resp.Body, chunk)
		buf = append(buf, chunk[:n]...)
		if uint64(len(buf)) > maxSize {
			return nil, fmt.Errorf("%w: body exceeds cap %d", domain.ErrPayloadTooLarge, maxSize)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrProxy, readErr)
		}
	}
	return buf, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
