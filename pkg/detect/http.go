package detect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// MaxBodySize bounds response bodies read during detection.
const MaxBodySize = 1 << 20

// RoundTrip writes req to conn and reads a single response, honouring the
// context deadline. The body is fully read (up to MaxBodySize) and returned;
// resp.Body is already closed.
func RoundTrip(ctx context.Context, conn net.Conn, req *http.Request) (*http.Response, []byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, nil, fmt.Errorf("set deadline: %w", err)
		}
		defer conn.SetDeadline(time.Time{})
	}

	// Unblock I/O when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "paircast/1.0")
	}
	if err := req.Write(conn); err != nil {
		return nil, nil, fmt.Errorf("write request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp, body, nil
}

// GetJSON issues a GET over conn and decodes a 200 response into v.
func GetJSON(ctx context.Context, conn net.Conn, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(ctx, conn, req, v)
}

// PostJSON issues a POST with a JSON body over conn and decodes a 200
// response into v.
func PostJSON(ctx context.Context, conn net.Conn, url string, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return doJSON(ctx, conn, req, v)
}

func doJSON(ctx context.Context, conn net.Conn, req *http.Request, v any) error {
	resp, body, err := RoundTrip(ctx, conn, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProtocolMismatch, resp.StatusCode)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
	}
	return nil
}
