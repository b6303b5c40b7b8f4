// Package blacklist talks to the URL blacklist (bloom filter) service.
//
// The service speaks a line protocol over TCP, one request per connection:
//
//	GET <url>\n      -> "200 OK\n\n<exists> <blacklisted>"
//	POST <url>\n     -> "201 Created"
//	DELETE <url>\n   -> "204 No Content" | "404 Not Found"
//
// Replies carry no length prefix and the last line is not always newline
// terminated, so the client frames them heuristically (see framer).
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"postbox/metrics"
	"postbox/utils"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNetwork marks every failure to obtain a usable reply: dial errors,
	// timeouts, cancellation and protocol violations.
	ErrNetwork = errors.New("blacklist network error")
	// ErrProtocol marks a reply that could not be understood. It wraps ErrNetwork.
	ErrProtocol = fmt.Errorf("%w: protocol violation", ErrNetwork)
	// ErrInvalidURL is returned for URLs that cannot be put on the wire.
	ErrInvalidURL = errors.New("url cannot be sent to the blacklist")

	errHit = errors.New("blacklisted url found")
)

// Options configures a Client.
type Options struct {
	Address     string
	Timeout     time.Duration // hard bound per exchange
	IdleTimeout time.Duration // silence that completes an unterminated reply
	Concurrency int           // parallel connections per batch call
}

// Client issues blacklist requests, one TCP connection per URL.
type Client struct {
	addr        string
	timeout     time.Duration
	idleTimeout time.Duration
	concurrency int
	dialer      net.Dialer
	log         *utils.Logger
}

// NewClient creates a blacklist client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 40 * time.Millisecond
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Client{
		addr:        opts.Address,
		timeout:     opts.Timeout,
		idleTimeout: opts.IdleTimeout,
		concurrency: opts.Concurrency,
		log:         utils.Log.WithField("component", "blacklist"),
	}
}

// CheckURL reports whether url is blacklisted. Both the exists and the
// blacklisted flag of the reply must be true.
func (c *Client) CheckURL(ctx context.Context, url string) (bool, error) {
	resp, err := c.roundTrip(ctx, "GET", url)
	if err != nil {
		return false, err
	}
	switch resp.Status {
	case StatusOK:
		exists, blacklisted, err := resp.flags()
		if err != nil {
			return false, err
		}
		return exists && blacklisted, nil
	case StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unexpected status %d for GET", ErrProtocol, resp.Status)
	}
}

// AddURLs blacklists urls and returns how many were created.
func (c *Client) AddURLs(ctx context.Context, urls []string) (int, error) {
	return c.countWhere(ctx, "POST", urls, StatusCreated)
}

// RemoveURLs removes urls from the blacklist and returns how many were
// removed. URLs the service does not know are not an error.
func (c *Client) RemoveURLs(ctx context.Context, urls []string) (int, error) {
	return c.countWhere(ctx, "DELETE", urls, StatusNoContent)
}

// AnyBlacklisted reports whether at least one of urls is blacklisted. It
// stops issuing requests as soon as a hit is seen. A hit wins over errors
// from other URLs.
func (c *Client) AnyBlacklisted(ctx context.Context, urls []string) (bool, error) {
	if len(urls) == 0 {
		return false, nil
	}

	var found atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, u := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			hit, err := c.CheckURL(gctx, u)
			if err != nil {
				return err
			}
			if hit {
				found.Store(true)
				return errHit
			}
			return nil
		})
	}

	err := g.Wait()
	if found.Load() {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return false, nil
}

func (c *Client) countWhere(ctx context.Context, method string, urls []string, want int) (int, error) {
	var count atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, u := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			resp, err := c.roundTrip(gctx, method, u)
			if err != nil {
				return err
			}
			switch resp.Status {
			case want:
				count.Add(1)
			case StatusNotFound:
			default:
				return fmt.Errorf("%w: unexpected status %d for %s", ErrProtocol, resp.Status, method)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
	}
	return int(count.Load()), err
}

func (c *Client) roundTrip(ctx context.Context, method, url string) (resp *Response, err error) {
	if url == "" || strings.ContainsAny(url, " \t\r\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.BlacklistRequestsTotal.WithLabelValues(method, result).Inc()
		metrics.BlacklistRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	hard := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(hard) {
		hard = dl
	}

	dialCtx, cancel := context.WithDeadline(ctx, hard)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, c.addr, err)
	}
	defer conn.Close()

	// unblock any pending read or write when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetWriteDeadline(hard); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if _, err := io.WriteString(conn, method+" "+url+"\n"); err != nil {
		return nil, c.wrapIOError(ctx, "write", err)
	}

	resp, err = c.readResponse(ctx, conn, hard)
	if err != nil {
		c.log.Debug("%s %s failed: %v", method, url, err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) readResponse(ctx context.Context, conn net.Conn, hard time.Time) (*Response, error) {
	var f framer
	buf := make([]byte, 512)
	received := false

	for {
		deadline := hard
		if received {
			if idle := time.Now().Add(c.idleTimeout); idle.Before(hard) {
				deadline = idle
			}
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			received = true
			done, ferr := f.feed(buf[:n])
			if ferr != nil {
				return nil, ferr
			}
			if done {
				metrics.BlacklistFramingTotal.WithLabelValues(f.how).Inc()
				return &f.resp, nil
			}
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
		}

		var how string
		var ne net.Error
		switch {
		case errors.Is(err, io.EOF):
			how = "eof"
		case errors.As(err, &ne) && ne.Timeout() && received && deadline.Before(hard):
			how = "idle"
		default:
			return nil, c.wrapIOError(ctx, "read", err)
		}

		resp, ferr := f.flush(how)
		if ferr != nil {
			return nil, ferr
		}
		metrics.BlacklistFramingTotal.WithLabelValues(f.how).Inc()
		return resp, nil
	}
}

func (c *Client) wrapIOError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, op, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
}
