package blacklist

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Status codes spoken by the blacklist service.
const (
	StatusOK        = 200
	StatusCreated   = 201
	StatusNoContent = 204
	StatusNotFound  = 404
)

var statusText = map[int]string{
	StatusOK:        "OK",
	StatusCreated:   "Created",
	StatusNoContent: "No Content",
	StatusNotFound:  "Not Found",
}

// hasBody reports whether a status may be followed by a body section.
// Every other known status is a complete one-line reply.
func hasBody(code int) bool {
	return code == StatusOK
}

func parseStatus(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty status line", ErrProtocol)
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("%w: malformed status line %q", ErrProtocol, line)
	}
	if _, ok := statusText[code]; !ok {
		return 0, fmt.Errorf("%w: unknown status %q", ErrProtocol, line)
	}
	return code, nil
}

// Response is one decoded reply.
type Response struct {
	Status int
	Body   []string
}

type frameState int

const (
	awaitStatus frameState = iota
	awaitBody
	frameDone
)

// framer delimits a reply on a stream that has no length prefix. A reply is
// complete after a one-line no-body status, or after a blank line that
// follows body content. Anything else is completed by the caller through
// flush once the peer goes quiet or closes.
type framer struct {
	state   frameState
	partial []byte
	resp    Response
	how     string
}

// feed consumes p and reports whether the reply is complete.
func (f *framer) feed(p []byte) (bool, error) {
	f.partial = append(f.partial, p...)
	for f.state != frameDone {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(f.partial[:i]), "\r")
		f.partial = f.partial[i+1:]
		if err := f.line(line); err != nil {
			return false, err
		}
	}
	return f.state == frameDone, nil
}

func (f *framer) line(line string) error {
	switch f.state {
	case awaitStatus:
		if strings.TrimSpace(line) == "" {
			return nil
		}
		code, err := parseStatus(line)
		if err != nil {
			return err
		}
		f.resp.Status = code
		if hasBody(code) {
			f.state = awaitBody
		} else {
			f.state = frameDone
			f.how = "status"
		}
	case awaitBody:
		if strings.TrimSpace(line) == "" {
			// the blank line right after the status separates headers from body
			if len(f.resp.Body) > 0 {
				f.state = frameDone
				f.how = "blank_line"
			}
			return nil
		}
		f.resp.Body = append(f.resp.Body, line)
	}
	return nil
}

// flush completes the reply with whatever has been received, including an
// unterminated trailing line.
func (f *framer) flush(how string) (*Response, error) {
	if len(f.partial) > 0 {
		line := strings.TrimRight(string(f.partial), "\r")
		f.partial = nil
		if err := f.line(line); err != nil {
			return nil, err
		}
	}
	if f.state == awaitStatus {
		return nil, fmt.Errorf("%w: no status line received", ErrProtocol)
	}
	if f.how == "" {
		f.how = how
	}
	f.state = frameDone
	return &f.resp, nil
}

// flags decodes the "<exists> <blacklisted>" body of a GET reply.
func (r *Response) flags() (exists, blacklisted bool, err error) {
	for _, line := range r.Body {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return false, false, fmt.Errorf("%w: malformed body %q", ErrProtocol, line)
		}
		return fields[0] == "true", fields[1] == "true", nil
	}
	return false, false, fmt.Errorf("%w: missing body", ErrProtocol)
}
