package httpfs

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// channelMode selects what reads and writes of an open HTTP channel mean.
type channelMode byte

const (
	modeBody           channelMode = 0 // request/response body
	modeCollectHeaders channelMode = 1 // writes name response headers to keep
	modeGetHeaders     channelMode = 2 // reads return the kept header values
	modeSetHeaders     channelMode = 3 // writes are "Name: value" request headers
	modePostData       channelMode = 4 // writes are the POST body
)

func (m channelMode) String() string {
	switch m {
	case modeBody:
		return "body"
	case modeCollectHeaders:
		return "collect-headers"
	case modeGetHeaders:
		return "get-headers"
	case modeSetHeaders:
		return "set-headers"
	case modePostData:
		return "post-data"
	default:
		return "unknown"
	}
}

// request is one open HTTP channel. The request is sent on the first body
// read or status query (or on Close for PUT), so the host can set headers
// and post data after opening.
type request struct {
	client *http.Client
	req    *http.Request
	open   protocol.OpenMode
	eol    byte

	mode    channelMode
	body    bytes.Buffer // outgoing body
	collect []string     // response headers to keep

	sent     bool
	err      error
	resp     *http.Response
	headers  bytes.Buffer // kept header values, served in get-headers mode
	consumed int64
	done     bool
}

func newRequest(client *http.Client, req *http.Request, open protocol.OpenMode, eol byte) *request {
	return &request{client: client, req: req, open: open, eol: eol}
}

func (r *request) setMode(m channelMode) error {
	if m > modePostData {
		return netstatus.Errorf(netstatus.InvalidCommand, "set-channel-mode", "unknown HTTP channel mode %d", m)
	}
	r.mode = m
	return nil
}

// send issues the request once. Later calls return the first result.
func (r *request) send() error {
	if r.sent {
		return r.err
	}
	r.sent = true

	if r.body.Len() > 0 || r.req.Method == http.MethodPut || r.req.Method == http.MethodPost {
		data := r.body.Bytes()
		r.req.Body = io.NopCloser(bytes.NewReader(data))
		r.req.ContentLength = int64(len(data))
		r.req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
		if r.req.Method == http.MethodPost && r.req.Header.Get("Content-Type") == "" {
			r.req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	resp, err := r.client.Do(r.req)
	if err != nil {
		r.err = netstatus.FromNetError(strings.ToLower(r.req.Method), err)
		return r.err
	}
	if code := netstatus.FromHTTPStatus(resp.StatusCode); code != netstatus.Success {
		_ = resp.Body.Close()
		r.err = netstatus.Errorf(code, strings.ToLower(r.req.Method), "%s %s: %s", r.req.Method, r.req.URL.Path, resp.Status)
		return r.err
	}

	r.resp = resp
	for _, name := range r.collect {
		r.headers.WriteString(resp.Header.Get(name))
		r.headers.WriteByte(r.eol)
	}
	return nil
}

// Size implements fs.Sizer. Body reads report the unread content length
// once the response is in; everything else reports an unknown size so the
// channel stays connected.
func (r *request) Size() (int64, error) {
	switch r.mode {
	case modeGetHeaders:
		if err := r.send(); err != nil {
			return 0, err
		}
		return int64(r.headers.Len()), nil
	case modeBody:
	default:
		return -1, nil
	}

	if r.open == protocol.ModeWrite || r.open == protocol.ModePut {
		return -1, nil
	}
	if err := r.send(); err != nil {
		return 0, err
	}
	if r.done {
		return 0, nil
	}
	if r.resp.ContentLength < 0 {
		return -1, nil
	}
	return r.resp.ContentLength - r.consumed, nil
}

// Read implements io.Reader according to the channel mode.
func (r *request) Read(p []byte) (int, error) {
	switch r.mode {
	case modeGetHeaders:
		if err := r.send(); err != nil {
			return 0, err
		}
		if r.headers.Len() == 0 {
			return 0, io.EOF
		}
		return r.headers.Read(p)
	case modeBody:
	default:
		return 0, netstatus.New(netstatus.WriteOnly, "read")
	}

	if err := r.send(); err != nil {
		return 0, err
	}
	if r.done {
		return 0, io.EOF
	}
	n, err := r.resp.Body.Read(p)
	r.consumed += int64(n)
	if errors.Is(err, io.EOF) {
		r.done = true
	} else if err != nil {
		return n, netstatus.FromNetError("read", err)
	}
	return n, err
}

// Write implements io.Writer according to the channel mode.
func (r *request) Write(p []byte) (int, error) {
	switch r.mode {
	case modeCollectHeaders:
		r.collect = append(r.collect, lines(p)...)
		return len(p), nil

	case modeSetHeaders:
		for _, line := range lines(p) {
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				return 0, netstatus.Errorf(netstatus.InvalidCommand, "set-header", "malformed header %q", line)
			}
			r.req.Header.Add(textproto.TrimString(name), textproto.TrimString(value))
		}
		return len(p), nil

	case modePostData:
		return r.body.Write(p)

	case modeBody:
		if r.req.Method == http.MethodGet || r.req.Method == http.MethodDelete {
			return 0, netstatus.New(netstatus.ReadOnly, "write")
		}
		if r.sent {
			return 0, netstatus.Errorf(netstatus.GeneralFailure, "write", "request already sent")
		}
		return r.body.Write(p)
	}
	return 0, netstatus.New(netstatus.InvalidCommand, "write")
}

// Close sends a pending PUT and releases the response.
func (r *request) Close() error {
	var err error
	if !r.sent && (r.open == protocol.ModeWrite || r.open == protocol.ModePut) {
		err = r.send()
	}
	if r.resp != nil {
		_, _ = io.Copy(io.Discard, r.resp.Body)
		_ = r.resp.Body.Close()
		r.resp = nil
	}
	return err
}

// lines splits host writes on any end-of-line byte, dropping empties.
func lines(p []byte) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i < len(p) && !isEOL(p[i]) {
			continue
		}
		if line := strings.TrimSpace(string(p[start:i])); line != "" {
			out = append(out, line)
		}
		start = i + 1
	}
	return out
}

func isEOL(c byte) bool {
	return c == '\r' || c == '\n' || c == 0x9B || c == 0
}
