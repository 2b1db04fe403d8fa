package snapshot

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Header carrying the capture timestamp inside the stored bytes.
const storedAtHeaderName = "Offline-Cache-Stored-At"

// Snapshot is an immutable copy of a successful response at the moment it
// was stored: status, headers (including the capture timestamp) and body.
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// The value of the clock when the response was captured.
	// Needed for staleness calculation.
	StoredAt time.Time
}

// Capture drains the body of res and returns a snapshot of it.
// The response body is replaced so the caller can still read it.
func Capture(res *http.Response, storedAt time.Time) (Snapshot, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return Snapshot{}, err
		}
		res.Body = io.NopCloser(bytes.NewReader(body))
	}
	return Snapshot{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		Body:       body,
		StoredAt:   storedAt,
	}, nil
}

// ToBytes serializes the snapshot as an HTTP/1.1 response with the capture
// timestamp added as a header.
func (s Snapshot) ToBytes() ([]byte, error) {
	res := http.Response{
		StatusCode:    s.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(s.StoredAt.Unix(), 10))
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes parses bytes previously produced by ToBytes.
func FromBytes(b []byte) (Snapshot, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}
	if unix, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		s.StoredAt = time.Unix(unix, 0)
	}
	s.Header.Del(storedAtHeaderName)
	return s, nil
}

// Response materializes the snapshot as a response for the given request.
// The returned response owns a fresh body reader on every call.
func (s Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	header.Set(storedAtHeaderName, strconv.FormatInt(s.StoredAt.Unix(), 10))
	return &http.Response{
		StatusCode:    s.StatusCode,
		Status:        http.StatusText(s.StatusCode),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// Age reports how long ago the snapshot was captured.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.StoredAt)
}
