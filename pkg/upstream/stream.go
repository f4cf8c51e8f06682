package upstream

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"streamscraper/pkg/errors"
	"streamscraper/pkg/rules"
)

// Stream is an open connection delivering one record per line
type Stream interface {
	// Next returns the next line without its terminator. Keep-alive lines
	// come back empty.
	Next() ([]byte, error)
	Close() error
}

// ErrLineTooLong is wrapped by the decode error Next returns for an
// oversized line; the line is discarded and the stream stays usable.
var ErrLineTooLong = stderrors.New("line exceeds maximum size")

// Open connects to the stream endpoint. In v1 mode the rule patterns are
// sent as the track parameter.
func (c *Client) Open(ctx context.Context, set rules.Set) (Stream, error) {
	var query url.Values
	if c.opts.Mode == ModeV1 {
		if set.Len() == 0 {
			return nil, errors.New(errors.ErrorTypeInvalidRequest, "v1 streams need at least one track pattern")
		}
		query = url.Values{"track": {strings.Join(set.Patterns(), ",")}}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(streamCtx, http.MethodGet, c.endpoint(c.opts.StreamPath, query), nil)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	c.logger.InfoWithFields("Stream connected", map[string]interface{}{
		"mode":  string(c.opts.Mode),
		"rules": set.Len(),
	})
	return newLineStream(resp.Body, cancel, c.opts.MaxLineBytes, c.opts.StallTimeout), nil
}

type lineStream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	cancel  context.CancelFunc
	maxLine int

	stall   time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	stalled atomic.Bool
	closed  atomic.Bool
}

func newLineStream(body io.ReadCloser, cancel context.CancelFunc, maxLine int, stall time.Duration) *lineStream {
	s := &lineStream{
		body:    body,
		reader:  bufio.NewReaderSize(body, 64<<10),
		cancel:  cancel,
		maxLine: maxLine,
		stall:   stall,
	}
	if stall > 0 {
		s.timer = time.AfterFunc(stall, s.onStall)
	}
	return s
}

// onStall fires when nothing, not even a keep-alive, arrived within the
// stall timeout. Closing the body unblocks the pending read.
func (s *lineStream) onStall() {
	s.stalled.Store(true)
	s.body.Close()
}

func (s *lineStream) touch() {
	if s.timer == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer.Reset(s.stall)
}

func (s *lineStream) Next() ([]byte, error) {
	var line []byte
	tooLong := false

	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(chunk) > 0 {
			s.touch()
		}

		if !tooLong {
			if len(line)+len(chunk) > s.maxLine+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return nil, s.readError(err)
	}

	if tooLong {
		return nil, errors.Wrap(errors.ErrorTypeDecode, "record discarded", ErrLineTooLong)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (s *lineStream) readError(err error) error {
	switch {
	case s.stalled.Load():
		return errors.New(errors.ErrorTypeNetwork, "stream stalled: no data within stall timeout")
	case s.closed.Load():
		return errors.Wrap(errors.ErrorTypeNetwork, "stream closed", io.EOF)
	case stderrors.Is(err, io.EOF):
		return errors.Wrap(errors.ErrorTypeNetwork, "stream closed by upstream", err)
	default:
		return errors.Wrap(errors.ErrorTypeNetwork, "stream read failed", err)
	}
}

func (s *lineStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
	return s.body.Close()
}
