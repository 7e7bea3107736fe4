package bridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrClosed is returned once the connection to the worker is gone.
var ErrClosed = errors.New("bridge closed")

// Conn carries envelopes in one direction each way, in send order.
type Conn interface {
	Send(env Envelope) error
	// Recv blocks for the next envelope. It returns io.EOF after Close.
	Recv() (Envelope, error)
	Close() error
}

type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns the two ends of an in-memory connection. Envelopes are
// JSON encoded on the way through, so only serializable values cross it.
// Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: a, out: b, done: done, once: once},
		&pipeConn{in: b, out: a, done: done, once: once}
}

func (c *pipeConn) Send(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *pipeConn) Recv() (Envelope, error) {
	var b []byte
	select {
	case b = <-c.in:
	case <-c.done:
		return Envelope{}, io.EOF
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type streamConn struct {
	r *bufio.Reader

	mu sync.Mutex
	w  io.Writer

	closer io.Closer
}

// NewStreamConn speaks newline-delimited JSON envelopes over r and w.
// closer, if not nil, is called by Close.
func NewStreamConn(r io.Reader, w io.Writer, closer io.Closer) Conn {
	return &streamConn{r: bufio.NewReader(r), w: w, closer: closer}
}

func (c *streamConn) Send(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	b = append(b, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (c *streamConn) Recv() (Envelope, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if len(line) > 1 {
			var env Envelope
			if jerr := json.Unmarshal(line, &env); jerr == nil {
				return env, nil
			}
			slog.Warn("discarding malformed envelope", "line", string(line))
		}
		if err != nil {
			return Envelope{}, err
		}
	}
}

func (c *streamConn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
