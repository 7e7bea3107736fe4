package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/logging"
)

// Spawner starts the worker and returns the caller's end of its connection.
type Spawner func() (Conn, error)

type pendingCall struct {
	done     chan Envelope
	progress func(string)
}

// Client is the caller side of the bridge. The worker is spawned lazily on
// the first call and exactly once per client.
type Client struct {
	spawn   Spawner
	timeout time.Duration

	once     sync.Once
	conn     Conn
	spawnErr error

	lastID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingCall

	closed   chan struct{}
	closeErr error
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout bounds every call. Zero waits indefinitely.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient returns a client that spawns its worker with spawn.
func NewClient(spawn Spawner, opts ...Option) *Client {
	c := &Client{
		spawn:   spawn,
		pending: make(map[int64]*pendingCall),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) start() error {
	c.once.Do(func() {
		conn, err := c.spawn()
		if err != nil {
			c.spawnErr = fmt.Errorf("spawn worker: %w", err)
			return
		}
		c.conn = conn
		go c.dispatch()
		slog.Debug("bridge worker spawned")
	})
	return c.spawnErr
}

func (c *Client) dispatch() {
	for {
		env, err := c.conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.closeErr = ErrClosed
			} else {
				c.closeErr = fmt.Errorf("%w: %v", ErrClosed, err)
			}
			close(c.closed)
			return
		}

		c.mu.Lock()
		call, ok := c.pending[env.ID]
		c.mu.Unlock()
		if !ok {
			slog.Debug("bridge message without pending call", "type", env.Type, "id", env.ID)
			continue
		}

		switch env.Type {
		case TypeText:
			if call.progress != nil {
				call.progress(env.Text)
			}
		case TypeResult, TypeError:
			select {
			case call.done <- env:
			default:
			}
		default:
			slog.Debug("ignoring bridge message", "type", env.Type, "id", env.ID)
		}
	}
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) call(ctx context.Context, method string, params any, progress func(string), out any) error {
	if err := c.start(); err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		raw = b
	}

	id := c.lastID.Add(1)
	p := &pendingCall{done: make(chan Envelope, 1), progress: progress}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	log := logging.FromContext(logging.ContextWithCallID(ctx, id))
	log.Debug("bridge call", "method", method)
	start := time.Now()

	call := Envelope{Type: TypeCall, ID: id, RunID: logging.RunIDFromContext(ctx), Method: method, Params: raw}
	if err := c.conn.Send(call); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case env := <-p.done:
		log.Debug("bridge reply", "method", method, "type", env.Type, "duration", time.Since(start))
		if env.Type == TypeError {
			if env.Error == nil {
				return &RemoteError{Kind: KindFailed, Message: method + " failed"}
			}
			return env.Error
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		log.Warn("bridge call abandoned", "method", method, "error", ctx.Err())
		return ctx.Err()
	case <-c.closed:
		return c.closeErr
	}
}

// LoadRuntime bootstraps the worker's runtime, forwarding progress text to
// onProgress. onProgress runs on the dispatch goroutine and may be nil.
func (c *Client) LoadRuntime(ctx context.Context, onProgress func(string)) error {
	return c.call(ctx, MethodLoadRuntime, nil, onProgress, nil)
}

// HandleUploaded903Data runs a validation. A run that raised inside the
// rule engine comes back as an empty result with one error line.
func (c *Client) HandleUploaded903Data(ctx context.Context, files []core.UploadedFile, selected []core.ErrorSelected, metadata core.UploadMetadata) (core.ValidationResult, []string, error) {
	var reply validateReply
	params := validateParams{Files: files, SelectedErrors: selected, Metadata: metadata}
	if err := c.call(ctx, MethodHandleUploaded, params, nil, &reply); err != nil {
		return core.ValidationResult{}, nil, err
	}
	if reply.ErrorLines == nil {
		reply.ErrorLines = []string{}
	}
	return reply.Result, reply.ErrorLines, nil
}

// LoadErrorDefinitions returns the configured rule catalog.
func (c *Client) LoadErrorDefinitions(ctx context.Context) ([]core.ErrorDefinition, error) {
	var defs []core.ErrorDefinition
	if err := c.call(ctx, MethodLoadErrorDefinitions, nil, nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// SaveErrorSummary exports the CSV summary of the given kind. Export
// failures are handled by the worker; only transport errors are returned.
func (c *Client) SaveErrorSummary(ctx context.Context, kind string) error {
	return c.call(ctx, MethodSaveErrorSummary, summaryParams{Kind: kind}, nil, nil)
}

// SaveExcelSummary exports the full spreadsheet report.
func (c *Client) SaveExcelSummary(ctx context.Context) error {
	return c.call(ctx, MethodSaveExcelSummary, nil, nil, nil)
}

// Close shuts the connection to the worker. A client closed before its
// first call never spawns one.
func (c *Client) Close() error {
	c.once.Do(func() { c.spawnErr = ErrClosed })
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
