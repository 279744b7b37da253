package transfer

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
)

const flushPollInterval = 10 * time.Millisecond

// Channel is the open data transport an Engine drives. Messages must be
// delivered in order and reliably.
type Channel interface {
	Send(data []byte) error
	SendText(text string) error
	// BufferedAmount is the number of bytes queued but not yet sent.
	BufferedAmount() uint64
}

type Config struct {
	Logger *slog.Logger

	// ChunkSize defaults to MaxChunkSize and may not exceed it.
	ChunkSize int
	// HighWaterMark defaults to DefaultHighWaterMark.
	HighWaterMark uint64
	// MaxFileBytes bounds a received file. Zero means unlimited.
	MaxFileBytes int64
	// ReceiveQueue is the capacity of the Received channel. Defaults to 16.
	ReceiveQueue int

	OnFile     func(File)
	OnText     func(string)
	OnError    func(error)
	OnProgress func(sent, total int64)
}

// Engine runs the send and receive sides of the transfer protocol over one
// Channel. At most one outbound transfer is in flight at a time; inbound
// messages must be fed to HandleMessage in arrival order.
type Engine struct {
	ch  Channel
	cfg Config
	log *slog.Logger

	sending atomic.Bool
	drain   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	received chan File

	mu   sync.Mutex
	recv receiveBuffer
}

type receiveBuffer struct {
	meta   *Metadata
	chunks [][]byte
	size   int64
}

func (b *receiveBuffer) reset() {
	b.meta = nil
	b.chunks = nil
	b.size = 0
}

func NewEngine(ch Channel, cfg Config) (*Engine, error) {
	if ch == nil {
		return nil, errors.New("transfer: nil channel")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = MaxChunkSize
	}
	if cfg.ChunkSize < 0 || cfg.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("transfer: chunk size %d out of range (1..%d)", cfg.ChunkSize, MaxChunkSize)
	}
	if cfg.HighWaterMark == 0 {
		cfg.HighWaterMark = DefaultHighWaterMark
	}
	if cfg.ReceiveQueue <= 0 {
		cfg.ReceiveQueue = 16
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		ch:       ch,
		cfg:      cfg,
		log:      log,
		drain:    make(chan struct{}, 1),
		closed:   make(chan struct{}),
		received: make(chan File, cfg.ReceiveQueue),
	}, nil
}

// HighWaterMark is the threshold the channel's low-buffer callback should be
// armed with.
func (e *Engine) HighWaterMark() uint64 { return e.cfg.HighWaterMark }

// Drained wakes a sender paused on backpressure. It is safe to call from any
// goroutine and never blocks.
func (e *Engine) Drained() {
	select {
	case e.drain <- struct{}{}:
	default:
	}
}

// Received delivers reassembled files. Files are dropped (and logged) when
// the channel is full.
func (e *Engine) Received() <-chan File { return e.received }

// Close abandons any in-flight transfer in both directions.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.mu.Lock()
		if e.recv.meta != nil {
			e.log.Debug("discarding partial transfer", "file", e.recv.meta.FileName, "bytes", e.recv.size)
		}
		e.recv.reset()
		e.mu.Unlock()
	})
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// SendText sends a text control message. It may interleave with an
// in-flight file transfer only between chunks.
func (e *Engine) SendText(text string) error {
	if e.isClosed() {
		return ErrClosed
	}
	msg, err := encodeText(text)
	if err != nil {
		return err
	}
	return e.ch.SendText(msg)
}

// SendFile streams r as one transfer. size is reported to OnProgress and may
// be zero when unknown. It returns once the END sentinel is queued.
func (e *Engine) SendFile(ctx context.Context, name, mimeType string, r io.Reader, size int64) error {
	if e.isClosed() {
		return ErrClosed
	}
	if !e.sending.CompareAndSwap(false, true) {
		return ErrTransferInProgress
	}
	defer e.sending.Store(false)

	md, err := encodeMetadata(Metadata{FileName: name, FileType: mimeType})
	if err != nil {
		return err
	}
	if err := e.ch.SendText(md); err != nil {
		return fmt.Errorf("send metadata: %w", err)
	}

	buf := make([]byte, e.cfg.ChunkSize)
	var offset int64
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if err := e.waitForDrain(ctx); err != nil {
				return err
			}
			// The channel may retain the slice until it is written out.
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := e.ch.Send(chunk); err != nil {
				return fmt.Errorf("send chunk at offset %d: %w", offset, err)
			}
			offset += int64(n)
			if e.cfg.OnProgress != nil {
				e.cfg.OnProgress(offset, size)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read file at offset %d: %w", offset, rerr)
		}
	}

	if e.isClosed() {
		return ErrClosed
	}
	if err := e.ch.SendText(EndSentinel); err != nil {
		return fmt.Errorf("send end: %w", err)
	}
	e.log.Debug("file sent", "file", name, "bytes", offset)
	return nil
}

func (e *Engine) waitForDrain(ctx context.Context) error {
	for e.ch.BufferedAmount() > e.cfg.HighWaterMark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return ErrClosed
		case <-e.drain:
		}
	}
	if e.isClosed() {
		return ErrClosed
	}
	return nil
}

// Flush blocks until the channel reports nothing buffered. Closing a data
// channel with bytes still queued drops them, so senders flush before Close.
func (e *Engine) Flush(ctx context.Context) error {
	t := time.NewTicker(flushPollInterval)
	defer t.Stop()
	for e.ch.BufferedAmount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed:
			return ErrClosed
		case <-t.C:
		}
	}
	return nil
}

// HandleMessage consumes one inbound channel message. isString distinguishes
// text frames from binary frames.
func (e *Engine) HandleMessage(isString bool, data []byte) {
	if e.isClosed() {
		return
	}
	if !isString {
		e.handleChunk(data)
		return
	}
	if string(data) == EndSentinel {
		e.handleEnd()
		return
	}

	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		e.violation("malformed control message")
		return
	}
	switch msg.Type {
	case controlTypeMetadata:
		var md Metadata
		if err := json.Unmarshal(msg.Data, &md); err != nil {
			e.violation("malformed metadata")
			return
		}
		e.handleMetadata(md)
	case controlTypeText:
		var text string
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			e.violation("malformed text message")
			return
		}
		if e.cfg.OnText != nil {
			e.cfg.OnText(text)
		}
	default:
		e.violation(fmt.Sprintf("unknown control message %q", msg.Type))
	}
}

func (e *Engine) handleMetadata(md Metadata) {
	e.mu.Lock()
	if e.recv.meta != nil {
		perr := e.abortLocked("metadata received during a transfer")
		e.mu.Unlock()
		e.report(perr)
		e.mu.Lock()
	}
	e.recv.meta = &md
	e.mu.Unlock()
	e.log.Debug("receiving file", "file", md.FileName, "type", md.FileType)
}

func (e *Engine) handleChunk(data []byte) {
	e.mu.Lock()
	var perr *ProtocolError
	switch {
	case e.recv.meta == nil:
		perr = e.abortLocked("chunk received without metadata")
	case len(data) > MaxChunkSize:
		perr = e.abortLocked(fmt.Sprintf("chunk of %d bytes exceeds %d", len(data), MaxChunkSize))
	case e.cfg.MaxFileBytes > 0 && e.recv.size+int64(len(data)) > e.cfg.MaxFileBytes:
		perr = e.abortLocked(fmt.Sprintf("file exceeds %d bytes", e.cfg.MaxFileBytes))
	default:
		chunk := make([]byte, len(data))
		copy(chunk, data)
		e.recv.chunks = append(e.recv.chunks, chunk)
		e.recv.size += int64(len(chunk))
	}
	e.mu.Unlock()
	if perr != nil {
		e.report(perr)
	}
}

func (e *Engine) handleEnd() {
	e.mu.Lock()
	if e.recv.meta == nil {
		perr := e.abortLocked("end received without metadata")
		e.mu.Unlock()
		e.report(perr)
		return
	}
	data := make([]byte, 0, e.recv.size)
	for _, c := range e.recv.chunks {
		data = append(data, c...)
	}
	f := File{Name: e.recv.meta.FileName, MIMEType: e.recv.meta.FileType, Data: data}
	e.recv.reset()
	e.mu.Unlock()

	e.log.Debug("file received", "file", f.Name, "bytes", len(f.Data))
	if e.cfg.OnFile != nil {
		e.cfg.OnFile(f)
	}
	select {
	case e.received <- f:
	default:
		e.log.Warn("received queue full; file dropped from channel", "file", f.Name)
	}
}

// Abort discards the current inbound transfer, if any, and reports reason.
func (e *Engine) Abort(reason string) {
	e.mu.Lock()
	if e.recv.meta == nil && len(e.recv.chunks) == 0 {
		e.mu.Unlock()
		return
	}
	perr := e.abortLocked(reason)
	e.mu.Unlock()
	e.report(perr)
}

func (e *Engine) violation(reason string) {
	e.mu.Lock()
	perr := e.abortLocked(reason)
	e.mu.Unlock()
	e.report(perr)
}

func (e *Engine) abortLocked(reason string) *ProtocolError {
	perr := &ProtocolError{Reason: reason}
	if e.recv.meta != nil {
		perr.File = e.recv.meta.FileName
	}
	e.recv.reset()
	return perr
}

func (e *Engine) report(err error) {
	e.log.Warn("transfer aborted", "err", err)
	if e.cfg.OnError != nil {
		e.cfg.OnError(err)
	}
}
