package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// StdioTransport speaks line-delimited JSON-RPC over an io.Reader/io.Writer
// pair, typically stdin/stdout. Every input line is scheduled on a bounded
// worker pool as an independent unit of work, so a slow handler does not
// stall the read loop. Output lines are written under a single mutex so no
// two responses ever interleave mid-line.
type StdioTransport struct {
	dispatcher Dispatcher
	reader     io.Reader
	writer     io.Writer
	logger     *slog.Logger

	workers int
	exec    *executor
	writeMu sync.Mutex
}

// StdioOption represents the options for the stdio transport.
type StdioOption func(*StdioTransport)

// NewStdioTransport creates a stdio transport reading from reader and writing
// to writer, dispatching every line through dispatcher.
func NewStdioTransport(dispatcher Dispatcher, reader io.Reader, writer io.Writer, options ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		dispatcher: dispatcher,
		reader:     reader,
		writer:     writer,
		logger:     slog.Default(),
		workers:    4,
	}
	for _, opt := range options {
		opt(t)
	}
	t.exec = newExecutor(t.workers)
	return t
}

// WithStdioWorkers sets the size of the worker pool that dispatches input
// lines.
func WithStdioWorkers(workers int) StdioOption {
	return func(t *StdioTransport) {
		t.workers = workers
	}
}

// WithStdioLogger sets the logger for the stdio transport.
func WithStdioLogger(logger *slog.Logger) StdioOption {
	return func(t *StdioTransport) {
		t.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "stdio"),
		)
	}
}

// Run reads input lines until EOF or a read error, dispatching each through
// the worker pool. Before returning it drains the pool, so every line read is
// answered even when input closes mid-burst. Closing the reader is the way to
// shut the transport down.
func (t *StdioTransport) Run() error {
	// bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(t.reader)

	var readErr error
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = fmt.Errorf("failed to read line: %w", err)
			}
			break
		}

		if len(line) <= 1 {
			continue
		}

		data := []byte(line)
		t.exec.Submit(func() {
			t.dispatchLine(data)
		})
	}

	t.exec.Drain()
	return readErr
}

func (t *StdioTransport) dispatchLine(data []byte) {
	resp := t.dispatcher.HandleRaw(data, t, "")
	if resp == nil {
		return
	}
	if err := t.writeMessage(*resp); err != nil {
		t.logger.Error("failed to write response", slog.String("err", err.Error()))
	}
}

// writeMessage serializes msg as one newline-terminated line. The mutex and
// the single Write call together guarantee no torn writes across concurrent
// workers.
func (t *StdioTransport) writeMessage(msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msgBs = append(msgBs, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(msgBs); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// SendEvent implements EventSink by writing a notification carrying the event
// method to the single output stream. Stdio has one peer, so the sessionID is
// ignored.
func (t *StdioTransport) SendEvent(event string, payload any, _ string) error {
	msg, err := newNotificationMessage(event, payload)
	if err != nil {
		return err
	}
	return t.writeMessage(msg)
}

// Broadcast implements EventSink by writing the message to the single output
// stream.
func (t *StdioTransport) Broadcast(msg JSONRPCMessage) error {
	return t.writeMessage(msg)
}

// Kind implements EventSink.
func (t *StdioTransport) Kind() string { return TransportKindStdio }
