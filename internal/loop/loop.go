// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package loop owns the dedicated background goroutine that services the
// IPC transport and shutdown coordination for the persistence client.
//
// The foreground never touches the loop directly. It enqueues fixed-shape
// messages through Deliver, which is bounded: it either hands the message
// over immediately or fails, it never waits for processing. Messages are
// consumed strictly in delivery order on the loop goroutine. CmdQuit is the
// only way the goroutine exits; a preceding CmdPrepareShutdown switches the
// loop into a drain phase that flushes outstanding IPC work first.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	internallog "github.com/tombee/persist/internal/log"
)

var (
	// ErrLoopNotRunning is returned by Deliver when the loop goroutine is
	// not alive. Delivering Quit to a stopped loop is this error, not a fault.
	ErrLoopNotRunning = errors.New("event loop is not running")

	// ErrMailboxFull is returned when the bounded mailbox cannot accept a
	// message without blocking the foreground.
	ErrMailboxFull = errors.New("event loop mailbox is full")

	// ErrAlreadyRunning is returned by Start if the loop is already alive.
	ErrAlreadyRunning = errors.New("event loop is already running")
)

// Command identifies a message's intent to the loop goroutine.
type Command uint32

const (
	// CmdPrepareShutdown switches the loop into its drain phase.
	CmdPrepareShutdown Command = iota + 1
	// CmdQuit terminates the loop goroutine.
	CmdQuit
	// CmdSyncCache requests a flush of cached write-backs.
	CmdSyncCache
	// CmdNotifySignal dispatches an asynchronous change notification.
	CmdNotifySignal
)

// String returns the command name for logging.
func (c Command) String() string {
	switch c {
	case CmdPrepareShutdown:
		return "prepare_shutdown"
	case CmdQuit:
		return "quit"
	case CmdSyncCache:
		return "sync_cache"
	case CmdNotifySignal:
		return "notify_signal"
	default:
		return "unknown"
	}
}

// Shutdown levels carried in Params[0] of a CmdPrepareShutdown message.
const (
	// ShutdownFull precedes a quit during library teardown.
	ShutdownFull int32 = 1
	// ShutdownPartial is a lifecycle shutdown vote; the process keeps running.
	ShutdownPartial int32 = 2
)

// Message is the fixed-shape record exchanged with the loop goroutine.
// The sender relinquishes ownership at the moment Deliver returns nil;
// the loop copies it out of the mailbox and discards it after handling.
type Message struct {
	Cmd     Command
	Params  [2]int32
	Payload string
}

// Handler processes non-control messages on the loop goroutine. It is
// also informed when the loop enters its drain phase so outstanding IPC
// work can be flushed before the quit is honored.
type Handler interface {
	// HandleMessage is called for CmdSyncCache and CmdNotifySignal
	// messages, always from the loop goroutine.
	HandleMessage(msg Message)

	// PrepareShutdown is called when a CmdPrepareShutdown message is
	// consumed. level is ShutdownFull or ShutdownPartial.
	PrepareShutdown(level int32)
}

// mailboxSize bounds the number of undelivered messages; teardown sends at
// most two control messages and notification traffic is low-rate.
const mailboxSize = 64

// Bridge owns the loop goroutine and its mailbox.
type Bridge struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	mailbox chan Message
	done    chan struct{}
	running bool
}

// New creates a stopped bridge. handler may be nil, in which case
// non-control messages are dropped with a warning.
func New(handler Handler, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		handler: handler,
		logger:  internallog.WithComponent(logger, "loop"),
	}
}

// Start launches the loop goroutine. It fails if the loop is already alive.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrAlreadyRunning
	}

	b.mailbox = make(chan Message, mailboxSize)
	b.done = make(chan struct{})
	b.running = true

	go b.run(b.mailbox, b.done)
	return nil
}

// Running reports whether the loop goroutine is alive.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Deliver enqueues a message for the loop goroutine. It never waits for the
// message to be processed: it either succeeds immediately or returns
// ErrMailboxFull. Delivering to a stopped loop returns ErrLoopNotRunning.
func (b *Bridge) Deliver(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return ErrLoopNotRunning
	}

	select {
	case b.mailbox <- msg:
		messagesDelivered.WithLabelValues(msg.Cmd.String()).Inc()
		return nil
	default:
		messagesRejected.WithLabelValues(msg.Cmd.String()).Inc()
		return ErrMailboxFull
	}
}

// Join blocks until the loop goroutine has fully drained and exited, or the
// context is cancelled. Library teardown joins with an unbounded context;
// callers needing shutdown responsiveness can bound it.
func (b *Bridge) Join(ctx context.Context) error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the loop goroutine body. It consumes the mailbox in FIFO order
// until a CmdQuit message arrives.
func (b *Bridge) run(mailbox chan Message, done chan struct{}) {
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		close(done)
	}()

	draining := false

	for msg := range mailbox {
		switch msg.Cmd {
		case CmdPrepareShutdown:
			draining = true
			b.logger.Info("entering drain phase",
				internallog.String(internallog.CommandKey, msg.Cmd.String()),
				internallog.Int("level", int(msg.Params[0])))
			if b.handler != nil {
				b.handler.PrepareShutdown(msg.Params[0])
			}

		case CmdQuit:
			if !draining {
				b.logger.Warn("quit received without a preceding prepare-shutdown")
			}
			b.logger.Info("event loop exiting",
				internallog.String(internallog.CommandKey, msg.Cmd.String()))
			return

		default:
			// Normal traffic after a prepare means the shutdown was
			// cancelled; the loop is no longer draining.
			draining = false
			if b.handler == nil {
				b.logger.Warn("dropping message, no handler installed",
					internallog.String(internallog.CommandKey, msg.Cmd.String()))
				continue
			}
			b.handler.HandleMessage(msg)
		}
	}
}
