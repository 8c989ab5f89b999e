package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const (
	// flushTimeout bounds how long a reply flush may block on a client
	// that stopped reading.
	flushTimeout = 5 * time.Second

	// rejectTimeout bounds the courtesy write telling an over-limit
	// client to go away.
	rejectTimeout = 500 * time.Millisecond
)

// client is the per-connection state: the parser on the read side, a
// buffered writer on the reply side, and the address for log lines.
type client struct {
	app    *application
	conn   net.Conn
	parser *Parser
	out    *bufio.Writer
	addr   string
}

// serve accepts connections until SIGINT/SIGTERM, then drains in-flight
// clients under the configured timeout.
func (app *application) serve() error {
	//
	// DESIGN
	// ------
	//
	// The command handlers never block each other: the store's sketches
	// take concurrent writes lock-free, so there is no reason to shape
	// traffic beyond capping the number of connections. The cap rides the
	// ActiveConnections gauge the metrics already maintain; when an
	// accept pushes the gauge past the limit, the connection gets a short
	// courtesy error under a strict deadline and is dropped, so a client
	// that refuses to read its rejection cannot stall the accept loop.
	//
	// Shutdown is context-driven. signal.NotifyContext cancels on
	// SIGINT/SIGTERM, a watcher goroutine closes the listener, and the
	// accept loop falls out with net.ErrClosed. In-flight clients are
	// then given shutdownTimeout to finish; whatever is still running
	// after that is abandoned to the process exit rather than held open
	// indefinitely.
	//
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.port))
	if err != nil {
		return err
	}
	app.listener = ln

	if app.readyCh != nil {
		close(app.readyCh)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	app.logger.Info("listening", "address", ln.Addr().String(),
		"precision", app.config.precision, "hash", app.config.hashFamily)

	var clients sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			app.logger.Error("accept failed", "error", err)
			continue
		}

		if n := app.metrics.ActiveConnections.Add(1); n > int64(app.config.maxConnections) {
			app.metrics.ActiveConnections.Add(-1)
			app.reject(conn)
			continue
		}
		app.metrics.TotalConnections.Add(1)

		clients.Add(1)
		go func() {
			defer clients.Done()
			defer app.metrics.ActiveConnections.Add(-1)

			c := &client{
				app:    app,
				conn:   conn,
				parser: NewParser(conn),
				out:    bufio.NewWriterSize(conn, 4096),
				addr:   conn.RemoteAddr().String(),
			}
			c.run()
		}()
	}

	drained := make(chan struct{})
	go func() {
		clients.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		app.logger.Info("server stopped")
	case <-time.After(app.config.shutdownTimeout):
		app.logger.Warn("shutdown timeout, abandoning connections",
			"active", app.metrics.ActiveConnections.Load())
	}
	return nil
}

// reject tells an over-limit client why it is being dropped.
func (app *application) reject(conn net.Conn) {
	app.logger.Info("connection limit reached, rejecting", "remote_addr", conn.RemoteAddr().String())
	_ = conn.SetWriteDeadline(time.Now().Add(rejectTimeout))
	_ = writeError(conn, "ERR max number of clients reached")
	_ = conn.Close()
}

// run is the client's read-dispatch-reply loop.
func (c *client) run() {
	defer func() { _ = c.conn.Close() }()

	// Replies already buffered must reach the client even when the loop
	// exits on a parse error mid-pipeline.
	defer func() { _ = c.out.Flush() }()

	for {
		if t := c.app.config.idleTimeout; t > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(t)); err != nil {
				c.app.logger.Error("failed to set read deadline", "error", err, "remote_addr", c.addr)
				return
			}
		}

		parts, err := c.parser.Parse()
		if err != nil {
			if err == io.EOF {
				c.app.logger.Debug("client disconnected", "remote_addr", c.addr)
			} else {
				c.app.logger.Error("parse failed", "error", err, "remote_addr", c.addr)
			}
			return
		}

		c.app.dispatch(c.out, parts)

		// Hold the flush while the client is pipelining: if more commands
		// are already buffered, their replies can share one write.
		if c.parser.Buffered() > 0 {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(flushTimeout))
		if err := c.out.Flush(); err != nil {
			c.app.logger.Error("flush failed", "error", err, "remote_addr", c.addr)
			return
		}
	}
}
