package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/matst80/ws2s/internal/httpx"
	"github.com/matst80/ws2s/internal/obs"
)

type SessionCmd struct {
	Host string `arg:"" help:"Destination host."`
	Port string `arg:"" help:"Destination port."`
}

func (c *SessionCmd) Run(ctx context.Context, g *CLI, out io.Writer) error {
	return c.run(ctx, g, os.Stdin, out)
}

// run writes each input line through the tunnel and prints sent lines as
// "> line" and received data as "< data".
func (c *SessionCmd) run(ctx context.Context, g *CLI, in io.Reader, out io.Writer) error {
	cl := g.newClient()
	defer shutdown(cl)
	h, err := g.dial(ctx, cl, c.Host, c.Port)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "connected to %s:%s\n", c.Host, c.Port)
	stream := newHandleStream(cl, h, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 32<<10)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				fmt.Fprintf(out, "< %s\n", bytes.TrimRight(buf[:n], "\r\n"))
			}
			if err != nil {
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-done:
			fmt.Fprintln(out, "connection lost")
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if _, err := stream.Write([]byte(line + "\n")); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			fmt.Fprintf(out, "> %s\n", line)
		}
	}
	closed, err := cl.CloseChan(h)
	if err != nil {
		return err
	}
	<-closed
	<-done
	return nil
}

type GetCmd struct {
	Host    string        `arg:"" help:"Destination host."`
	Port    string        `arg:"" optional:"" default:"80" help:"Destination port."`
	Path    string        `arg:"" optional:"" default:"/" help:"Request path."`
	Headers bool          `short:"H" help:"Print response headers too."`
	Timeout time.Duration `default:"10s" help:"Time to wait for the response."`
}

func (c *GetCmd) Run(ctx context.Context, g *CLI, out io.Writer) error {
	cl := g.newClient()
	defer shutdown(cl)
	h, err := g.dial(ctx, cl, c.Host, c.Port)
	if err != nil {
		return err
	}
	defer cl.Close(h, nil)
	stream := newHandleStream(cl, h, c.Timeout)

	req := httpx.NewRequest("GET", c.Host, c.Path)
	if _, err := req.WriteTo(stream); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	resp, err := httpx.ParseResponse(bufio.NewReader(stream), 64<<10)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	obs.Debug("cli.get", obs.Fields{"status": resp.Status, "headers": len(resp.Headers)})
	fmt.Fprintln(out, resp.StatusLine())
	if c.Headers {
		for _, hd := range resp.Headers {
			fmt.Fprintf(out, "%s: %s\n", hd.Name, hd.Value)
		}
	}
	return nil
}

type EchoCmd struct {
	Host    string        `arg:"" help:"Echo server host."`
	Port    string        `arg:"" help:"Echo server port."`
	Message string        `short:"m" default:"ws2s echo check" help:"Message to send."`
	Timeout time.Duration `default:"5s" help:"Time to wait for the echo."`
}

var errEchoMismatch = errors.New("echo mismatch")

func (c *EchoCmd) Run(ctx context.Context, g *CLI, out io.Writer) error {
	cl := g.newClient()
	defer shutdown(cl)
	start := time.Now()
	h, err := g.dial(ctx, cl, c.Host, c.Port)
	if err != nil {
		return err
	}
	defer cl.Close(h, nil)
	stream := newHandleStream(cl, h, c.Timeout)
	if _, err := stream.Write([]byte(c.Message)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got := make([]byte, len(c.Message))
	if _, err := io.ReadFull(stream, got); err != nil {
		return fmt.Errorf("read echo: %w", err)
	}
	if string(got) != c.Message {
		return fmt.Errorf("%w: sent %q, got %q", errEchoMismatch, c.Message, got)
	}
	fmt.Fprintf(out, "echo ok: %d bytes in %s\n", len(got), time.Since(start).Round(time.Millisecond))
	return nil
}
