package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Handler processes one control request.
type Handler func(context.Context, Request) Response

// Serve accepts clients until the context is cancelled or the listener
// closes, then waits for in-flight connections to drain.
func Serve(ctx context.Context, listener net.Listener, handle Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accepting control connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()

			line, err := bufio.NewReader(c).ReadBytes('\n')
			if err != nil {
				_ = json.NewEncoder(c).Encode(Response{Error: fmt.Sprintf("read request: %v", err)})
				return
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				_ = json.NewEncoder(c).Encode(Response{Error: fmt.Sprintf("decode request: %v", err)})
				return
			}
			log.Debug("control request", "command", req.Command)
			_ = json.NewEncoder(c).Encode(handle(ctx, req))
		}(conn)
	}
}
