package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

/*
SSE executor is for server-sent events executor,
any client can connect to this event at /event and receives every
invocation as a JSON encoded event
*/

const sseClientBuffer = 16

type SSEExecutor struct {
	logger *slog.Logger
	server *http.Server

	mu      sync.Mutex
	clients map[chan Invocation]struct{}
}

type SSEExecutorArgs struct {
	Addr   string
	Logger *slog.Logger
}

func NewSSEExecutor(args SSEExecutorArgs) *SSEExecutor {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	s := &SSEExecutor{
		logger:  args.Logger.With("component", "sse-executor"),
		clients: make(map[chan Invocation]struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/event", s.Handler())

	s.server = &http.Server{
		Addr:              args.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler streams invocations to one client until it disconnects.
func (s *SSEExecutor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch := make(chan Invocation, sseClientBuffer)
		s.mu.Lock()
		s.clients[ch] = struct{}{}
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.clients, ch)
			s.mu.Unlock()
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-req.Context().Done():
				return
			case inv := <-ch:
				b, err := json.Marshal(inv)
				if err != nil {
					s.logger.Error("failed to encode event", "err", err)
					continue
				}
				// INFO: the blank line terminates an SSE message
				fmt.Fprintf(w, "data: %s\n\n", b)
				flusher.Flush()
			}
		}
	})
}

// OnWatchEvent implements Executor.
func (s *SSEExecutor) OnWatchEvent(inv Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- inv:
		default:
			s.logger.Warn("client is not keeping up, event is being ignored", "trigger", inv.Trigger)
		}
	}
	return nil
}

// Start implements Executor.
func (s *SSEExecutor) Start() error {
	s.logger.Debug("listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop implements Executor.
func (s *SSEExecutor) Stop() error {
	return s.server.Close()
}

var _ Executor = (*SSEExecutor)(nil)
