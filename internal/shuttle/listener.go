package shuttle

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// HandlerFunc is the shape the State Engine registers against one
// shuttle ID: "(line) -> nothing". The Listener holds no reference back
// to the engine beyond this function value.
type HandlerFunc func(line string)

// shuttleResolver resolves an inbound connection's source host to a
// shuttle ID, per §4.2 step 1.
type shuttleResolver struct {
	exactByHost map[string]string // host -> shuttle ID
	loopbackID  string            // first shuttle configured on a loopback host
	virtualID   string            // first shuttle ID prefixed "virtual"
}

func newShuttleResolver(shuttleHosts map[string]string, orderedIDs []string) *shuttleResolver {
	r := &shuttleResolver{exactByHost: make(map[string]string)}
	for _, id := range orderedIDs {
		host := shuttleHosts[id]
		r.exactByHost[host] = id
		if r.loopbackID == "" && (host == "127.0.0.1" || host == "localhost") {
			r.loopbackID = id
		}
		if r.virtualID == "" && strings.HasPrefix(id, "virtual") {
			r.virtualID = id
		}
	}
	return r
}

func (r *shuttleResolver) resolve(host string) string {
	if id, ok := r.exactByHost[host]; ok {
		return id
	}
	if host == "127.0.0.1" || host == "::1" || host == "localhost" {
		if r.loopbackID != "" {
			return r.loopbackID
		}
		if r.virtualID != "" {
			return r.virtualID
		}
	}
	return "temp_shuttle_" + strings.ReplaceAll(host, ".", "_")
}

// Listener implements §4.2: it binds the well-known inbound port, assigns
// each accepted connection to a shuttle ID, registers the link in the
// Connection Registry, and frames inbound lines on '\n' for dispatch to
// the ID's registered handler.
type Listener struct {
	port        int
	registry    *Registry
	resolver    *shuttleResolver
	readTimeout time.Duration
	logger      *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewListener(port int, registry *Registry, resolver *shuttleResolver, readTimeout time.Duration, logger *slog.Logger) *Listener {
	return &Listener{
		port:        port,
		registry:    registry,
		resolver:    resolver,
		readTimeout: readTimeout,
		logger:      logger,
		handlers:    make(map[string]HandlerFunc),
	}
}

// RegisterHandler installs the handler for a shuttle ID, replacing any
// prior one (only one handler per ID at a time, per §4.2).
func (l *Listener) RegisterHandler(shuttleID string, handler HandlerFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[shuttleID] = handler
}

func (l *Listener) UnregisterHandler(shuttleID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, shuttleID)
}

func (l *Listener) handlerFor(shuttleID string) (HandlerFunc, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handlers[shuttleID]
	return h, ok
}

// Serve binds the listener and accepts connections until ctx is
// cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("0.0.0.0:%d", l.port))
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", l.port, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	shuttleID := l.resolver.resolve(host)

	l.registry.Register(shuttleID, conn)
	if l.logger != nil {
		l.logger.Info("shuttle connected", slog.String("shuttle_id", shuttleID), slog.String("remote_addr", host))
	}
	defer func() {
		l.registry.Close(shuttleID)
		if l.logger != nil {
			l.logger.Info("shuttle disconnected", slog.String("shuttle_id", shuttleID))
		}
	}()

	handler, ok := l.handlerFor(shuttleID)
	if !ok {
		handler = l.unknownShuttleHandler(shuttleID, conn)
	}

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(l.readTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if _, werr := conn.Write([]byte("PING\n")); werr != nil {
					return
				}
				continue
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		handler(line)
	}
}

// unknownShuttleHandler mirrors _handle_unknown_shuttle_message: a
// connection from an unconfigured host still gets logged and ack'd, but
// has no state engine behind it.
func (l *Listener) unknownShuttleHandler(shuttleID string, conn net.Conn) HandlerFunc {
	return func(line string) {
		if l.logger != nil {
			l.logger.Info("message from unknown shuttle", slog.String("shuttle_id", shuttleID), slog.String("line", line))
		}
		if line == "MRCD" {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.Write([]byte("MRCD\n"))
	}
}
