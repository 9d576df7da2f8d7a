package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"lanchat/internal/events"
	"lanchat/internal/peers"
	"lanchat/internal/util/logger/sl"
)

const (
	DefaultMaxConnections = 100 // Максимальное число одновременных соединений
	acceptPollInterval    = 1 * time.Second
)

type Handler interface {
	ServeInbound(conn *peers.Connection)
}

type Registry interface {
	Put(conn *peers.Connection)
}

type StatusSink interface {
	Status(line string)
}

type Listener struct {
	ln             *net.TCPListener
	registry       Registry
	handler        Handler
	sink           StatusSink
	maxConnections int
	log            *slog.Logger

	wg sync.WaitGroup
}

type Config struct {
	Host           string
	Port           int
	MaxConnections int
}

// Listen binds the TCP listener. A bind failure is returned to the caller.
func Listen(cfg Config, registry Registry, handler Handler, sink StatusSink, log *slog.Logger) (*Listener, error) {
	const op = "listener.Listen"

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%s: invalid port %d", op, cfg.Port)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}

	service := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", service)
	if err != nil {
		return nil, fmt.Errorf("%s: resolve %s: %w", op, service, err)
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("%s: listen %s: %w", op, service, err)
	}

	log = log.With(slog.String("component", "listener"))
	log.Info("Service started", slog.String("TCPAddr", ln.Addr().String()))

	return &Listener{
		ln:             ln,
		registry:       registry,
		handler:        handler,
		sink:           sink,
		maxConnections: cfg.MaxConnections,
		log:            log,
	}, nil
}

// Port returns the bound port, useful when Listen was given port 0.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until ctx is done or the listener is closed.
// Every accepted connection is registered before its handler starts.
func (l *Listener) Serve(ctx context.Context) {
	const op = "listener.Serve"
	log := l.log.With(slog.String("op", op))

	connLimiter := make(chan struct{}, l.maxConnections)

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down listener")
			_ = l.ln.Close()
			l.wg.Wait()
			return
		default:
		}

		if err := l.ln.SetDeadline(time.Now().Add(acceptPollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return
			}
			log.Warn("Failed to set deadline", sl.Err(err))
		}

		raw, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Info("Listener closed")
				l.wg.Wait()
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue // продолжаем слушать, если это ошибка таймаута
			}
			log.Warn("Error accepting connection", sl.Err(err))
			continue
		}

		select {
		case connLimiter <- struct{}{}:
		default:
			log.Warn("Too many connections, rejecting new connection", slog.String("RemoteAddr", raw.RemoteAddr().String()))
			_ = raw.Close()
			continue
		}

		conn := peers.NewConnection(raw, false)
		l.registry.Put(conn)

		status := events.Systemf("New connection received from %s", conn.Addr())
		log.Info(status)
		l.sink.Status(status)

		l.wg.Add(1)
		go func() {
			defer func() {
				<-connLimiter
				l.wg.Done()
			}()
			l.handler.ServeInbound(conn)
		}()
	}
}

// Close stops accepting. Connections already handed off stay open.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
