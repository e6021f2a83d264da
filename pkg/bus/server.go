package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/metrics"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

// Dispatcher is the channel state machine the server drives.
// *dispatcher.Dispatcher implements it.
type Dispatcher interface {
	Open(ctx context.Context, n uint8, frame protocol.CommandFrame, payload []byte) error
	Close(ctx context.Context, n uint8) error
	Read(ctx context.Context, n uint8, count int) ([]byte, error)
	Write(ctx context.Context, n uint8, data []byte) error
	Status(ctx context.Context, n uint8) (netstatus.NetworkStatus, error)
	SpecialInquiry(ctx context.Context, n uint8, cmd byte) protocol.Direction
	SpecialExecute(ctx context.Context, n uint8, frame protocol.CommandFrame, payload []byte) ([]byte, error)
}

// Config configures the bus server.
type Config struct {
	// Address is the TCP listen address ("host:port").
	Address string

	// MaxConnections limits concurrent bus clients. 0 means unlimited.
	MaxConnections int

	// IdleTimeout closes a connection that sends no frame for this long.
	// 0 disables it.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds how long Stop waits for connections to drain.
	ShutdownTimeout time.Duration

	// MaxPayload caps request payloads. 0 means MaxPayload.
	MaxPayload int
}

// Server accepts bus connections and serves their frames against a
// Dispatcher. Frames on one connection are handled in order; connections
// are served concurrently.
//
// Thread safety: all exported methods are safe for concurrent use. Stop is
// idempotent.
type Server struct {
	cfg     Config
	d       Dispatcher
	metrics metrics.BridgeMetrics

	listener   net.Listener
	listenerMu sync.RWMutex
	ready      chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	shutdownCtx  context.Context
	cancel       context.CancelFunc

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	conns       sync.Map // remote address -> net.Conn
	sem         chan struct{}
}

// NewServer creates a stopped server. m may be nil.
func NewServer(cfg Config, d Dispatcher, m metrics.BridgeMetrics) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		d:           d,
		metrics:     m,
		ready:       make(chan struct{}),
		shutdown:    make(chan struct{}),
		shutdownCtx: ctx,
		cancel:      cancel,
		sem:         sem,
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listen address, or nil before the server is listening.
func (s *Server) Addr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of connected bus clients.
func (s *Server) ConnectionCount() int {
	return int(s.connCount.Load())
}

// Serve listens on the configured address and serves until ctx is
// cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to create bus listener on %s: %w", s.cfg.Address, err)
	}
	return s.ServeListener(ctx, l)
}

// ServeListener serves on l, which the server takes ownership of.
//
// Returns nil on graceful shutdown, or an error when connections had to be
// force-closed.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
	close(s.ready)

	logger.Info("Bus server listening", "address", l.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Bus shutdown signal received", "error", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		conn, err := l.Accept()
		if err != nil {
			if s.sem != nil {
				<-s.sem
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting bus connection", logger.Err(err))
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.Err(err))
			}
		}

		addr := conn.RemoteAddr().String()
		s.activeConns.Add(1)
		s.connCount.Add(1)
		s.conns.Store(addr, conn)
		metrics.RecordConnection(s.metrics, 1)
		logger.Debug("Bus connection accepted", logger.ClientAddr(addr), "active", s.connCount.Load())

		go func() {
			defer func() {
				_ = conn.Close()
				s.conns.Delete(addr)
				s.connCount.Add(-1)
				metrics.RecordConnection(s.metrics, -1)
				if s.sem != nil {
					<-s.sem
				}
				s.activeConns.Done()
				logger.Debug("Bus connection closed", logger.ClientAddr(addr), "active", s.connCount.Load())
			}()
			c := &connection{server: s, conn: conn, addr: addr}
			c.serve(s.shutdownCtx)
		}()
	}
}

// initiateShutdown stops accepting, interrupts blocked reads and cancels
// in-flight commands. Safe to call more than once.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing bus listener", logger.Err(err))
			}
		}
		s.listenerMu.Unlock()

		deadline := time.Now().Add(100 * time.Millisecond)
		s.conns.Range(func(key, value any) bool {
			if err := value.(net.Conn).SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline", logger.ClientAddr(key.(string)), logger.Err(err))
			}
			return true
		})

		s.cancel()
	})
}

func (s *Server) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Bus shutdown complete")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Bus shutdown timeout exceeded, forcing closure", "active", remaining)
		s.conns.Range(func(_, value any) bool {
			_ = value.(net.Conn).Close()
			return true
		})
		return fmt.Errorf("bus shutdown timeout: %d connections force-closed", remaining)
	}
}

// Stop initiates shutdown and waits for connections to finish or ctx to
// expire.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isClosed reports whether err means the peer or the server closed the
// connection.
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
