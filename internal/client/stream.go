package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the number of outgoing frames buffered while the write
// loop catches up.
const DefaultQueueSize = 64

// Dialer opens an authenticated connection to the relay.
type Dialer func(ctx context.Context) (Connection, error)

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the stream's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Stream) { s.log = l }
}

// WithQueueSize sets the outgoing queue size.
func WithQueueSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Stream runs the read and write loops of a relay connection and implements
// typing.Channel on top of it. Send never blocks on the network and inbound
// frames are delivered to subscribers on the read goroutine.
type Stream struct {
	dial      Dialer
	log       logrus.FieldLogger
	queueSize int

	mu   sync.RWMutex
	link *link
	wg   sync.WaitGroup

	subsMu  sync.RWMutex
	subs    map[uint64]func([]byte)
	nextSub uint64
}

type link struct {
	conn      Connection
	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// NewStream creates a disconnected Stream that opens connections with dial.
func NewStream(dial Dialer, opts ...Option) *Stream {
	s := &Stream{
		dial:      dial,
		log:       logrus.StandardLogger(),
		queueSize: DefaultQueueSize,
		subs:      make(map[uint64]func([]byte)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect establishes a connection to the server
func (s *Stream) Connect(ctx context.Context) error {
	if s.IsConnected() {
		return errors.New("already connected")
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	l := &link{
		conn:     conn,
		outgoing: make(chan []byte, s.queueSize),
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop(l)
	go s.writeLoop(l)

	s.log.WithField("remote_addr", conn.RemoteAddr().String()).Info("connected to relay")
	return nil
}

// Disconnect closes the connection to the server
func (s *Stream) Disconnect() {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()

	if l != nil {
		l.close()
	}
	s.wg.Wait()
}

// IsConnected returns whether the client is connected
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link != nil
}

// Send queues a frame for the server. It fails fast instead of blocking when
// the connection is down or congested.
func (s *Stream) Send(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.link == nil {
		return ErrNotConnected
	}
	frame := append([]byte(nil), data...)
	select {
	case s.link.outgoing <- frame:
		return nil
	default:
		return ErrOutgoingFull
	}
}

// Subscribe registers handler for inbound frames.
func (s *Stream) Subscribe(handler func([]byte)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *Stream) dispatch(data []byte) {
	s.subsMu.RLock()
	handlers := make([]func([]byte), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subsMu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
}

func (s *Stream) readLoop(l *link) {
	defer s.wg.Done()
	defer s.drop(l)

	for {
		data, err := l.conn.ReadFrame()
		if err != nil {
			select {
			case <-l.done:
			default:
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					s.log.Info("relay closed the connection")
				} else {
					s.log.WithError(err).Warn("error reading from server")
				}
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Stream) writeLoop(l *link) {
	defer s.wg.Done()

	for {
		select {
		case <-l.done:
			return
		case data := <-l.outgoing:
			if err := l.conn.WriteFrame(data); err != nil {
				if errors.Is(err, ErrUnsupportedFrame) {
					s.log.WithError(err).Debug("dropping frame")
					continue
				}
				select {
				case <-l.done:
				default:
					s.log.WithError(err).Warn("failed to send frame")
				}
				s.drop(l)
				return
			}
		}
	}
}

// drop tears l down and marks the stream disconnected if l is still current.
func (s *Stream) drop(l *link) {
	l.close()
	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
}
