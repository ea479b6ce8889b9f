package hl7

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Submitter accepts raw HL7 text for intake and returns the message identity.
type Submitter interface {
	Submit(ctx context.Context, raw, filename string) (string, error)
}

// MLLPServer receives framed HL7 messages over TCP and hands them to intake.
type MLLPServer struct {
	addr         string
	submitter    Submitter
	maxFrameSize int
	readTimeout  time.Duration
	listener     net.Listener
	wg           sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewMLLPServer builds a listener for addr. Frames larger than maxFrameSize
// bytes are rejected; maxFrameSize <= 0 means DefaultMaxFrameSize.
func NewMLLPServer(addr string, maxFrameSize int, submitter Submitter) *MLLPServer {
	return &MLLPServer{
		addr:         addr,
		submitter:    submitter,
		maxFrameSize: maxFrameSize,
		readTimeout:  30 * time.Second,
		conns:        make(map[net.Conn]struct{}),
	}
}

func (s *MLLPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("port dinlenemedi %s: %w", s.addr, err)
	}
	s.listener = listener

	slog.Info("HL7 MLLP sunucu başlatıldı", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections(ctx)
	return nil
}

// Addr returns the bound listener address, useful when started on port 0.
func (s *MLLPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *MLLPServer) acceptConnections(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("Bağlantı kabul hatası", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *MLLPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	slog.Info("Yeni HL7 bağlantısı", "remoteAddr", remoteAddr)

	reader := bufio.NewReader(conn)

	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		message, err := ReadFrame(reader, s.maxFrameSize)
		if err != nil {
			var netErr net.Error
			timeout := errors.As(err, &netErr) && netErr.Timeout()

			switch {
			case errors.Is(err, ErrFrameTooLarge):
				slog.Warn("MLLP çerçevesi boyut sınırını aştı", "remoteAddr", remoteAddr, "limit", s.maxFrameSize)
				conn.Write(CreateACK("", AckReject, "mesaj boyut sınırını aşıyor"))
				continue
			case errors.Is(err, ErrIncompleteFrame):
				// The partial frame is NAKed; its control id is echoed when the header arrived.
				slog.Warn("Eksik MLLP çerçevesi", "remoteAddr", remoteAddr, "bytes", len(message), "error", err)
				conn.Write(CreateACK(string(message), AckError, "eksik MLLP çerçevesi"))
				if timeout {
					continue
				}
				return
			case err == io.EOF:
				slog.Info("Bağlantı kapatıldı", "remoteAddr", remoteAddr)
				return
			case timeout:
				continue
			}
			slog.Error("Mesaj okuma hatası", "error", err, "remoteAddr", remoteAddr)
			return
		}

		raw := string(message)
		id, err := s.submitter.Submit(ctx, raw, "mllp-"+remoteAddr)
		switch {
		case errors.Is(err, ErrValidation):
			slog.Warn("Geçersiz HL7 mesajı reddedildi", "remoteAddr", remoteAddr, "error", err)
			conn.Write(CreateACK(raw, AckReject, err.Error()))
		case err != nil:
			slog.Error("Mesaj işleme hatası", "remoteAddr", remoteAddr, "error", err)
			conn.Write(CreateACK(raw, AckError, "mesaj kaydedilemedi"))
		default:
			slog.Info("HL7 mesaj alındı ve kuyruğa eklendi", "id", id, "source", remoteAddr)
			conn.Write(CreateACK(raw, AckAccept, ""))
		}
	}
}

// Stop closes the listener and any open connections, then waits for the
// handlers to return.
func (s *MLLPServer) Stop() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
