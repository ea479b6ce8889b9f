package hl7

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"time"
)

type MLLPClient struct {
	addr    string
	timeout time.Duration
}

func NewMLLPClient(addr string, timeout time.Duration) *MLLPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MLLPClient{
		addr:    addr,
		timeout: timeout,
	}
}

// SendMessage sends one message and returns the ACK code on a positive
// acknowledgment (AA or CA).
func (c *MLLPClient) SendMessage(message []byte) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return "", fmt.Errorf("bağlantı hatası %s: %w", c.addr, err)
	}
	defer conn.Close()

	slog.Debug("HL7 sunucusuna bağlandı", "address", c.addr)

	wrappedMessage := WrapMLLP(message)

	conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write(wrappedMessage); err != nil {
		return "", fmt.Errorf("mesaj gönderme hatası: %w", err)
	}

	slog.Debug("HL7 mesaj gönderildi", "size", len(wrappedMessage))

	conn.SetReadDeadline(time.Now().Add(c.timeout))
	ack, err := ReadFrame(bufio.NewReader(conn), DefaultMaxFrameSize)
	if err != nil {
		return "", fmt.Errorf("ACK okuma hatası: %w", err)
	}

	ackCode := AckCode(ack)
	if ackCode != AckAccept && ackCode != "CA" {
		return ackCode, fmt.Errorf("negatif ACK alındı: %s", ackCode)
	}

	slog.Info("HL7 mesaj başarıyla gönderildi", "address", c.addr, "ackCode", ackCode)
	return ackCode, nil
}
