package hl7

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapMLLP(t *testing.T) {
	framed := WrapMLLP([]byte("abc"))
	assert.Equal(t, []byte{StartBlock, 'a', 'b', 'c', EndBlock, CarriageReturn}, framed)
	assert.Equal(t, framed, WrapMLLP(framed))
	assert.Empty(t, WrapMLLP(nil))
	assert.Equal(t, []byte("abc"), UnwrapMLLP(framed))
}

func TestReadFrame(t *testing.T) {
	input := append([]byte("noise"), WrapMLLP([]byte("first"))...)
	input = append(input, WrapMLLP([]byte("second"))...)
	reader := bufio.NewReader(bytes.NewReader(input))

	frame, err := ReadFrame(reader, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(frame))

	frame, err = ReadFrame(reader, 0)
	require.NoError(t, err)
	assert.Equal(t, "second", string(frame))

	_, err = ReadFrame(reader, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameBadTerminator(t *testing.T) {
	reader := bufio.NewReader(bytes.NewReader([]byte{StartBlock, 'x', EndBlock, 'y'}))
	_, err := ReadFrame(reader, 0)
	assert.Error(t, err)
}

func TestReadFrameSizeLimit(t *testing.T) {
	frame, err := ReadFrame(bufio.NewReader(bytes.NewReader(WrapMLLP([]byte("abcd")))), 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(frame))

	reader := bufio.NewReader(bytes.NewReader(append(WrapMLLP([]byte("abcdefgh")), WrapMLLP([]byte("ok"))...)))
	_, err = ReadFrame(reader, 4)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	frame, err = ReadFrame(reader, 4)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(frame))
}

func TestReadFrameIncomplete(t *testing.T) {
	input := append([]byte{StartBlock}, "MSH|^~\\&|A"...)
	partial, err := ReadFrame(bufio.NewReader(bytes.NewReader(input)), 0)
	assert.ErrorIs(t, err, ErrIncompleteFrame)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "MSH|^~\\&|A", string(partial))
}

func TestCreateACK(t *testing.T) {
	ack := CreateACK(admitMessage(), AckAccept, "")
	assert.Equal(t, byte(StartBlock), ack[0])
	assert.Equal(t, AckAccept, AckCode(ack))

	msg := Parse(string(UnwrapMLLP(ack)))
	msh := msg.Segment("MSH")
	require.NotNil(t, msh)
	assert.Equal(t, "SENDAPP", msh.Field(5))
	assert.Equal(t, "ACK^A01", msh.Field(9))
	assert.Equal(t, "MSG00001", msh.Field(10))

	msa := msg.Segment("MSA")
	require.NotNil(t, msa)
	assert.Equal(t, "MSG00001", msa.Field(2))
}

func TestCreateACKCustomEncoding(t *testing.T) {
	original := "MSH#*~\\&#APP#FAC#R#RF#20240101##ADT*A01#C1#P#2.5"
	ack := string(UnwrapMLLP(CreateACK(original, AckError, "bad#thing")))

	assert.True(t, strings.HasPrefix(ack, "MSH#*~\\&#HL7_LITEBOARD#"))
	assert.Contains(t, ack, "ACK*A01")
	assert.Contains(t, ack, `bad\F\thing`)
	assert.Equal(t, AckError, AckCode([]byte(ack)))
}

type submitterFunc func(ctx context.Context, raw, filename string) (string, error)

func (f submitterFunc) Submit(ctx context.Context, raw, filename string) (string, error) {
	return f(ctx, raw, filename)
}

func startServer(t *testing.T, sub Submitter) *MLLPServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	server := NewMLLPServer("127.0.0.1:0", 0, sub)
	require.NoError(t, server.Start(ctx))

	t.Cleanup(func() {
		cancel()
		server.Stop()
	})
	return server
}

func TestMLLPServerAndClient(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	server := startServer(t, submitterFunc(func(_ context.Context, raw, filename string) (string, error) {
		if err := Validate(raw); err != nil {
			return "", err
		}
		if strings.Contains(raw, "STOREFAIL") {
			return "", errors.New("store down")
		}
		mu.Lock()
		defer mu.Unlock()
		received = append(received, raw)
		assert.True(t, strings.HasPrefix(filename, "mllp-"))
		return fmt.Sprintf("id-%d", len(received)), nil
	}))

	client := NewMLLPClient(server.Addr(), 5*time.Second)

	code, err := client.SendMessage([]byte(admitMessage()))
	require.NoError(t, err)
	assert.Equal(t, AckAccept, code)

	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, admitMessage(), received[0])
	mu.Unlock()

	code, err = client.SendMessage([]byte("PID|1||123"))
	assert.Error(t, err)
	assert.Equal(t, AckReject, code)

	code, err = client.SendMessage([]byte("MSH|^~\\&|STOREFAIL|FAC"))
	assert.Error(t, err)
	assert.Equal(t, AckError, code)
}

func TestMLLPClientConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = NewMLLPClient(addr, time.Second).SendMessage([]byte(admitMessage()))
	assert.Error(t, err)
}

func TestMLLPServerStopClosesIdleConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewMLLPServer("127.0.0.1:0", 0, submitterFunc(func(context.Context, string, string) (string, error) {
		return "id", nil
	}))
	require.NoError(t, server.Start(ctx))

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// One exchange so the handler is known to be running.
	_, err = conn.Write(WrapMLLP([]byte(admitMessage())))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	ack, err := ReadFrame(bufio.NewReader(conn), 0)
	require.NoError(t, err)
	assert.Equal(t, AckAccept, AckCode(ack))

	done := make(chan struct{})
	go func() {
		server.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func dialServer(t *testing.T, server *MLLPServer) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn, bufio.NewReader(conn)
}

func acceptAll(context.Context, string, string) (string, error) { return "id", nil }

func TestMLLPServerNaksTruncatedFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := NewMLLPServer("127.0.0.1:0", 0, submitterFunc(acceptAll))
	server.readTimeout = 200 * time.Millisecond
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() {
		cancel()
		server.Stop()
	})

	conn, reader := dialServer(t, server)

	// Header arrives, end block never does.
	_, err := conn.Write(append([]byte{StartBlock}, "MSH|^~\\&|APP|FAC|R|RF|20240101||ADT^A01|CTRL9|P|2.5"...))
	require.NoError(t, err)

	ack, err := ReadFrame(reader, 0)
	require.NoError(t, err)
	assert.Equal(t, AckError, AckCode(ack))
	msa := Parse(string(ack)).Segment("MSA")
	require.NotNil(t, msa)
	assert.Equal(t, "CTRL9", msa.Field(2))

	// The connection stays usable for the next frame.
	_, err = conn.Write(WrapMLLP([]byte(admitMessage())))
	require.NoError(t, err)
	ack, err = ReadFrame(reader, 0)
	require.NoError(t, err)
	assert.Equal(t, AckAccept, AckCode(ack))
}

func TestMLLPServerRejectsOversizedFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := NewMLLPServer("127.0.0.1:0", 64, submitterFunc(acceptAll))
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() {
		cancel()
		server.Stop()
	})

	conn, reader := dialServer(t, server)

	_, err := conn.Write(WrapMLLP([]byte(admitMessage())))
	require.NoError(t, err)

	ack, err := ReadFrame(reader, 0)
	require.NoError(t, err)
	assert.Equal(t, AckReject, AckCode(ack))

	// The oversized frame was skipped; the next one is read normally.
	_, err = conn.Write(WrapMLLP([]byte("MSH|^~\\&|APP|FAC")))
	require.NoError(t, err)
	ack, err = ReadFrame(reader, 0)
	require.NoError(t, err)
	assert.Equal(t, AckAccept, AckCode(ack))
}
