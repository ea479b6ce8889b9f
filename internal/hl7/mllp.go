package hl7

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"time"
)

const (
	// MLLP frame characters
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D
)

// DefaultMaxFrameSize bounds a frame when no limit is configured.
const DefaultMaxFrameSize = 16 << 20

var (
	// ErrFrameTooLarge is returned once a frame grows past the size limit.
	ErrFrameTooLarge = errors.New("MLLP çerçevesi boyut sınırını aşıyor")

	// ErrIncompleteFrame wraps a read error that arrived after the start
	// block but before the end block.
	ErrIncompleteFrame = errors.New("eksik MLLP çerçevesi")
)

// Acknowledgment codes written to MSA-1.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// WrapMLLP adds MLLP wrapper to message
func WrapMLLP(message []byte) []byte {
	if len(message) == 0 {
		return message
	}

	// Check if already wrapped
	if message[0] == StartBlock {
		return message
	}

	framed := make([]byte, 0, len(message)+3)
	framed = append(framed, StartBlock)
	framed = append(framed, message...)
	return append(framed, EndBlock, CarriageReturn)
}

// UnwrapMLLP removes MLLP wrapper from message
func UnwrapMLLP(message []byte) []byte {
	message = bytes.TrimPrefix(message, []byte{StartBlock})
	message = bytes.TrimSuffix(message, []byte{EndBlock, CarriageReturn})
	return message
}

// ReadFrame reads one MLLP framed payload, discarding bytes before the start
// block. A payload longer than maxSize is consumed up to its end block and
// reported as ErrFrameTooLarge, leaving the reader at the next frame;
// maxSize <= 0 means DefaultMaxFrameSize. On ErrIncompleteFrame the bytes
// read so far are returned along with the error.
func ReadFrame(reader *bufio.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	// Wait for start block
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	// Read until end block
	var buffer bytes.Buffer
	oversized := false
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return buffer.Bytes(), fmt.Errorf("%w: %w", ErrIncompleteFrame, err)
		}

		if b == EndBlock {
			cr, err := reader.ReadByte()
			if err != nil {
				return buffer.Bytes(), fmt.Errorf("%w: %w", ErrIncompleteFrame, err)
			}
			if cr != CarriageReturn {
				return nil, fmt.Errorf("MLLP formatı hatası: CR beklendi, %02X alındı", cr)
			}
			break
		}

		if oversized {
			continue
		}
		if buffer.Len() >= maxSize {
			oversized = true
			continue
		}
		buffer.WriteByte(b)
	}

	if oversized {
		return nil, ErrFrameTooLarge
	}
	return buffer.Bytes(), nil
}

// CreateACK builds an MLLP framed acknowledgment for original. The ACK is
// written with the encoding characters the original message declared.
func CreateACK(original string, ackCode, text string) []byte {
	msg := Parse(original)
	p := msg.Parser()
	enc := p.Encoding()
	tr := p.Translator()

	var sendingApp, sendingFac, controlID, msgType string
	if len(msg.Segments) > 0 && msg.Segments[0].Name == HeaderTag {
		msh := msg.Segments[0]
		sendingApp = valueOf(p.Normalize(msh.Field(3)))
		sendingFac = valueOf(p.Normalize(msh.Field(4)))
		controlID = valueOf(p.Normalize(msh.Field(10)))
		msgType = valueOf(p.Component(msh.Field(9), 1))
	}

	timestamp := time.Now().Format(timestampLayout)
	ackControlID := controlID
	if ackControlID == "" {
		ackControlID = fmt.Sprintf("ACK%d", time.Now().Unix())
	}

	f := enc.Field
	ack := "MSH" + enc.String() +
		f + "HL7_LITEBOARD" + f + "MINASOFT" +
		f + tr.Escape(sendingApp) + f + tr.Escape(sendingFac) +
		f + timestamp + f +
		f + "ACK" + enc.Component + tr.Escape(msgType) +
		f + tr.Escape(ackControlID) + f + "P" + f + "2.5" +
		"\r" +
		"MSA" + f + ackCode + f + tr.Escape(controlID)
	if text != "" {
		ack += f + tr.Escape(text)
	}

	return WrapMLLP([]byte(ack + "\r"))
}

// AckCode returns MSA-1 of an acknowledgment message, or "".
func AckCode(ack []byte) string {
	msg := Parse(string(UnwrapMLLP(ack)))
	if msa := msg.Segment("MSA"); msa != nil {
		return msa.Field(1)
	}
	return ""
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
