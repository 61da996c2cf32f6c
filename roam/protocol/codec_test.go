package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: MessageTypeKeepalive, Payload: []byte("ok")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type {
		t.Fatalf("type mismatch")
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameDoesNotOverRead(t *testing.T) {
	var buf bytes.Buffer
	frames := []Frame{
		{Type: MessageTypeHello, Payload: []byte("first")},
		{Type: MessageTypeConfirm, Payload: nil},
		{Type: MessageTypeData, Payload: bytes.Repeat([]byte{7}, 4096)},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("frame %d mismatch", i)
		}
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFrameRejectsInvalid(t *testing.T) {
	if err := WriteFrame(io.Discard, Frame{Type: 0}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	big := Frame{Type: MessageTypeData, Payload: make([]byte, MaxFramePayload+1)}
	if err := WriteFrame(io.Discard, big); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	hdr := []byte{byte(MessageTypeData), 0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(hdr)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	small := []byte{byte(MessageTypeHello), 0, 0, 1, 0}
	if _, err := ReadFrameMax(bytes.NewReader(small), 255); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge under limit, got %v", err)
	}
	trunc := []byte{byte(MessageTypeData), 0, 0, 0, 4, 1, 2}
	if _, err := ReadFrame(bytes.NewReader(trunc)); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestMessageTypeSealed(t *testing.T) {
	if MessageTypeHello.Sealed() || MessageTypeConfirm.Sealed() {
		t.Fatalf("handshake frames must be clear")
	}
	for _, mt := range []MessageType{MessageTypeKeepalive, MessageTypePeerList, MessageTypeData, MessageTypeClose} {
		if !mt.Sealed() {
			t.Fatalf("%s should be sealed", mt)
		}
	}
}
