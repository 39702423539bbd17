package instruments

import (
	"bytes"
	"net"
	"testing"

	"idevicekit/internal/transport"
)

func pipeSockets(t *testing.T) (*transport.Socket, *transport.Socket) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return transport.DialConn(client), transport.DialConn(server)
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	want := fragmentHeader{
		FragmentIndex: 1,
		FragmentCount: 3,
		Channel:       5,
		ReplyID:       42,
		AuxLength:     8,
		PayloadLength: 100,
	}
	buf := make([]byte, fragmentHeaderSize)
	writeFragmentHeader(buf, want)

	got, err := readFragmentHeader(buf)
	if err != nil {
		t.Fatalf("readFragmentHeader: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadFragmentHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, fragmentHeaderSize)
	if _, err := readFragmentHeader(buf); err == nil {
		t.Fatal("expected an error for a zeroed (wrong-magic) header")
	}
}

func TestReadFragmentHeaderRejectsTruncatedInput(t *testing.T) {
	if _, err := readFragmentHeader(make([]byte, fragmentHeaderSize-1)); err == nil {
		t.Fatal("expected an error for a truncated header")
	}
}

// TestWriteFragmentsSplitsOversizedPayload is spec.md §8 invariant 5: a
// payload longer than one fragment's capacity is split across multiple
// fragments, and readFragment reassembles it back to the same bytes.
func TestWriteFragmentsSplitsOversizedPayload(t *testing.T) {
	client, server := pipeSockets(t)

	payload := bytes.Repeat([]byte{0xAB}, maxFragmentPayload+100)
	go func() {
		_ = writeFragments(client, 7, 99, payload, 3)
	}()

	var reassembled []byte
	var lastHeader fragmentHeader
	for {
		h, chunk, err := readFragment(server)
		if err != nil {
			t.Fatalf("readFragment: %v", err)
		}
		reassembled = append(reassembled, chunk...)
		lastHeader = h
		if h.isLast() {
			break
		}
	}

	if !bytes.Equal(reassembled, payload) {
		t.Fatalf("reassembled %d bytes, want %d", len(reassembled), len(payload))
	}
	if lastHeader.FragmentCount != 2 {
		t.Fatalf("FragmentCount = %d, want 2", lastHeader.FragmentCount)
	}
}

func TestWriteFragmentsSingleFragmentForSmallPayload(t *testing.T) {
	client, server := pipeSockets(t)

	payload := []byte("short")
	go func() { _ = writeFragments(client, 1, 2, payload, 0) }()

	h, chunk, err := readFragment(server)
	if err != nil {
		t.Fatalf("readFragment: %v", err)
	}
	if !h.isFirst() || !h.isLast() {
		t.Fatalf("expected single fragment, got index=%d count=%d", h.FragmentIndex, h.FragmentCount)
	}
	if string(chunk) != "short" {
		t.Fatalf("chunk = %q", chunk)
	}
}
