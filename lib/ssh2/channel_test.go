package ssh2

import (
	"testing"
	"time"
)

func TestWindowReserveBlocks(t *testing.T) {
	w := &window{Cond: newCond()}
	w.add(10)

	got, err := w.reserve(4)
	if err != nil || got != 4 {
		t.Fatalf("reserve(4) = %d, %v", got, err)
	}
	// Only 6 remain; a larger reservation is truncated, never
	// driven negative.
	got, err = w.reserve(100)
	if err != nil || got != 6 {
		t.Fatalf("reserve(100) = %d, %v", got, err)
	}

	// The window is empty. A further reservation must block until
	// the peer credits us.
	released := make(chan uint32, 1)
	go func() {
		n, _ := w.reserve(5)
		released <- n
	}()

	w.waitWriterBlocked()
	select {
	case n := <-released:
		t.Fatalf("reserve returned %d before credit", n)
	default:
	}

	w.add(5)
	select {
	case n := <-released:
		if n != 5 {
			t.Errorf("reserve after credit = %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reserve did not wake after credit")
	}
}

func TestWindowAddOverflow(t *testing.T) {
	w := &window{Cond: newCond()}
	if !w.add(1<<32 - 1) {
		t.Fatal("full window add failed")
	}
	// RFC 4254 5.2: the window must not be pushed past 2^32-1.
	if w.add(1) {
		t.Error("overflowing window adjust accepted")
	}
}

func TestWindowCloseUnblocks(t *testing.T) {
	w := &window{Cond: newCond()}
	errs := make(chan error, 1)
	go func() {
		_, err := w.reserve(1)
		errs <- err
	}()
	w.waitWriterBlocked()
	w.close()
	if err := <-errs; err == nil {
		t.Error("reserve on closed window should fail")
	}
}

// newTestChannel builds a channel wired to a discarding mux for
// exercising the packet handlers directly.
func newTestChannel() *channel {
	a, b := memPipe()
	go func() {
		for {
			if _, err := b.readPacket(); err != nil {
				return
			}
		}
	}()
	m := &mux{
		conn:             a,
		incomingChannels: make(chan NewChannel, chanSize),
		globalResponses:  make(chan interface{}, 1),
		incomingRequests: make(chan *Request, chanSize),
		errCond:          newCond(),
	}
	ch := m.newChannel("session", channelInbound, nil)
	ch.remoteId = 42
	ch.maxIncomingPayload = channelMaxPacket
	ch.decided = true
	return ch
}

func TestChannelDataWindowAccounting(t *testing.T) {
	ch := newTestChannel()
	ch.myWindow = 10

	packet := Marshal(&channelDataMsg{PeersID: ch.localId, Length: 4, Rest: []byte("abcd")})
	if err := ch.handleData(packet); err != nil {
		t.Fatalf("handleData: %v", err)
	}
	if ch.myWindow != 6 {
		t.Errorf("myWindow = %d, want 6", ch.myWindow)
	}

	// More data than the advertised window is a protocol violation,
	// not a wraparound.
	packet = Marshal(&channelDataMsg{PeersID: ch.localId, Length: 7, Rest: []byte("toomuch")})
	if err := ch.handleData(packet); err == nil {
		t.Error("window overrun went undetected")
	}
}

func TestChannelZeroLengthData(t *testing.T) {
	ch := newTestChannel()
	before := ch.myWindow

	packet := Marshal(&channelDataMsg{PeersID: ch.localId, Length: 0, Rest: []byte{}})
	if err := ch.handleData(packet); err != nil {
		t.Fatalf("handleData: %v", err)
	}
	// Zero-length DATA is dropped: no buffered bytes, no window debit.
	if ch.myWindow != before {
		t.Errorf("zero-length data debited the window")
	}
}

func TestChannelOversizedPacket(t *testing.T) {
	ch := newTestChannel()
	ch.maxIncomingPayload = 8

	packet := Marshal(&channelDataMsg{PeersID: ch.localId, Length: 9, Rest: []byte("ninebytes")})
	if err := ch.handleData(packet); err == nil {
		t.Error("payload above maximum packet size accepted")
	}
}

func TestChannelRequestFIFO(t *testing.T) {
	ch := newTestChannel()

	names := []string{"env", "pty-req", "exec"}
	for _, name := range names {
		packet := Marshal(&channelRequestMsg{
			PeersID:   ch.localId,
			Request:   name,
			WantReply: true,
		})
		if err := ch.handlePacket(packet); err != nil {
			t.Fatalf("handlePacket(%s): %v", name, err)
		}
	}

	// Requests surface to the application in wire order.
	for _, want := range names {
		select {
		case req := <-ch.incomingRequests:
			if req.Type != want {
				t.Fatalf("got request %q, want %q", req.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("request %q never delivered", want)
		}
	}
}
