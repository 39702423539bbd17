// Package instruments implements the fragmented instruments RPC framing
// (spec.md §4.7, component C7): channel registration over the control
// channel, reply correlation, a single background receiver per session,
// and dispatch of unsolicited channel messages to callbacks.
package instruments

import (
	"log"
	"sync"

	"idevicekit/internal/ioserr"
	"idevicekit/internal/lockdown"
	"idevicekit/internal/transport"
	"idevicekit/pkg/archiver"
)

// controlChannel is the reserved channel code for
// _requestChannelWithCode:identifier: and other session-level control
// messages (spec.md §3 "Channel").
const controlChannel = 0

// Reply is the decoded result of a synchronous call.
type Reply struct {
	Channel int32
	Parsed  archiver.Value
}

type pendingReply struct {
	replyCh chan Reply
	errCh   chan error
}

// channelReservation tracks a MakeChannel registration in flight, letting
// concurrent callers for the same name wait on the single outstanding
// _requestChannelWithCode:identifier: call instead of each issuing their own
// (spec.md §8 invariant 7: at most one control message per channel).
type channelReservation struct {
	code int32
	err  error
	done chan struct{}
}

// Session is one instruments RPC session over a lockdown-started service
// socket. It owns that socket exclusively (spec.md §3).
type Session struct {
	sock  *transport.Socket
	codec archiver.Codec

	// writeMu is held across all fragments of one message so concurrent
	// callers' messages stay contiguous on the wire.
	writeMu sync.Mutex

	mu           sync.Mutex
	nextChannel  int32
	channels     map[string]int32
	reservations map[string]*channelReservation
	callbacks    map[int32]func(Reply)
	pending      map[uint32]*pendingReply
	nextReplyID  uint32
	closed       bool
	stopping     bool
	closeOnce    sync.Once
	receiverDone chan struct{}
}

// New wraps a started lockdown service socket in an instruments RPC
// session. It does not start the receiver; call Start for that.
func New(svc *lockdown.Service, codec archiver.Codec) *Session {
	if codec == nil {
		codec = archiver.PlistCodec{}
	}
	return &Session{
		sock:         svc.Socket,
		codec:        codec,
		nextChannel:  1,
		channels:     map[string]int32{},
		reservations: map[string]*channelReservation{},
		callbacks:    map[int32]func(Reply){},
		pending:      map[uint32]*pendingReply{},
		nextReplyID:  1,
		receiverDone: make(chan struct{}),
	}
}

// Start spawns the single background receiver goroutine (spec.md §4.7
// "start()"). Its lifecycle is tied to the session; Stop joins it.
func (s *Session) Start() {
	go s.receiveLoop()
}

func (s *Session) receiveLoop() {
	defer close(s.receiverDone)
	reassembler := map[uint64]*partialMessage{}

	for {
		h, chunk, err := readFragment(s.sock)
		if err != nil {
			s.failAllPending(err)
			return
		}

		key := reassemblyKey(h.Channel, h.ReplyID)
		msg, ok := reassembler[key]
		if !ok {
			msg = &partialMessage{auxLength: h.AuxLength}
			reassembler[key] = msg
		}
		msg.data = append(msg.data, chunk...)

		if !h.isLast() {
			continue
		}
		delete(reassembler, key)

		s.dispatch(h.Channel, h.ReplyID, msg.auxLength, msg.data)
	}
}

type partialMessage struct {
	auxLength uint32
	data      []byte
}

func reassemblyKey(channel int32, replyID uint32) uint64 {
	return uint64(uint32(channel))<<32 | uint64(replyID)
}

// dispatch implements spec.md §4.7's dispatch policy: a pending reply for
// this replyID wins; else the channel's registered callback; else the
// message is dropped.
func (s *Session) dispatch(channel int32, replyID uint32, auxLength uint32, data []byte) {
	selectorBytes := data
	if int(auxLength) <= len(data) {
		selectorBytes = data[auxLength:]
	}

	var parsed archiver.Value
	var err error
	if len(selectorBytes) > 0 {
		parsed, err = s.codec.Decode(selectorBytes)
	}

	s.mu.Lock()
	pr, hasPending := s.pending[replyID]
	if hasPending {
		delete(s.pending, replyID)
	}
	cb, hasCallback := s.callbacks[channel]
	s.mu.Unlock()

	if hasPending {
		if err != nil {
			pr.errCh <- err
		} else {
			pr.replyCh <- Reply{Channel: channel, Parsed: parsed}
		}
		return
	}
	if err != nil {
		log.Printf("instruments: dropping undecodable message on channel %d: %v", channel, err)
		return
	}
	if hasCallback {
		cb(Reply{Channel: channel, Parsed: parsed})
		return
	}
	log.Printf("instruments: dropping message on unregistered channel %d", channel)
}

func (s *Session) failAllPending(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, pr := range s.pending {
		pr.errCh <- ioserr.Wrapf(ioserr.ErrSessionClosed, "session closed: %v", cause)
		delete(s.pending, id)
	}
}

// MakeChannel requests a channel code for name over the control channel and
// binds it locally. Idempotent per name (spec.md §4.7 "make_channel"); a
// second caller racing the first for the same name waits on the first's
// in-flight registration rather than issuing its own control message.
func (s *Session) MakeChannel(name string) (int32, error) {
	s.mu.Lock()
	if code, ok := s.channels[name]; ok {
		s.mu.Unlock()
		return code, nil
	}
	if res, ok := s.reservations[name]; ok {
		s.mu.Unlock()
		<-res.done
		return res.code, res.err
	}
	code := s.nextChannel
	s.nextChannel++
	res := &channelReservation{done: make(chan struct{})}
	s.reservations[name] = res
	s.mu.Unlock()

	_, err := s.Call(controlChannel, "_requestChannelWithCode:identifier:", []archiver.Value{int64(code), name})

	s.mu.Lock()
	delete(s.reservations, name)
	if err != nil {
		res.err = err
	} else {
		res.code = code
		s.channels[name] = code
	}
	s.mu.Unlock()
	close(res.done)

	return res.code, res.err
}

// RegisterChannelCallback associates fn with channel name's messages,
// invoked once per unsolicited decoded message on that channel (spec.md
// §4.7). Callbacks run inline on the single receiver goroutine; a slow
// callback will delay delivery to every other channel and pending call, so
// implementations needing concurrency should hand off to their own queue.
func (s *Session) RegisterChannelCallback(name string, fn func(Reply)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.channels[name]
	if !ok {
		return ioserr.Wrapf(ioserr.ErrMux, "channel %q has not been created", name)
	}
	s.callbacks[code] = fn
	return nil
}

// Call sends selector to an already-known channel code (CallNamed resolves
// and creates channels by name), allocates a fresh reply_identifier,
// serializes the call, writes it, and blocks for the matching reply
// (spec.md §4.7 "call").
func (s *Session) Call(channel int32, selector string, args []archiver.Value) (Reply, error) {
	aux, err := s.codec.Encode(args)
	if err != nil {
		return Reply{}, err
	}
	selBytes, err := s.codec.Encode([]archiver.Value{selector})
	if err != nil {
		return Reply{}, err
	}
	payload := append(append([]byte{}, aux...), selBytes...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Reply{}, ioserr.Wrap(ioserr.ErrSessionClosed, "session is closed")
	}
	replyID := s.nextReplyID
	s.nextReplyID++
	pr := &pendingReply{replyCh: make(chan Reply, 1), errCh: make(chan error, 1)}
	s.pending[replyID] = pr
	s.mu.Unlock()

	s.writeMu.Lock()
	err = writeFragments(s.sock, channel, replyID, payload, uint32(len(aux)))
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, replyID)
		stopping := s.stopping
		s.mu.Unlock()
		if stopping {
			return Reply{}, ioserr.Wrapf(ioserr.ErrSessionClosed, "session stopped: %v", err)
		}
		return Reply{}, err
	}

	select {
	case reply := <-pr.replyCh:
		return reply, nil
	case err := <-pr.errCh:
		return Reply{}, err
	}
}

// CallNamed resolves name to a channel code (creating it if necessary) and
// calls selector on it, matching the Python client's rpc.call(channel_name,
// selector, *args) convenience form.
func (s *Session) CallNamed(name, selector string, args ...archiver.Value) (Reply, error) {
	code, err := s.MakeChannel(name)
	if err != nil {
		return Reply{}, err
	}
	return s.Call(code, selector, args)
}

// Stop signals the receiver to exit after draining and joins it. In-flight
// calls fail with SessionClosed (spec.md §4.7 "Shutdown").
func (s *Session) Stop() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		s.sock.Close()
	})
	<-s.receiverDone
}

// Deinit does nothing and returns nil: Stop already closes the underlying
// socket.
func (s *Session) Deinit() error {
	return nil
}
