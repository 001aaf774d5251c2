package tuya

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gotuyable/gotuyable/internal/tuyametrics"
)

// protocolVersionV3 is the only datapoint codec this engine speaks
// (Purpose & Scope, Non-goals: "protocol versions other than the
// primary v3 datapoint codec").
const protocolVersionV3 uint8 = 3

// ackQueueDepth bounds the number of pending auto-replies buffered for
// the outbound ack worker before an overflowing ack is dropped and
// logged rather than blocking the notify callback.
const ackQueueDepth = 16

// SessionOptions carries the engine-level tunables a Session is built
// with: none of these are per-device secrets (those live in
// Credentials); they configure the protocol engine itself.
type SessionOptions struct {
	// MTU overrides GATT_MTU for the fragmenter; zero selects the
	// protocol default of 20 bytes.
	MTU int

	// ResponseTimeout overrides the correlator's await timeout; zero
	// selects the 60 second default.
	ResponseTimeout time.Duration

	// Clock supplies "now" for timestamps and time-sync replies; nil
	// selects time.Now, letting tests inject a fixed instant.
	Clock func() time.Time

	// Metrics, if non-nil, receives codec-error, pair-failure, datapoint-
	// update, pending-request and timeout observations labeled by the
	// session's transport address.
	Metrics *tuyametrics.Collector
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.MTU <= 0 {
		o.MTU = defaultMTU
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = defaultResponseTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Session is the live protocol engine for one Tuya BLE device: codec,
// fragmenter, key schedule, correlator, dispatcher and datapoint
// collection, wired to one Transport for the lifetime of a connection
// (System Overview, the session state machine, the request/response
// correlator and the inbound dispatcher, composed).
type Session struct {
	logger    *slog.Logger
	transport Transport
	cred      Credentials
	opts      SessionOptions

	connectMu sync.Mutex // serializes Connect/Disconnect against each other
	opMu      sync.Mutex // serializes outbound writes against the seq_num they carry

	mu    sync.Mutex // guards state, ks and info below
	state SessionState
	ks    *keySchedule
	info  *DeviceInfo

	corr *correlator

	reasmMu sync.Mutex
	reasm   reassembler

	dps *Collection
	cb  *callbackBus

	lifeMu sync.Mutex // guards cancel/g/acks against concurrent Connect/Disconnect
	cancel context.CancelFunc
	g      *errgroup.Group
	acks   chan *ackMessage
}

// NewSession constructs a Session bound to transport and cred.
func NewSession(transport Transport, cred Credentials, logger *slog.Logger, opts SessionOptions) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	s := &Session{
		logger:    logger,
		transport: transport,
		cred:      cred,
		opts:      opts,
		state:     StateIdle,
		corr:      newCorrelator(opts.ResponseTimeout),
		cb:        newCallbackBus(),
	}
	s.dps = newCollection(s.flushDatapoints)
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session has reached Operational.
func (s *Session) IsConnected() bool {
	return s.State() == StateOperational
}

// IsPaired reports whether the session has at least completed pairing.
func (s *Session) IsPaired() bool {
	switch s.State() {
	case StatePaired, StateOperational:
		return true
	default:
		return false
	}
}

// DeviceInfo returns the parsed device-info reply fields, if the
// handshake has completed.
func (s *Session) DeviceInfo() (DeviceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return DeviceInfo{}, false
	}
	return *s.info, true
}

// Datapoints returns the session's datapoint collection.
func (s *Session) Datapoints() *Collection { return s.dps }

// OnConnected, OnDisconnected and OnDatapointsUpdated register callbacks
// on the session's event bus.
func (s *Session) OnConnected(fn func()) Unregister { return s.cb.OnConnected(fn) }

func (s *Session) OnDisconnected(fn func()) Unregister { return s.cb.OnDisconnected(fn) }

func (s *Session) OnDatapointsUpdated(fn func([]*Datapoint)) Unregister {
	return s.cb.OnDatapointsUpdated(fn)
}

func (s *Session) transition(ev FSMEvent) FSMResult {
	s.mu.Lock()
	res := ApplyFSMEvent(s.state, ev)
	s.state = res.NewState
	s.mu.Unlock()
	if res.Changed {
		s.logger.Debug("session state transition",
			slog.String("old_state", res.OldState.String()),
			slog.String("new_state", res.NewState.String()))
	}
	return res
}

// Connect drives the session from Idle through the handshake to
// Operational. It is idempotent while already operational, and
// serializes concurrent callers on the connect lock.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	res := s.transition(EventConnect)
	if !res.Changed {
		if res.NewState == StateOperational {
			return nil
		}
		return fmt.Errorf("connect: %w: session busy in state %s", ErrNotConnected, res.NewState)
	}

	ks, err := newKeySchedule(s.cred.LocalKey)
	if err != nil {
		s.teardown(ctx)
		return fmt.Errorf("connect: %w", err)
	}
	s.mu.Lock()
	s.ks = ks
	s.mu.Unlock()

	if err := s.transport.Open(ctx); err != nil {
		s.teardown(ctx)
		return fmt.Errorf("connect: open transport: %w", errors.Join(ErrTransport, err))
	}

	s.startLoops()

	if err := s.transport.Subscribe(ctx, s.onNotify); err != nil {
		s.teardown(ctx)
		return fmt.Errorf("connect: subscribe: %w", errors.Join(ErrTransport, err))
	}
	s.transition(EventSubscribed)

	if err := s.sendAndAwait(ctx, OpDeviceInfo, nil); err != nil {
		s.teardown(ctx)
		return fmt.Errorf("connect: device info exchange: %w", err)
	}

	pairBody, err := buildPairRequestBody(s.cred, s.localKeyPrefix())
	if err != nil {
		s.teardown(ctx)
		return fmt.Errorf("connect: %w", err)
	}
	if err := s.sendAndAwait(ctx, OpPair, pairBody); err != nil {
		s.teardown(ctx)
		return fmt.Errorf("connect: pair: %w", err)
	}

	res = s.transition(EventOperational)
	for _, a := range res.Actions {
		if a == ActionFireConnected {
			s.cb.emit(Event{Kind: EventKindConnected})
		}
	}

	return nil
}

// Disconnect tears the session down and returns it to Idle.
func (s *Session) Disconnect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	s.teardown(ctx)
	return nil
}

// teardown performs the disconnect side effects regardless of which
// state the session was in: reset sequence counter, clear input buffer,
// drop the session key, fire disconnected callbacks, cancel pending
// futures.
func (s *Session) teardown(ctx context.Context) {
	res := s.transition(EventDisconnect)

	s.stopLoops()

	_ = s.transport.Unsubscribe(ctx)
	_ = s.transport.Close(ctx)

	s.reasmMu.Lock()
	s.reasm.reset()
	s.reasmMu.Unlock()

	s.corr.reset()

	s.mu.Lock()
	if s.ks != nil {
		s.ks.reset()
	}
	s.info = nil
	s.mu.Unlock()

	for _, a := range res.Actions {
		if a == ActionFireDisconnected {
			s.cb.emit(Event{Kind: EventKindDisconnected})
		}
	}
}

// Update requests a full datapoint status push from the device. On a
// device whose device-info reply reported a protocol version other than
// 3 it sends nothing and returns ErrUnsupportedProtocolVersion wrapped
// together with a DeviceError of code 0.
func (s *Session) Update(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if info, ok := s.DeviceInfo(); ok && info.ProtocolVersion != uint16(protocolVersionV3) {
		return fmt.Errorf("update on protocol version %d: %w: %w",
			info.ProtocolVersion, ErrUnsupportedProtocolVersion, &DeviceError{Code: 0})
	}
	return s.sendAndAwait(ctx, OpDeviceStatus, nil)
}

// flushDatapoints is the Collection's flush callback: it serializes the
// given ids as a v3 datapoint block and uploads it, fire-and-forget, as
// the device does not reply to SENDER_DPS.
func (s *Session) flushDatapoints(ids []uint8) {
	if len(ids) == 0 {
		return
	}

	if info, ok := s.DeviceInfo(); ok && info.ProtocolVersion != uint16(protocolVersionV3) {
		s.logger.Warn("datapoint upload on unsupported protocol version",
			slog.Uint64("protocol_version", uint64(info.ProtocolVersion)))
		return
	}

	dps := make([]*Datapoint, 0, len(ids))
	for _, id := range ids {
		if dp, ok := s.dps.Get(id); ok {
			dps = append(dps, dp)
		}
	}

	body, err := buildDatapointBlock(dps)
	if err != nil {
		s.logger.Error("serialize datapoint block", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ResponseTimeout)
	defer cancel()
	if err := s.sendUnawaited(ctx, OpSenderDPS, body); err != nil {
		s.logger.Error("upload datapoints", slog.String("error", err.Error()))
	}
}

// localKeyPrefix returns the 6-byte local-key prefix derived for the
// current key schedule.
func (s *Session) localKeyPrefix() [localKeyPrefixLen]byte {
	ks := s.keySchedule()
	if ks == nil {
		return [localKeyPrefixLen]byte{}
	}
	return ks.localKeyPrefix
}

func (s *Session) keySchedule() *keySchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ks
}

// sendAndAwait allocates a seq_num, encodes and fragments one outbound
// message, writes its fragments in order, and blocks for the matching
// reply. Registration happens before the write so a fast reply can
// never race ahead of its waiter.
func (s *Session) sendAndAwait(ctx context.Context, op Opcode, body []byte) error {
	s.opMu.Lock()
	seq := s.corr.allocate()
	ch := s.corr.register(seq)
	s.reportPending()

	if err := s.writeMessage(ctx, seq, 0, op, body); err != nil {
		s.opMu.Unlock()
		s.corr.fail(seq, err)
		s.reportPending()
		return err
	}
	s.opMu.Unlock()

	err := s.corr.await(ctx, seq, ch)
	s.reportPending()
	if err != nil && s.opts.Metrics != nil && errors.Is(err, ErrTimeout) {
		s.opts.Metrics.IncTimeouts(s.transport.Address())
	}
	return err
}

// recordCodecError increments the codec-error counter for err's taxonomy
// class, when a metrics collector is configured.
func (s *Session) recordCodecError(err error) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncCodecErrors(s.transport.Address(), errorClass(err))
	}
}

// reportPending sets the pending-request gauge to the correlator's
// current waiter count, when a metrics collector is configured.
func (s *Session) reportPending() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.SetPendingRequests(s.transport.Address(), s.corr.len())
	}
}

// sendUnawaited allocates a seq_num and writes one outbound message
// without registering a waiter.
func (s *Session) sendUnawaited(ctx context.Context, op Opcode, body []byte) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	seq := s.corr.allocate()
	return s.writeMessage(ctx, seq, 0, op, body)
}

// sendAck writes an auto-reply with the given response_to. Device-
// originated commands never resolve pending futures, so no waiter is
// registered.
func (s *Session) sendAck(ctx context.Context, ack *ackMessage) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	seq := s.corr.allocate()
	return s.writeMessage(ctx, seq, ack.responseTo, ack.opcode, ack.body)
}

func (s *Session) writeMessage(ctx context.Context, seq, responseTo uint32, op Opcode, body []byte) error {
	ks := s.keySchedule()
	if ks == nil {
		return ErrNotConnected
	}

	enc, err := encodeMessage(ks, seq, responseTo, op, body)
	if err != nil {
		return fmt.Errorf("encode opcode %s: %w", op, err)
	}

	for _, frag := range fragmentMessage(enc, s.opts.MTU, protocolVersionV3) {
		if err := s.transport.Write(ctx, frag); err != nil {
			return fmt.Errorf("write opcode %s: %w", op, errors.Join(ErrTransport, err))
		}
	}
	return nil
}

// onNotify is the Transport's notification callback: it feeds the
// reassembler and, once a full encrypted buffer is available, decodes
// and dispatches it. Per the transport contract, this must never block;
// any resulting auto-reply is handed to the outbound worker rather than
// written inline, so it cannot re-enter reassembly from this call.
func (s *Session) onNotify(frag []byte) {
	s.reasmMu.Lock()
	buf, err := s.reasm.feed(s.logger, frag)
	s.reasmMu.Unlock()

	if err != nil {
		s.logger.Warn("fragment reassembly failed", slog.String("error", err.Error()))
		s.recordCodecError(err)
		return
	}
	if buf == nil {
		return
	}

	ks := s.keySchedule()
	if ks == nil {
		return
	}
	msg, err := decodeMessage(ks, buf)
	if err != nil {
		s.logger.Warn("message decode failed", slog.String("error", err.Error()))
		s.recordCodecError(err)
		return
	}

	s.handleMessage(msg)
}

// handleMessage routes a decoded message either to the handshake/status
// reply path (it answers one of our pending seq_nums) or to the
// device-originated dispatch table.
func (s *Session) handleMessage(msg *Message) {
	if !msg.Opcode.DeviceOriginated() && msg.ResponseTo != 0 {
		s.handleReply(msg)
		return
	}

	ack, updated, err := dispatchDeviceOriginated(msg, s.dps, s.opts.Clock)
	if err != nil {
		s.logger.Warn("dispatch failed",
			slog.String("opcode", msg.Opcode.String()), slog.String("error", err.Error()))
		s.recordCodecError(err)
		return
	}
	if ack == nil && len(updated) == 0 {
		s.logger.Warn("dropping message with unhandled opcode",
			slog.String("opcode", msg.Opcode.String()))
		return
	}
	if len(updated) > 0 {
		s.cb.emit(Event{Kind: EventKindDatapointsUpdated, Datapoints: updated})
		if s.opts.Metrics != nil {
			s.opts.Metrics.AddDatapointUpdates(s.transport.Address(), len(updated))
		}
	}
	if ack != nil {
		s.queueAck(ack)
	}
}

// handleReply completes the handshake/status exchanges the correlator is
// awaiting: DEVICE_INFO, PAIR and DEVICE_STATUS replies.
func (s *Session) handleReply(msg *Message) {
	switch msg.Opcode {
	case OpDeviceInfo:
		info, err := parseDeviceInfoReply(msg.Body)
		if err != nil {
			s.corr.fail(msg.ResponseTo, err)
			return
		}
		if ks := s.keySchedule(); ks != nil {
			ks.deriveSession(info.SRand, info.AuthKey)
		}
		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
		s.transition(EventDeviceInfoReply)
		s.corr.resolve(msg.ResponseTo, 0)

	case OpPair:
		if len(msg.Body) < 1 {
			s.corr.fail(msg.ResponseTo, fmt.Errorf("pair reply: %w", ErrLength))
			return
		}
		if err := classifyPairResult(msg.Body[0]); err != nil {
			if s.opts.Metrics != nil {
				s.opts.Metrics.IncPairFailures(s.transport.Address())
			}
			s.corr.fail(msg.ResponseTo, err)
			return
		}
		s.transition(EventPairReply)
		s.corr.resolve(msg.ResponseTo, 0)

	case OpDeviceStatus:
		var result byte
		if len(msg.Body) > 0 {
			result = msg.Body[0]
		}
		s.corr.resolve(msg.ResponseTo, result)

	default:
		s.logger.Warn("reply to unrecognized opcode", slog.String("opcode", msg.Opcode.String()))
	}
}

// queueAck hands an auto-reply to the outbound worker goroutine rather
// than writing it inline from the notify callback.
func (s *Session) queueAck(ack *ackMessage) {
	s.lifeMu.Lock()
	acks := s.acks
	s.lifeMu.Unlock()
	if acks == nil {
		return
	}
	select {
	case acks <- ack:
	default:
		s.logger.Warn("ack queue full, dropping auto-reply", slog.String("opcode", ack.opcode.String()))
	}
}

// startLoops launches the connected-lifetime goroutines under one
// errgroup: the outbound ack worker. Inbound processing runs
// synchronously from onNotify; the correlator's per-seq timer (see
// correlator.await) already serves as the response-timeout mechanism,
// so no separate sweep goroutine is needed.
func (s *Session) startLoops() {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	acks := make(chan *ackMessage, ackQueueDepth)

	s.lifeMu.Lock()
	s.cancel = cancel
	s.g = g
	s.acks = acks
	s.lifeMu.Unlock()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ack := <-acks:
				if err := s.sendAck(gctx, ack); err != nil {
					s.logger.Warn("send auto-reply failed",
						slog.String("opcode", ack.opcode.String()), slog.String("error", err.Error()))
				}
			}
		}
	})
}

func (s *Session) stopLoops() {
	s.lifeMu.Lock()
	cancel := s.cancel
	g := s.g
	s.cancel = nil
	s.g = nil
	s.acks = nil
	s.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g != nil {
		_ = g.Wait()
	}
}

// Close releases the session's callback bus. It does not disconnect the
// transport; call Disconnect first if a connection may be open.
func (s *Session) Close() {
	s.cb.close()
}
