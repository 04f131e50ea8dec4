package svc

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/fspnet/fsp/cb"
	"github.com/fspnet/fsp/fsm"
	"github.com/fspnet/fsp/icc"
	"github.com/fspnet/fsp/internal"
	"github.com/fspnet/fsp/ipc"
	"github.com/fspnet/fsp/mobility"
	"github.com/fspnet/fsp/reliability"
	"github.com/fspnet/fsp/seq"
	"github.com/fspnet/fsp/socket"
	"github.com/fspnet/fsp/wire"
)

var (
	errUnknownALFID     = errors.New("fsp/svc: no socket bound to destination ALFID")
	errNoListener       = errors.New("fsp/svc: no listener bound to ALFID")
	errShortPacket      = errors.New("fsp/svc: packet shorter than normal header")
	errIntegrityFailure = errors.New("fsp/svc: integrity check failed")
	errNoHandshake      = errors.New("fsp/svc: no bootstrap handshake pending for ALFID")
	errCookieMismatch   = errors.New("fsp/svc: handshake cookie mismatch or expired")
)

// bootstrapCookieSkew is the ±60s clock-skew tolerance spec §9.1's cookie
// validation allows between a cookie's issue time and its CONNECT_REQUEST
// echo.
const bootstrapCookieSkew = 60 * time.Second

// bootstrapKeyLife seeds a freshly negotiated session key's octet budget
// before FSP_REKEY_THRESHOLD forces a successor (spec §4.2); chosen well
// above icc.RekeyThreshold so a connection idles long before its first rekey.
const bootstrapKeyLife = 1 << 33

// bootstrapKDFInfo is the HKDF info parameter binding a derived session key
// to the bootstrap handshake context, distinguishing it from any other use
// of the same ECDH shared secret.
var bootstrapKDFInfo = []byte("fsp bootstrap session key")

// pendingHandshake holds the ephemeral key material and cookie state for a
// connection mid bootstrap handshake, keyed by its local ALFID (spec §9.1):
// the responder stores it from INIT_CONNECT until CONNECT_REQUEST arrives;
// the initiator stores it from INIT_CONNECT (sent locally) until
// ACK_INIT_CONNECT arrives.
type pendingHandshake struct {
	keys        icc.EphemeralKeyPair
	remoteALFID uint32
	salt        uint32
	checkCode   uint64
	cookie      uint64
	issuedAt    time.Time
}

// connState is the per-socket bookkeeping the dispatcher keeps alongside the
// LIB-visible socket.Socket, mirroring the split tcp.Conn leaves to its
// Handler: retransmission tracking, the peer path table, and the transport
// address to send on.
type connState struct {
	sock *socket.Socket
	trk  *reliability.Tracker
	pace *reliability.Pacer
	peer mobility.PeerPath
	env  Envelope

	// pendingMultiply maps a reserved MULTIPLY block's sequence number to
	// the ALFID of the child spawned for it by MultiplyAndGetSendBuffer,
	// resolved by CommitMultiply once the caller has filled the block.
	pendingMultiply map[seq.Value]uint32
}

// Dispatcher is the SVC-side packet-processing core of spec §4.8/§5: it owns
// the ALFID translation look-aside buffer, the set of active listeners, and
// drives every inbound packet through fsm.OnReceive and the ControlBlock
// methods, the way tcp.Handler.Recv drives one TCP connection's state
// machine but generalized to FSP's fourteen opcodes and many concurrent
// connections multiplexed over one Transport.
type Dispatcher struct {
	mu         sync.Mutex
	tlb        *socket.TLB
	conns      map[uint32]*connState
	byID       map[xid.ID]*connState
	listeners  map[uint32]*socket.Listener
	handshakes map[uint32]*pendingHandshake

	transport Transport
	notices   *ipc.NoticeServer
	metrics   *Metrics

	nextALFID uint32

	internal.Logger
}

// NewDispatcher wires a Dispatcher around an already-open Transport.
func NewDispatcher(t Transport, metrics *Metrics, notices *ipc.NoticeServer) *Dispatcher {
	return &Dispatcher{
		tlb:        socket.NewTLB(),
		conns:      make(map[uint32]*connState),
		byID:       make(map[xid.ID]*connState),
		listeners:  make(map[uint32]*socket.Listener),
		handshakes: make(map[uint32]*pendingHandshake),
		transport:  t,
		metrics:    metrics,
		notices:    notices,
		nextALFID:  1 << 16, // ALFIDs <= 65535 are reserved "well-known" per spec §2.
	}
}

func (d *Dispatcher) SetLogger(log *slog.Logger) { d.Logger = internal.Logger{Log: log} }

// ListenAt registers a passive-open listener bound to localALFID (a
// well-known ALFID chosen by the caller).
func (d *Dispatcher) ListenAt(localALFID uint32) (*socket.Listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.listeners[localALFID]; exists {
		return nil, errors.New("fsp/svc: ALFID already listening")
	}
	l := socket.Listen(localALFID, func() *socket.Socket {
		return socket.New(cb.NewControlBlock(32, 32), icc.NewEngine())
	})
	d.listeners[localALFID] = l
	return l, nil
}

func (d *Dispatcher) allocALFID() uint32 {
	d.nextALFID++
	return d.nextALFID
}

// bind registers a freshly created connection's socket, tracker and pacer
// under localALFID.
func (d *Dispatcher) bind(localALFID uint32, s *socket.Socket, env Envelope) *connState {
	cs := &connState{
		sock:            s,
		trk:             reliability.NewTracker(s.ControlBlock()),
		pace:            reliability.NewPacer(cb.SendBlockSize, time.Second, time.Now()),
		env:             env,
		pendingMultiply: make(map[seq.Value]uint32),
	}
	d.tlb.Register(localALFID, s)
	d.conns[localALFID] = cs
	d.byID[s.ID()] = cs
	if d.metrics != nil {
		d.metrics.ConnectionsActive.Set(float64(d.tlb.Len()))
	}
	s.SetOnRelease(func(*socket.Socket) { d.release(localALFID) })
	return cs
}

func (d *Dispatcher) release(localALFID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs, ok := d.conns[localALFID]; ok {
		delete(d.byID, cs.sock.ID())
	}
	d.tlb.Release(localALFID)
	delete(d.conns, localALFID)
	delete(d.handshakes, localALFID)
	if d.metrics != nil {
		d.metrics.ConnectionsActive.Set(float64(d.tlb.Len()))
	}
}

// lookupByID resolves a LIB-visible xid.ID (as carried by ipc.Command) to
// its connState, the socket.ID() counterpart of the ALFID-keyed lookup
// HandleInbound uses.
func (d *Dispatcher) lookupByID(id xid.ID) (*connState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.byID[id]
	return cs, ok
}

// HandleInbound decodes raw as an FSP normal-header packet and drives the
// matching connection's state machine. Bootstrap opcodes (INIT_CONNECT,
// CONNECT_REQUEST) that predate a normal header are handled separately by
// handleBootstrap.
func (d *Dispatcher) HandleInbound(env Envelope, raw []byte) error {
	if len(raw) < wire.SizeFixedPrelude {
		return errShortPacket
	}
	prelude, err := wire.NewFixedPrelude(raw)
	if err != nil {
		return err
	}
	op := prelude.OpCode()
	d.countRecv(op)

	if !op.IsNormal() {
		return d.handleBootstrap(env, op, raw)
	}
	if len(raw) < wire.SizeNormalHeader {
		return errShortPacket
	}
	header, err := wire.NewNormalHeader(raw)
	if err != nil {
		return err
	}
	var val wire.Validator
	header.ValidatePayload(&val, op)
	if err := val.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	cs, ok := d.conns[env.LocalALFID]
	d.mu.Unlock()
	if !ok {
		return errUnknownALFID
	}
	return d.handleNormal(cs, op, header, env)
}

// handleBootstrap processes INIT_CONNECT/ACK_INIT_CONNECT/CONNECT_REQUEST,
// the three opcodes exchanged before a connection has a ControlBlock to
// dispatch against (spec §9.1).
func (d *Dispatcher) handleBootstrap(env Envelope, op wire.Opcode, raw []byte) error {
	switch op {
	case wire.InitConnect:
		return d.acceptInitConnect(env, raw)
	case wire.AckInitConn:
		return d.acceptAckInitConnect(env, raw)
	case wire.ConnectReq:
		return d.acceptConnectReq(env, raw)
	default:
		if d.metrics != nil {
			d.metrics.DispatchErrors.WithLabelValues("unexpected-bootstrap-opcode").Inc()
		}
		return nil
	}
}

// acceptInitConnect creates a new passive-open connection for an inbound
// INIT_CONNECT: it generates this side's ephemeral key pair, computes the
// handshake cookie, stashes both pending CONNECT_REQUEST, and replies
// ACK_INIT_CONNECT (spec §9.1).
func (d *Dispatcher) acceptInitConnect(env Envelope, raw []byte) error {
	in, err := wire.NewBootstrapHeader(raw)
	if err != nil {
		return err
	}
	var val wire.Validator
	in.Validate(&val)
	if err := val.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	listener, ok := d.listeners[env.LocalALFID]
	d.mu.Unlock()
	if !ok {
		return errNoListener
	}

	localALFID := d.allocALFID()
	keys, err := icc.GenerateEphemeralKeyPair()
	if err != nil {
		return err
	}
	now := time.Now()
	cookie := icc.ComputeBootstrapCookie(in.CheckCode(), in.SourceALFID(), localALFID, in.Salt(), now)

	block := cb.NewControlBlock(32, 32)
	block.SetState(fsm.ConnectBootstrap)
	block.Params = cb.ConnectParams{LocalALFID: localALFID, RemoteALFID: in.SourceALFID(), SessionSalt: in.Salt()}
	s := socket.New(block, icc.NewEngine())
	connEnv := Envelope{LocalALFID: localALFID, RemoteALFID: in.SourceALFID(), RemoteAddr: env.RemoteAddr}

	d.mu.Lock()
	d.handshakes[localALFID] = &pendingHandshake{
		keys:        keys,
		remoteALFID: in.SourceALFID(),
		salt:        in.Salt(),
		checkCode:   in.CheckCode(),
		cookie:      cookie,
		issuedAt:    now,
	}
	d.bind(localALFID, s, connEnv)
	d.mu.Unlock()
	if err := listener.Admit(s); err != nil {
		return err
	}

	out := make([]byte, wire.SizeBootstrapHeader)
	outHeader, _ := wire.NewBootstrapHeader(out)
	outHeader.Prelude().SetOpCode(wire.AckInitConn)
	outHeader.Prelude().SetHSP(wire.SizeBootstrapHeader)
	outHeader.SetSourceALFID(localALFID)
	outHeader.SetDestALFID(in.SourceALFID())
	outHeader.SetSalt(in.Salt())
	outHeader.SetCookie(cookie)
	outHeader.SetPublicKey(keys.Public)
	d.countSent(wire.AckInitConn)
	return d.transport.Send(connEnv, out)
}

// acceptAckInitConnect is the initiator's side of the handshake: once the
// responder's ACK_INIT_CONNECT arrives carrying its ephemeral public key and
// the cookie, the initiator can already derive the session key, install it,
// and echo the cookie back in CONNECT_REQUEST along with its own public key.
func (d *Dispatcher) acceptAckInitConnect(env Envelope, raw []byte) error {
	in, err := wire.NewBootstrapHeader(raw)
	if err != nil {
		return err
	}
	var val wire.Validator
	in.Validate(&val)
	if err := val.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	cs, ok := d.conns[env.LocalALFID]
	pending, hok := d.handshakes[env.LocalALFID]
	d.mu.Unlock()
	if !ok || !hok {
		return errUnknownALFID
	}

	key, err := deriveBootstrapKey(pending.keys, in.PublicKey(), pending.salt)
	if err != nil {
		return err
	}
	firstSN := uint32(cs.sock.ControlBlock().SendNext())
	if err := cs.sock.ICCEngine().InstallSessionKey(key, pending.salt, firstSN, bootstrapKeyLife); err != nil {
		return err
	}

	next, err := fsm.OnReceive(cs.sock.State(), wire.AckInitConn, false)
	if err != nil {
		return err
	}
	cs.sock.ControlBlock().SetState(next)

	d.mu.Lock()
	pending.cookie = in.Cookie()
	d.mu.Unlock()

	out := make([]byte, wire.SizeBootstrapHeader)
	outHeader, _ := wire.NewBootstrapHeader(out)
	outHeader.Prelude().SetOpCode(wire.ConnectReq)
	outHeader.Prelude().SetHSP(wire.SizeBootstrapHeader)
	outHeader.SetSourceALFID(env.LocalALFID)
	outHeader.SetDestALFID(pending.remoteALFID)
	outHeader.SetSalt(pending.salt)
	outHeader.SetCookie(in.Cookie())
	outHeader.SetPublicKey(pending.keys.Public)
	d.countSent(wire.ConnectReq)
	return d.transport.Send(cs.env, out)
}

// acceptConnectReq verifies the initiator's echoed cookie, derives and
// installs the session key from the exchanged public keys, transitions the
// responder straight to CHALLENGING, and replies ACK_CONNECT_REQ (spec
// §9.1): "Responder, given cookie matches recomputed cookie within ±60s,
// transitions to CHALLENGING and sends ACK_CONNECT_REQ."
func (d *Dispatcher) acceptConnectReq(env Envelope, raw []byte) error {
	in, err := wire.NewBootstrapHeader(raw)
	if err != nil {
		return err
	}
	var val wire.Validator
	in.Validate(&val)
	if err := val.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	cs, ok := d.conns[env.LocalALFID]
	pending, hok := d.handshakes[env.LocalALFID]
	d.mu.Unlock()
	if !ok || !hok {
		return errUnknownALFID
	}

	recomputed := icc.ComputeBootstrapCookie(pending.checkCode, in.SourceALFID(), env.LocalALFID, pending.salt, pending.issuedAt)
	if in.Cookie() != recomputed || in.Cookie() != pending.cookie || time.Since(pending.issuedAt) > bootstrapCookieSkew {
		return errCookieMismatch
	}

	key, err := deriveBootstrapKey(pending.keys, in.PublicKey(), pending.salt)
	if err != nil {
		return err
	}
	firstSN := uint32(cs.sock.ControlBlock().SendNext())
	if err := cs.sock.ICCEngine().InstallSessionKey(key, pending.salt, firstSN, bootstrapKeyLife); err != nil {
		return err
	}

	next, err := fsm.OnReceive(cs.sock.State(), wire.ConnectReq, false)
	if err != nil {
		return err
	}
	cs.sock.ControlBlock().SetState(next)

	d.mu.Lock()
	delete(d.handshakes, env.LocalALFID)
	d.mu.Unlock()

	frame, err := d.encodeNormal(cs, wire.AckConnectReq, firstSN, nil, 0)
	if err != nil {
		return err
	}
	d.countSent(wire.AckConnectReq)
	return d.transport.Send(cs.env, frame)
}

// deriveBootstrapKey runs the ECDH + HKDF step common to both sides of the
// handshake once each has the other's ephemeral public key.
func deriveBootstrapKey(self icc.EphemeralKeyPair, peerPublic [32]byte, salt uint32) ([32]byte, error) {
	saltBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(saltBytes, salt)
	return icc.DeriveSessionKey(self, peerPublic, saltBytes, bootstrapKDFInfo)
}

// Connect2 actively opens a connection to a peer's well-known listener ALFID
// (spec §6's Connect2): it allocates a local ALFID and ephemeral key pair,
// sends INIT_CONNECT, and returns the socket immediately in
// CONNECT_BOOTSTRAP; the caller observes ESTABLISHED via the notice channel
// or by polling Socket.State.
func (d *Dispatcher) Connect2(remoteAddr netip.AddrPort, remoteListenerALFID uint32) (*socket.Socket, error) {
	localALFID := d.allocALFID()
	keys, err := icc.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	checkCode, err := icc.RandomCheckCode()
	if err != nil {
		return nil, err
	}
	salt, err := icc.RandomSalt()
	if err != nil {
		return nil, err
	}

	block := cb.NewControlBlock(32, 32)
	block.SetState(fsm.ConnectBootstrap)
	block.Params = cb.ConnectParams{LocalALFID: localALFID, RemoteALFID: remoteListenerALFID, SessionSalt: salt}
	s := socket.New(block, icc.NewEngine())
	env := Envelope{LocalALFID: localALFID, RemoteALFID: remoteListenerALFID, RemoteAddr: remoteAddr}

	d.mu.Lock()
	d.handshakes[localALFID] = &pendingHandshake{
		keys:        keys,
		remoteALFID: remoteListenerALFID,
		salt:        salt,
		checkCode:   checkCode,
		issuedAt:    time.Now(),
	}
	d.bind(localALFID, s, env)
	d.mu.Unlock()

	out := make([]byte, wire.SizeBootstrapHeader)
	header, _ := wire.NewBootstrapHeader(out)
	header.Prelude().SetOpCode(wire.InitConnect)
	header.Prelude().SetHSP(wire.SizeBootstrapHeader)
	header.SetSourceALFID(localALFID)
	header.SetDestALFID(remoteListenerALFID)
	header.SetSalt(salt)
	header.SetCheckCode(checkCode)
	d.countSent(wire.InitConnect)
	if err := d.transport.Send(env, out); err != nil {
		d.release(localALFID)
		return nil, err
	}
	return s, nil
}

// MultiplyAndWrite issues a local MULTIPLY carrying payload on behalf of the
// socket named id (spec §4.6/§6/§8 scenario 6): any alive connection
// (fsm.State.IsAlive) may originate one. The parent's state is left
// untouched — only the freshly spawned child starts in CLONING, completing
// straight to ESTABLISHED or COMMITTED once transactionEnded is known, since
// the payload travels on the MULTIPLY packet itself rather than a follow-up
// PERSIST.
func (d *Dispatcher) MultiplyAndWrite(id xid.ID, payload []byte, transactionEnded bool) (*socket.Socket, error) {
	cs, ok := d.lookupByID(id)
	if !ok {
		return nil, errUnknownALFID
	}
	if !cs.sock.State().IsAlive() {
		return nil, fsm.ErrIllegalTransition
	}

	blk, err := cs.sock.ControlBlock().AllocSend(len(payload))
	if err != nil {
		return nil, err
	}
	blk.Len = copy(blk.Data, payload)

	child, err := d.spawnClone(cs)
	if err != nil {
		return nil, err
	}
	d.finishMultiplyChild(child, transactionEnded)

	flags := wire.Flag(0)
	if transactionEnded {
		flags |= wire.FlagTransactionEnded
	}
	frame, err := d.encodeNormal(cs, wire.Multiply, uint32(blk.SN), blk.Data[:blk.Len], flags)
	if err != nil {
		return nil, err
	}
	cs.trk.MarkSent(blk, time.Now())
	d.countSent(wire.Multiply)
	if err := d.transport.Send(cs.env, frame); err != nil {
		return nil, err
	}
	return child.sock, nil
}

// MultiplyAndGetSendBuffer is the in-place counterpart of MultiplyAndWrite
// (spec §6's "in-place mode guarantees zero-copy from app to wire"): it
// spawns the child and reserves a send-ring block for the caller to fill
// directly, returning both. The caller must follow up with CommitMultiply
// once the block's payload has been written.
func (d *Dispatcher) MultiplyAndGetSendBuffer(id xid.ID, payloadLen int) (*socket.Socket, *cb.BufferBlockDescriptor, error) {
	cs, ok := d.lookupByID(id)
	if !ok {
		return nil, nil, errUnknownALFID
	}
	if !cs.sock.State().IsAlive() {
		return nil, nil, fsm.ErrIllegalTransition
	}
	blk, err := cs.sock.ControlBlock().AllocSend(payloadLen)
	if err != nil {
		return nil, nil, err
	}
	child, err := d.spawnClone(cs)
	if err != nil {
		return nil, nil, err
	}
	cs.pendingMultiply[blk.SN] = child.sock.ControlBlock().Params.LocalALFID
	return child.sock, blk, nil
}

// CommitMultiply transmits the MULTIPLY block previously reserved by
// MultiplyAndGetSendBuffer at sequence number sn, once the caller has
// written its payload directly into the returned descriptor, and resolves
// the waiting child to ESTABLISHED or COMMITTED.
func (d *Dispatcher) CommitMultiply(id xid.ID, sn uint32, transactionEnded bool) error {
	cs, ok := d.lookupByID(id)
	if !ok {
		return errUnknownALFID
	}
	blk, err := cs.sock.ControlBlock().SendRing.BySN(seq.Value(sn))
	if err != nil {
		return err
	}
	childALFID, ok := cs.pendingMultiply[seq.Value(sn)]
	if !ok {
		return errUnknownALFID
	}
	delete(cs.pendingMultiply, seq.Value(sn))
	d.mu.Lock()
	child, ok := d.conns[childALFID]
	d.mu.Unlock()
	if !ok {
		return errUnknownALFID
	}
	d.finishMultiplyChild(child, transactionEnded)

	flags := wire.Flag(0)
	if transactionEnded {
		flags |= wire.FlagTransactionEnded
	}
	frame, err := d.encodeNormal(cs, wire.Multiply, sn, blk.Data[:blk.Len], flags)
	if err != nil {
		return err
	}
	cs.trk.MarkSent(blk, time.Now())
	d.countSent(wire.Multiply)
	return d.transport.Send(cs.env, frame)
}

// finishMultiplyChild moves a just-spawned MULTIPLY child out of CLONING
// straight to ESTABLISHED or COMMITTED (spec §8 scenario 6): since the
// payload and its TransactionEnded bit travel on the MULTIPLY packet itself
// rather than a follow-up PERSIST, the child's final state is already known
// at spawn time.
func (d *Dispatcher) finishMultiplyChild(child *connState, transactionEnded bool) {
	block := child.sock.ControlBlock()
	if transactionEnded {
		block.SetState(fsm.Committed)
	} else {
		block.SetState(fsm.Established)
	}
	if d.notices != nil {
		d.notices.Publish(&ipc.Notice{
			Kind:  ipc.NoticeStateChanged,
			ALFID: block.Params.LocalALFID,
			State: block.State().String(),
		})
	}
}

// spawnClone creates a child connection for a MULTIPLY, local or inbound
// (spec §4.6): a new ALFID and ControlBlock sharing the parent's negotiated
// session key and sequence-space position, starting in CLONING until the
// peer's first data packet confirms it.
func (d *Dispatcher) spawnClone(parent *connState) (*connState, error) {
	childALFID := d.allocALFID()
	block := cb.NewControlBlock(32, 32)
	block.SetState(fsm.Cloning)
	parentCB := parent.sock.ControlBlock()
	block.Params = cb.ConnectParams{
		LocalALFID:  childALFID,
		RemoteALFID: parent.env.RemoteALFID,
		SessionSalt: parentCB.Params.SessionSalt,
	}
	block.ResetSend(parentCB.SendNext(), parentCB.MaxInFlightData())
	block.ResetRecv(parentCB.RecvWindow(), parentCB.RecvNext())

	engine := icc.NewEngine()
	engine.Current = parent.sock.ICCEngine().Current
	engine.Previous = parent.sock.ICCEngine().Previous
	s := socket.New(block, engine)

	childEnv := Envelope{LocalALFID: childALFID, RemoteALFID: parent.env.RemoteALFID, RemoteAddr: parent.env.RemoteAddr}
	d.mu.Lock()
	child := d.bind(childALFID, s, childEnv)
	d.mu.Unlock()
	return child, nil
}

// CommitLocal issues a local COMMIT on the socket named id.
func (d *Dispatcher) CommitLocal(id xid.ID) error {
	cs, ok := d.lookupByID(id)
	if !ok {
		return errUnknownALFID
	}
	return cs.sock.Commit()
}

// ShutdownLocal issues a local shutdown on the socket named id.
func (d *Dispatcher) ShutdownLocal(id xid.ID) error {
	cs, ok := d.lookupByID(id)
	if !ok {
		return errUnknownALFID
	}
	return cs.sock.Shutdown()
}

// InstallMasterKeyLocal schedules a master key (produced by an
// application-level key agreement such as chaka) to take over the socket
// named id's icc.Engine at a future sequence number.
func (d *Dispatcher) InstallMasterKeyLocal(id xid.ID, key [32]byte, atSN uint32, keyLife uint64) error {
	cs, ok := d.lookupByID(id)
	if !ok {
		return errUnknownALFID
	}
	salt, err := icc.RandomSalt()
	if err != nil {
		return err
	}
	cs.sock.ICCEngine().InstallMasterKey(key, salt, atSN, keyLife)
	return nil
}

// handleNormal is the steady-state dispatch path for connections already
// past bootstrap: verify integrity, advance the state machine, and fold the
// packet's effect into the ControlBlock.
func (d *Dispatcher) handleNormal(cs *connState, op wire.Opcode, header wire.NormalHeader, env Envelope) error {
	block := cs.sock.ControlBlock()

	if changed := cs.peer.ObserveSource(env.RemoteAddr.Addr()); changed {
		cs.env.RemoteAddr = env.RemoteAddr
		cs.sock.SetRemoteAddr(udpAddrOf(env.RemoteAddr))
		if d.notices != nil {
			d.notices.Publish(&ipc.Notice{
				Kind:   ipc.NoticePeerSubnetsChanged,
				ALFID:  block.Params.LocalALFID,
				Detail: "favorite return path updated",
			})
		}
	}

	flags := header.Flags()
	transactionEnded := flags.HasAny(wire.FlagTransactionEnded)

	payload, err := d.verifyAndExtract(cs, header)
	if err != nil {
		if d.metrics != nil {
			d.metrics.DispatchErrors.WithLabelValues("integrity").Inc()
		}
		cs.sock.FireOnError(err)
		return err
	}

	prevState := block.State()
	next, err := fsm.OnReceive(prevState, op, transactionEnded)
	if err != nil {
		if d.metrics != nil {
			d.metrics.DispatchErrors.WithLabelValues("illegal-transition").Inc()
		}
		cs.sock.FireOnError(err)
		return err
	}
	block.SetState(next)
	cs.sock.NotifyStateChange(prevState, next)

	switch op {
	case wire.PureData, wire.Persist, wire.NulCommit:
		flagBits := cb.BlockFlag(0)
		if transactionEnded {
			flagBits |= cb.FlagCompleted
		}
		if flags.HasAny(wire.FlagCompressed) {
			flagBits |= cb.FlagCompressed
		}
		if err := block.DeliverRecv(seq.Value(header.SequenceNo()), payload, flagBits); err != nil {
			return err
		}
		if transactionEnded {
			block.SetPeerCommitted()
		}
		if d.notices != nil {
			d.notices.Publish(&ipc.Notice{Kind: ipc.NoticeDataArrived, ALFID: block.Params.LocalALFID})
		}
	case wire.AckFlush:
		ackedAt := time.Now()
		cs.trk.OnAck(seq.Value(header.ExpectedSN()), ackedAt)
		cs.pace.Refill(ackedAt)
		if srtt := cs.trk.RTO.SRTT(); srtt > 0 {
			cs.pace.OnRTTSample(block.SendRing.Buffered(), srtt)
		}
	case wire.SelectiveNack:
		if err := d.handleSelectiveNack(cs, header); err != nil {
			return err
		}
	case wire.Multiply:
		child, err := d.spawnClone(cs)
		if err != nil {
			return err
		}
		if len(payload) > 0 {
			childBlock := child.sock.ControlBlock()
			flagBits := cb.BlockFlag(0)
			if transactionEnded {
				flagBits |= cb.FlagCompleted
			}
			if flags.HasAny(wire.FlagCompressed) {
				flagBits |= cb.FlagCompressed
			}
			if err := childBlock.DeliverRecv(childBlock.RecvNext(), payload, flagBits); err != nil {
				return err
			}
			if transactionEnded {
				childBlock.SetPeerCommitted()
			}
		}
		d.finishMultiplyChild(child, transactionEnded)
	case wire.PeerSubnets:
		// no effect on this path: HandleInbound does not walk the
		// extension chain, and the advertised subnet prefixes are not
		// passed to cs.peer.UpdateSubnets.
	case wire.KeepAlive:
		// liveness only; no sequence-space effect.
	case wire.Release:
		cs.sock.Dispose()
	}

	if d.notices != nil && prevState != next {
		d.notices.Publish(&ipc.Notice{
			Kind:  ipc.NoticeStateChanged,
			ALFID: block.Params.LocalALFID,
			State: next.String(),
		})
	}
	return nil
}

func (d *Dispatcher) handleSelectiveNack(cs *connState, header wire.NormalHeader) error {
	payload := header.Payload()
	snack, err := wire.NewSelectiveNackExt(payload)
	if err != nil {
		return err
	}
	ranges := reliability.GapRanges(snack)
	due := reliability.ResendFromSNACK(cs.sock.ControlBlock(), ranges)
	if len(due) > 0 {
		cs.pace.OnLoss()
	}
	for _, blk := range due {
		blk.Retries++
		frame, err := d.encodeNormal(cs, socket.WireOpcodeForBlock(blk), uint32(blk.SN), blk.Data[:blk.Len], socket.WireFlagsForBlock(blk))
		if err != nil {
			return err
		}
		cs.trk.MarkSent(blk, time.Now())
		if err := d.transport.Send(cs.env, frame); err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.Retransmits.Inc()
		}
	}
	return nil
}

func (d *Dispatcher) verifyAndExtract(cs *connState, header wire.NormalHeader) ([]byte, error) {
	aad := header.AppendZeroIntegrity(make([]byte, 0, 24))
	plain, err := cs.sock.ICCEngine().Verify(aad, header.Payload(), header.SequenceNo(), header.Integrity())
	if err != nil {
		return nil, errIntegrityFailure
	}
	return plain, nil
}

func (d *Dispatcher) countRecv(op wire.Opcode) {
	if d.metrics != nil {
		d.metrics.PacketsReceived.WithLabelValues(op.String()).Inc()
	}
}

func (d *Dispatcher) countSent(op wire.Opcode) {
	if d.metrics != nil {
		d.metrics.PacketsSent.WithLabelValues(op.String()).Inc()
	}
}

func udpAddrOf(ap netip.AddrPort) net.Addr {
	return net.UDPAddrFromAddrPort(ap)
}
