package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/domain"
)

const (
	// DefaultNoticeTTL bounds how long a transient call error stays
	// visible before it clears itself.
	DefaultNoticeTTL = 5 * time.Second

	// DefaultRingTimeout bounds how long calling/incoming may ring.
	DefaultRingTimeout = 60 * time.Second
)

// Snapshot is a read-only copy of the session for display.
type Snapshot struct {
	State     domain.CallState
	Peer      *domain.User
	Direction domain.CallDirection
	TargetID  domain.UserID
	Muted     bool
	Notice    string
}

type Config struct {
	Self       domain.User
	Signaler   Signaler
	Engine     MediaEngine
	Microphone CaptureDevice

	// RingTimeout bounds calling/incoming; 0 rings forever.
	RingTimeout time.Duration
	// NoticeTTL overrides DefaultNoticeTTL when positive.
	NoticeTTL time.Duration

	// OnChange, when set, is invoked after every observable transition
	// with a fresh snapshot. It must not call back into the session.
	OnChange func(Snapshot)
}

// Session is the client call state machine: at most one call at a time,
// every transition serialized on one mutex. Engine and transport
// callbacks re-enter through handler methods that take the same mutex,
// and a generation counter keeps callbacks from an already-torn-down
// connection from touching the next call.
type Session struct {
	self        domain.User
	sig         Signaler
	engine      MediaEngine
	mic         CaptureDevice
	ringTimeout time.Duration
	noticeTTL   time.Duration
	onChange    func(Snapshot)

	mu           sync.Mutex
	state        domain.CallState
	peer         *domain.User
	direction    domain.CallDirection
	targetID     domain.UserID
	pendingOffer json.RawMessage
	conn         MediaConnection
	local        *LocalStream
	remote       []RemoteTrack
	muted        bool
	notice       string

	gen       uint64
	noticeSeq uint64
	ringTimer *time.Timer
}

func NewSession(cfg Config) *Session {
	ttl := cfg.NoticeTTL
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return &Session{
		self:        cfg.Self,
		sig:         cfg.Signaler,
		engine:      cfg.Engine,
		mic:         cfg.Microphone,
		ringTimeout: cfg.RingTimeout,
		noticeTTL:   ttl,
		onChange:    cfg.OnChange,
		state:       domain.CallIdle,
	}
}

// StartCall rings targetUser. Rejected without side effects while a
// call session already exists.
func (s *Session) StartCall(ctx context.Context, target domain.User) error {
	s.mu.Lock()
	err := s.startCallLocked(ctx, target)
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return err
}

func (s *Session) startCallLocked(ctx context.Context, target domain.User) error {
	if s.state != domain.CallIdle {
		log.Warn().Str("module", "call").Str("state", string(s.state)).Msg("startCall ignored, session busy")
		return domain.ErrNotIdle
	}
	if err := target.ID.Validate(); err != nil {
		return err
	}

	s.state = domain.CallCalling
	s.direction = domain.DirectionOutgoing
	peer := target
	s.peer = &peer
	s.targetID = target.ID

	if err := s.dialLocked(ctx, target.ID); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("startCall failed")
		s.setNoticeLocked(err.Error())
		s.cleanupLocked()
		return err
	}
	s.armRingTimerLocked()
	return nil
}

func (s *Session) dialLocked(ctx context.Context, target domain.UserID) error {
	stream, err := s.mic.OpenMicrophone(ctx)
	if err != nil {
		return fmt.Errorf("microphone: %w", err)
	}
	s.local = stream

	conn, err := s.newConnectionLocked(ctx)
	if err != nil {
		return err
	}

	offer, err := conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	if err := s.sig.SendOffer(target, raw, s.self); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// AcceptCall answers the held incoming offer.
func (s *Session) AcceptCall(ctx context.Context) error {
	s.mu.Lock()
	err := s.acceptCallLocked(ctx)
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return err
}

func (s *Session) acceptCallLocked(ctx context.Context) error {
	if s.state != domain.CallIncoming || len(s.pendingOffer) == 0 {
		return domain.ErrNoPendingCall
	}
	s.state = domain.CallConnecting
	s.stopRingTimerLocked()

	if err := s.answerLocked(ctx); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("acceptCall failed")
		s.setNoticeLocked(err.Error())
		s.cleanupLocked()
		return err
	}
	s.pendingOffer = nil
	return nil
}

func (s *Session) answerLocked(ctx context.Context) error {
	stream, err := s.mic.OpenMicrophone(ctx)
	if err != nil {
		return fmt.Errorf("microphone: %w", err)
	}
	s.local = stream

	conn, err := s.newConnectionLocked(ctx)
	if err != nil {
		return err
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(s.pendingOffer, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	answer, err := conn.CreateAnswer(offer)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := s.sig.SendAnswer(s.targetID, raw); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// DeclineCall refuses the held incoming offer. The decline send is
// best-effort; local teardown happens regardless.
func (s *Session) DeclineCall() error {
	s.mu.Lock()
	var err error
	if s.state != domain.CallIncoming {
		err = domain.ErrNoPendingCall
	} else {
		if s.targetID != "" {
			_ = s.sig.SendDecline(s.targetID)
		}
		s.cleanupLocked()
	}
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return err
}

// EndCall hangs up from any state. Safe no-op when idle.
func (s *Session) EndCall() {
	s.mu.Lock()
	if s.targetID != "" {
		_ = s.sig.SendEnd(s.targetID, domain.ReasonEnded)
	}
	s.cleanupLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

// ToggleMute flips every local audio track's enabled flag and reports
// the new muted state. No-op without a local stream.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	if s.local != nil {
		s.muted = !s.muted
		s.local.SetEnabled(!s.muted)
	}
	muted := s.muted
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return muted
}

// Cleanup is the single teardown path: detach handlers, close the
// connection, stop every track of both streams, reset to idle.
// Idempotent.
func (s *Session) Cleanup() {
	s.mu.Lock()
	s.cleanupLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

// HandleIncomingCall processes a relayed offer. While another call is
// active the new caller is declined and the active call is untouched.
func (s *Session) HandleIncomingCall(from domain.UserID, caller domain.User, offer json.RawMessage) {
	if from == "" || len(offer) == 0 {
		return
	}
	s.mu.Lock()
	if s.state != domain.CallIdle {
		log.Info().Str("module", "call").Str("from", string(from)).Msg("busy, declining incoming call")
		_ = s.sig.SendDecline(from)
		s.mu.Unlock()
		return
	}
	s.state = domain.CallIncoming
	s.direction = domain.DirectionIncoming
	c := caller
	s.peer = &c
	s.targetID = from
	s.pendingOffer = offer
	s.armRingTimerLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

// HandleAnswered applies the remote answer. The session stays in
// calling; connected fires on the connection-state event, not here.
func (s *Session) HandleAnswered(answer json.RawMessage) {
	s.mu.Lock()
	if s.conn == nil || len(answer) == 0 {
		s.mu.Unlock()
		return
	}
	var sd webrtc.SessionDescription
	err := json.Unmarshal(answer, &sd)
	if err == nil {
		err = s.conn.ApplyAnswer(sd)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("apply answer")
		s.setNoticeLocked("call failed to connect")
		s.cleanupLocked()
	} else {
		s.stopRingTimerLocked()
	}
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

// HandleRemoteCandidate adds a relayed ICE candidate. Failures are
// logged only: late or duplicate candidates are normal.
func (s *Session) HandleRemoteCandidate(candidate json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || len(candidate) == 0 {
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &ci); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad remote candidate")
		return
	}
	if err := s.conn.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("add ice candidate")
	}
}

func (s *Session) HandleDeclined() {
	s.mu.Lock()
	s.setNoticeLocked("call declined")
	s.cleanupLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Session) HandleEnded(reason string) {
	s.mu.Lock()
	if reason != "" && reason != domain.ReasonEnded {
		s.setNoticeLocked(reason)
	}
	s.cleanupLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Session) HandleUnavailable(target domain.UserID) {
	s.mu.Lock()
	s.setNoticeLocked("user unavailable")
	s.cleanupLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

// Snapshot returns a copy of the observable session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// RemoteTracks returns the remote audio currently held for playback.
func (s *Session) RemoteTracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RemoteTrack, len(s.remote))
	copy(out, s.remote)
	return out
}

func (s *Session) newConnectionLocked(ctx context.Context) (MediaConnection, error) {
	conn, err := s.engine.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}
	s.conn = conn

	gen := s.gen
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) { s.relayCandidate(gen, ci) })
	conn.OnRemoteTrack(func(rt RemoteTrack) { s.addRemoteTrack(gen, rt) })
	conn.OnStateChange(func(st webrtc.PeerConnectionState) { s.handleConnectionState(gen, st) })

	if err := conn.Start(ctx); err != nil {
		return nil, fmt.Errorf("start connection: %w", err)
	}
	if err := conn.AttachLocalAudio(s.local); err != nil {
		return nil, fmt.Errorf("attach audio: %w", err)
	}
	return conn, nil
}

func (s *Session) relayCandidate(gen uint64, ci webrtc.ICECandidateInit) {
	s.mu.Lock()
	if s.gen != gen || s.targetID == "" {
		s.mu.Unlock()
		return
	}
	target := s.targetID
	s.mu.Unlock()

	raw, err := json.Marshal(ci)
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("encode candidate")
		return
	}
	if err := s.sig.SendCandidate(target, raw); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("send candidate")
	}
}

func (s *Session) addRemoteTrack(gen uint64, rt RemoteTrack) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		rt.Stop()
		return
	}
	s.remote = append(s.remote, rt)
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Session) handleConnectionState(gen uint64, st webrtc.PeerConnectionState) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.state == domain.CallCalling || s.state == domain.CallConnecting {
			s.state = domain.CallConnected
			s.stopRingTimerLocked()
		}
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		s.cleanupLocked()
	}
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Session) armRingTimerLocked() {
	if s.ringTimeout <= 0 {
		return
	}
	gen := s.gen
	s.ringTimer = time.AfterFunc(s.ringTimeout, func() { s.ringExpired(gen) })
}

func (s *Session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) ringExpired(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || (s.state != domain.CallCalling && s.state != domain.CallIncoming) {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case domain.CallCalling:
		if s.targetID != "" {
			_ = s.sig.SendEnd(s.targetID, domain.ReasonTimeout)
		}
		s.setNoticeLocked("no answer")
	case domain.CallIncoming:
		if s.targetID != "" {
			_ = s.sig.SendDecline(s.targetID)
		}
		s.setNoticeLocked("missed call")
	}
	log.Info().Str("module", "call").Msg("ring timeout")
	s.cleanupLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Session) setNoticeLocked(msg string) {
	s.notice = msg
	s.noticeSeq++
	if msg == "" {
		return
	}
	seq := s.noticeSeq
	time.AfterFunc(s.noticeTTL, func() { s.expireNotice(seq) })
}

func (s *Session) expireNotice(seq uint64) {
	s.mu.Lock()
	if s.noticeSeq != seq || s.notice == "" {
		s.mu.Unlock()
		return
	}
	s.notice = ""
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
}

func (s *Session) cleanupLocked() {
	s.stopRingTimerLocked()
	if s.conn != nil {
		s.conn.OnICECandidate(nil)
		s.conn.OnRemoteTrack(nil)
		s.conn.OnStateChange(nil)
		s.conn.Close()
		s.conn = nil
	}
	if s.local != nil {
		s.local.Stop()
		s.local = nil
	}
	for _, rt := range s.remote {
		rt.Stop()
	}
	s.remote = nil
	s.pendingOffer = nil
	s.state = domain.CallIdle
	s.peer = nil
	s.direction = ""
	s.targetID = ""
	s.muted = false
	s.gen++
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:     s.state,
		Direction: s.direction,
		TargetID:  s.targetID,
		Muted:     s.muted,
		Notice:    s.notice,
	}
	if s.peer != nil {
		p := *s.peer
		snap.Peer = &p
	}
	return snap
}

func (s *Session) notifyLocked() func() {
	cb := s.onChange
	if cb == nil {
		return func() {}
	}
	snap := s.snapshotLocked()
	return func() { cb(snap) }
}
