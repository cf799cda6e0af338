package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/lingolive/calls/internal/domain"
)

type sentOffer struct {
	target domain.UserID
	offer  json.RawMessage
	caller domain.User
}

type sentEnd struct {
	target domain.UserID
	reason string
}

type fakeSignaler struct {
	mu         sync.Mutex
	offers     []sentOffer
	answers    []domain.UserID
	candidates []domain.UserID
	declines   []domain.UserID
	ends       []sentEnd

	offerErr error
}

func (f *fakeSignaler) SendOffer(target domain.UserID, offer json.RawMessage, caller domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return f.offerErr
	}
	f.offers = append(f.offers, sentOffer{target: target, offer: offer, caller: caller})
	return nil
}

func (f *fakeSignaler) SendAnswer(target domain.UserID, answer json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, target)
	return nil
}

func (f *fakeSignaler) SendCandidate(target domain.UserID, candidate json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, target)
	return nil
}

func (f *fakeSignaler) SendDecline(target domain.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declines = append(f.declines, target)
	return nil
}

func (f *fakeSignaler) SendEnd(target domain.UserID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, sentEnd{target: target, reason: reason})
	return nil
}

func (f *fakeSignaler) sentOffers() []sentOffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentOffer(nil), f.offers...)
}

func (f *fakeSignaler) sentDeclines() []domain.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UserID(nil), f.declines...)
}

func (f *fakeSignaler) sentEnds() []sentEnd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEnd(nil), f.ends...)
}

func (f *fakeSignaler) sentCandidates() []domain.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UserID(nil), f.candidates...)
}

func (f *fakeSignaler) sentAnswers() []domain.UserID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UserID(nil), f.answers...)
}

type fakeMediaConn struct {
	mu         sync.Mutex
	started    bool
	closed     bool
	attached   *LocalStream
	applied    *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit

	startErr  error
	offerErr  error
	answerErr error
	applyErr  error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (c *fakeMediaConn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}

func (c *fakeMediaConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeMediaConn) AttachLocalAudio(stream *LocalStream) error {
	c.mu.Lock()
	c.attached = stream
	c.mu.Unlock()
	return nil
}

func (c *fakeMediaConn) CreateOffer() (webrtc.SessionDescription, error) {
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local offer"}, nil
}

func (c *fakeMediaConn) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.remoteDesc = &offer
	c.mu.Unlock()
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 local answer"}, nil
}

func (c *fakeMediaConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	if c.applyErr != nil {
		return c.applyErr
	}
	c.mu.Lock()
	c.applied = &answer
	c.mu.Unlock()
	return nil
}

func (c *fakeMediaConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	c.candidates = append(c.candidates, candidate)
	c.mu.Unlock()
	return nil
}

func (c *fakeMediaConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakeMediaConn) OnRemoteTrack(fn func(RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeMediaConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeMediaConn) fireICE(ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn != nil {
		fn(ci)
	}
}

func (c *fakeMediaConn) fireTrack(rt RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(rt)
	}
}

func (c *fakeMediaConn) fireState(st webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *fakeMediaConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeEngine struct {
	mu    sync.Mutex
	conns []*fakeMediaConn
	err   error
}

func (e *fakeEngine) NewConnection() (MediaConnection, error) {
	if e.err != nil {
		return nil, e.err
	}
	conn := &fakeMediaConn{}
	e.mu.Lock()
	e.conns = append(e.conns, conn)
	e.mu.Unlock()
	return conn, nil
}

func (e *fakeEngine) last(t *testing.T) *fakeMediaConn {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.conns) == 0 {
		t.Fatal("no media connection was created")
	}
	return e.conns[len(e.conns)-1]
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	streams []*LocalStream
}

func (m *fakeMic) OpenMicrophone(ctx context.Context) (*LocalStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	stream := NewLocalStream(NewLocalAudioTrack("mic0", nil))
	m.mu.Lock()
	m.streams = append(m.streams, stream)
	m.mu.Unlock()
	return stream, nil
}

func (m *fakeMic) lastStream(t *testing.T) *LocalStream {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		t.Fatal("microphone was never opened")
	}
	return m.streams[len(m.streams)-1]
}

type fakeRemoteTrack struct {
	id      string
	stopped atomic.Bool
}

func (f *fakeRemoteTrack) ID() string { return f.id }
func (f *fakeRemoteTrack) Stop()      { f.stopped.Store(true) }

type fixture struct {
	sig    *fakeSignaler
	engine *fakeEngine
	mic    *fakeMic
	sess   *Session
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		sig:    &fakeSignaler{},
		engine: &fakeEngine{},
		mic:    &fakeMic{},
	}
	cfg.Self = domain.User{ID: "alice", Username: "Alice"}
	cfg.Signaler = f.sig
	cfg.Engine = f.engine
	cfg.Microphone = f.mic
	f.sess = NewSession(cfg)
	return f
}

func rawOffer(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote offer"})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func rawAnswer(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote answer"})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartCallSendsOffer(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob", Username: "Bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}

	if got := f.sess.State(); got != domain.CallCalling {
		t.Fatalf("state = %q, want calling", got)
	}
	offers := f.sig.sentOffers()
	if len(offers) != 1 {
		t.Fatalf("sent %d offers, want 1", len(offers))
	}
	if offers[0].target != "bob" {
		t.Fatalf("offer target = %q, want bob", offers[0].target)
	}
	if offers[0].caller.ID != "alice" {
		t.Fatalf("offer caller = %q, want alice", offers[0].caller.ID)
	}

	conn := f.engine.last(t)
	conn.mu.Lock()
	started, attached := conn.started, conn.attached
	conn.mu.Unlock()
	if !started {
		t.Fatal("media connection was not started")
	}
	if attached == nil {
		t.Fatal("local audio was not attached")
	}

	snap := f.sess.Snapshot()
	if snap.Peer == nil || snap.Peer.ID != "bob" {
		t.Fatalf("snapshot peer = %+v, want bob", snap.Peer)
	}
	if snap.Direction != domain.DirectionOutgoing {
		t.Fatalf("direction = %q, want outgoing", snap.Direction)
	}
}

func TestStartCallWhileBusyRejected(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	if err := f.sess.StartCall(ctx, domain.User{ID: "bob"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := f.sess.StartCall(ctx, domain.User{ID: "carol"}); !errors.Is(err, domain.ErrNotIdle) {
		t.Fatalf("second call err = %v, want ErrNotIdle", err)
	}

	if len(f.sig.sentOffers()) != 1 {
		t.Fatal("the rejected call must not send an offer")
	}
	if snap := f.sess.Snapshot(); snap.Peer == nil || snap.Peer.ID != "bob" {
		t.Fatal("active call must be untouched by the rejected one")
	}
}

func TestStartCallMicrophoneFailure(t *testing.T) {
	f := newFixture(Config{})
	f.mic.err = domain.ErrNoAudioDevice

	err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"})
	if !errors.Is(err, domain.ErrNoAudioDevice) {
		t.Fatalf("err = %v, want ErrNoAudioDevice", err)
	}

	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle after failed dial", got)
	}
	if f.sess.Snapshot().Notice == "" {
		t.Fatal("failure should leave a visible notice")
	}
	if len(f.sig.sentOffers()) != 0 {
		t.Fatal("no offer may leave after a media failure")
	}
}

func TestStartCallSendFailureCleansUp(t *testing.T) {
	f := newFixture(Config{})
	f.sig.offerErr = errors.New("transport backpressure")

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err == nil {
		t.Fatal("expected the send failure to surface")
	}
	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle", got)
	}
	if !f.engine.last(t).isClosed() {
		t.Fatal("connection should be torn down after a failed send")
	}
}

func TestIncomingAcceptConnects(t *testing.T) {
	f := newFixture(Config{})

	f.sess.HandleIncomingCall("bob", domain.User{ID: "bob", Username: "Bob"}, rawOffer(t))
	if got := f.sess.State(); got != domain.CallIncoming {
		t.Fatalf("state = %q, want incoming", got)
	}
	if snap := f.sess.Snapshot(); snap.Peer == nil || snap.Peer.Username != "Bob" {
		t.Fatalf("snapshot peer = %+v", snap.Peer)
	}

	if err := f.sess.AcceptCall(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := f.sess.State(); got != domain.CallConnecting {
		t.Fatalf("state = %q, want connecting", got)
	}
	if answers := f.sig.sentAnswers(); len(answers) != 1 || answers[0] != "bob" {
		t.Fatalf("answers = %v, want [bob]", answers)
	}

	conn := f.engine.last(t)
	conn.mu.Lock()
	remote := conn.remoteDesc
	conn.mu.Unlock()
	if remote == nil || remote.SDP != "v=0 remote offer" {
		t.Fatalf("remote offer not applied: %+v", remote)
	}

	conn.fireState(webrtc.PeerConnectionStateConnected)
	if got := f.sess.State(); got != domain.CallConnected {
		t.Fatalf("state = %q, want connected", got)
	}
}

func TestAcceptWithoutPendingCall(t *testing.T) {
	f := newFixture(Config{})
	if err := f.sess.AcceptCall(context.Background()); !errors.Is(err, domain.ErrNoPendingCall) {
		t.Fatalf("err = %v, want ErrNoPendingCall", err)
	}
}

func TestIncomingWhileBusyAutoDeclined(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	f.sess.HandleIncomingCall("carol", domain.User{ID: "carol"}, rawOffer(t))

	if declines := f.sig.sentDeclines(); len(declines) != 1 || declines[0] != "carol" {
		t.Fatalf("declines = %v, want [carol]", declines)
	}
	if got := f.sess.State(); got != domain.CallCalling {
		t.Fatalf("state = %q, the active call must survive", got)
	}
	if snap := f.sess.Snapshot(); snap.Peer == nil || snap.Peer.ID != "bob" {
		t.Fatal("active peer must be untouched")
	}
}

func TestDeclineCall(t *testing.T) {
	f := newFixture(Config{})

	f.sess.HandleIncomingCall("bob", domain.User{ID: "bob"}, rawOffer(t))
	if err := f.sess.DeclineCall(); err != nil {
		t.Fatalf("decline: %v", err)
	}

	if declines := f.sig.sentDeclines(); len(declines) != 1 || declines[0] != "bob" {
		t.Fatalf("declines = %v, want [bob]", declines)
	}
	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle", got)
	}

	if err := f.sess.DeclineCall(); !errors.Is(err, domain.ErrNoPendingCall) {
		t.Fatalf("second decline err = %v, want ErrNoPendingCall", err)
	}
}

func TestEndCallIdempotent(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	stream := f.mic.lastStream(t)
	conn := f.engine.last(t)

	f.sess.EndCall()
	f.sess.EndCall()
	f.sess.Cleanup()

	ends := f.sig.sentEnds()
	if len(ends) != 1 {
		t.Fatalf("sent %d end messages, want 1", len(ends))
	}
	if ends[0].target != "bob" || ends[0].reason != domain.ReasonEnded {
		t.Fatalf("end = %+v", ends[0])
	}
	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle", got)
	}
	if !conn.isClosed() {
		t.Fatal("media connection should be closed")
	}
	select {
	case <-stream.AudioTracks()[0].Stopped():
	default:
		t.Fatal("local track should be stopped")
	}
}

func TestHandleDeclinedEndsOutgoingCall(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	f.sess.HandleDeclined()

	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle", got)
	}
	if notice := f.sess.Snapshot().Notice; notice != "call declined" {
		t.Fatalf("notice = %q, want %q", notice, "call declined")
	}
}

func TestHandleEndedReasonVisibility(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	f.sess.HandleEnded(domain.ReasonEnded)
	if notice := f.sess.Snapshot().Notice; notice != "" {
		t.Fatalf("a normal hangup must not leave a notice, got %q", notice)
	}

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	f.sess.HandleEnded(domain.ReasonTimeout)
	if notice := f.sess.Snapshot().Notice; notice != domain.ReasonTimeout {
		t.Fatalf("notice = %q, want %q", notice, domain.ReasonTimeout)
	}
	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestHandleUnavailable(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "ghost"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	f.sess.HandleUnavailable("ghost")

	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle", got)
	}
	if notice := f.sess.Snapshot().Notice; notice != "user unavailable" {
		t.Fatalf("notice = %q", notice)
	}
}

func TestToggleMute(t *testing.T) {
	f := newFixture(Config{})

	// No local stream yet: toggling is a no-op.
	if f.sess.ToggleMute() {
		t.Fatal("mute without a stream must stay false")
	}

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	track := f.mic.lastStream(t).AudioTracks()[0]

	if !f.sess.ToggleMute() {
		t.Fatal("first toggle should mute")
	}
	if track.Enabled() {
		t.Fatal("muted track must be disabled")
	}
	if !f.sess.Muted() {
		t.Fatal("session should report muted")
	}

	if f.sess.ToggleMute() {
		t.Fatal("second toggle should unmute")
	}
	if !track.Enabled() {
		t.Fatal("unmuted track must be enabled")
	}

	// Cleanup resets mute.
	f.sess.ToggleMute()
	f.sess.EndCall()
	if f.sess.Muted() {
		t.Fatal("mute must reset to false on cleanup")
	}
}

func TestHandleAnsweredAppliesRemoteDescription(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	conn := f.engine.last(t)

	f.sess.HandleAnswered(rawAnswer(t))

	conn.mu.Lock()
	applied := conn.applied
	conn.mu.Unlock()
	if applied == nil || applied.SDP != "v=0 remote answer" {
		t.Fatalf("answer not applied: %+v", applied)
	}
	// Connected fires on the connection-state event, not on the answer.
	if got := f.sess.State(); got != domain.CallCalling {
		t.Fatalf("state = %q, want calling until media connects", got)
	}

	conn.fireState(webrtc.PeerConnectionStateConnected)
	if got := f.sess.State(); got != domain.CallConnected {
		t.Fatalf("state = %q, want connected", got)
	}
}

func TestHandleAnsweredFailureCleansUp(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	conn := f.engine.last(t)
	conn.applyErr = errors.New("sdp mismatch")

	f.sess.HandleAnswered(rawAnswer(t))

	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle after failed answer", got)
	}
	if notice := f.sess.Snapshot().Notice; notice != "call failed to connect" {
		t.Fatalf("notice = %q", notice)
	}
	if !conn.isClosed() {
		t.Fatal("failed connection should be closed")
	}
}

func TestRemoteCandidateDelivery(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	conn := f.engine.last(t)

	raw, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	f.sess.HandleRemoteCandidate(raw)

	conn.mu.Lock()
	n := len(conn.candidates)
	conn.mu.Unlock()
	if n != 1 {
		t.Fatalf("connection got %d candidates, want 1", n)
	}

	// Garbage payloads are non-fatal.
	f.sess.HandleRemoteCandidate(json.RawMessage(`{broken`))
	if got := f.sess.State(); got != domain.CallCalling {
		t.Fatalf("state = %q, a bad candidate must not end the call", got)
	}
}

func TestLocalCandidateRelayedToPeer(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	conn := f.engine.last(t)

	conn.fireICE(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	if cands := f.sig.sentCandidates(); len(cands) != 1 || cands[0] != "bob" {
		t.Fatalf("candidates = %v, want [bob]", cands)
	}
}

func TestStaleCallbacksIgnoredAfterCleanup(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	conn := f.engine.last(t)

	// Grab the wired callbacks before teardown detaches them, the way a
	// late-firing engine goroutine would hold them.
	conn.mu.Lock()
	onICE, onTrack := conn.onICE, conn.onTrack
	conn.mu.Unlock()

	f.sess.EndCall()

	onICE(webrtc.ICECandidateInit{Candidate: "candidate:late"})
	if len(f.sig.sentCandidates()) != 0 {
		t.Fatal("candidate from a torn-down call must not be relayed")
	}

	late := &fakeRemoteTrack{id: "late"}
	onTrack(late)
	if !late.stopped.Load() {
		t.Fatal("track arriving after teardown must be stopped")
	}
	if len(f.sess.RemoteTracks()) != 0 {
		t.Fatal("no remote track may be retained after teardown")
	}
}

func TestRemoteTracksStoppedOnCleanup(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	conn := f.engine.last(t)

	rt := &fakeRemoteTrack{id: "remote0"}
	conn.fireTrack(rt)
	if tracks := f.sess.RemoteTracks(); len(tracks) != 1 || tracks[0].ID() != "remote0" {
		t.Fatalf("remote tracks = %v", tracks)
	}

	f.sess.EndCall()
	if !rt.stopped.Load() {
		t.Fatal("remote track must be stopped on cleanup")
	}
	if len(f.sess.RemoteTracks()) != 0 {
		t.Fatal("remote tracks must be cleared on cleanup")
	}
}

func TestConnectionLossEndsCall(t *testing.T) {
	f := newFixture(Config{})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	conn := f.engine.last(t)
	conn.fireState(webrtc.PeerConnectionStateConnected)
	conn.fireState(webrtc.PeerConnectionStateFailed)

	if got := f.sess.State(); got != domain.CallIdle {
		t.Fatalf("state = %q, want idle after media failure", got)
	}
}

func TestRingTimeoutOutgoing(t *testing.T) {
	f := newFixture(Config{RingTimeout: 20 * time.Millisecond})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}

	waitFor(t, "ring timeout", func() bool {
		return f.sess.State() == domain.CallIdle
	})

	ends := f.sig.sentEnds()
	if len(ends) != 1 || ends[0].reason != domain.ReasonTimeout {
		t.Fatalf("ends = %+v, want one timeout end", ends)
	}
	if notice := f.sess.Snapshot().Notice; notice != "no answer" {
		t.Fatalf("notice = %q", notice)
	}
}

func TestRingTimeoutIncoming(t *testing.T) {
	f := newFixture(Config{RingTimeout: 20 * time.Millisecond})

	f.sess.HandleIncomingCall("bob", domain.User{ID: "bob"}, rawOffer(t))

	waitFor(t, "ring timeout", func() bool {
		return f.sess.State() == domain.CallIdle
	})

	if declines := f.sig.sentDeclines(); len(declines) != 1 || declines[0] != "bob" {
		t.Fatalf("declines = %v, want [bob]", declines)
	}
	if notice := f.sess.Snapshot().Notice; notice != "missed call" {
		t.Fatalf("notice = %q", notice)
	}
}

func TestRingTimerStoppedByAnswer(t *testing.T) {
	f := newFixture(Config{RingTimeout: 30 * time.Millisecond})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	f.sess.HandleAnswered(rawAnswer(t))

	time.Sleep(100 * time.Millisecond)
	if got := f.sess.State(); got != domain.CallCalling {
		t.Fatalf("state = %q, answered call must not ring out", got)
	}
	if len(f.sig.sentEnds()) != 0 {
		t.Fatal("no timeout end may be sent after the answer arrived")
	}
}

func TestNoticeExpires(t *testing.T) {
	f := newFixture(Config{NoticeTTL: 20 * time.Millisecond})

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	f.sess.HandleDeclined()

	if f.sess.Snapshot().Notice == "" {
		t.Fatal("notice should be visible right after the decline")
	}
	waitFor(t, "notice expiry", func() bool {
		return f.sess.Snapshot().Notice == ""
	})
}

func TestOnChangeObservesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []domain.CallState
	cfg := Config{
		OnChange: func(s Snapshot) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		},
	}
	f := newFixture(cfg)

	if err := f.sess.StartCall(context.Background(), domain.User{ID: "bob"}); err != nil {
		t.Fatalf("start call: %v", err)
	}
	f.engine.last(t).fireState(webrtc.PeerConnectionStateConnected)
	f.sess.EndCall()

	mu.Lock()
	defer mu.Unlock()
	want := []domain.CallState{domain.CallCalling, domain.CallConnected, domain.CallIdle}
	if len(states) != len(want) {
		t.Fatalf("observed %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("observed %v, want %v", states, want)
		}
	}
}
