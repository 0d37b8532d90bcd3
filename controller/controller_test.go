package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wavebot/session"
)

type fakeHandle struct {
	closed atomic.Int32
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

type handles struct {
	mutex       sync.Mutex
	connections []*fakeHandle
	streams     []*fakeHandle
}

func (h *handles) opener() Opener {
	return func(ctx context.Context, channelID string) (session.Connection, error) {
		conn := &fakeHandle{}
		h.mutex.Lock()
		h.connections = append(h.connections, conn)
		h.mutex.Unlock()
		return conn, nil
	}
}

func (h *handles) attacher() Attacher {
	return func(ctx context.Context, conn session.Connection, radioURL string) (session.Stream, error) {
		stream := &fakeHandle{}
		h.mutex.Lock()
		h.streams = append(h.streams, stream)
		h.mutex.Unlock()
		return stream, nil
	}
}

func failingOpener(ctx context.Context, channelID string) (session.Connection, error) {
	return nil, errors.New("voice server unreachable")
}

func failingAttacher(ctx context.Context, conn session.Connection, radioURL string) (session.Stream, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func newTestGate() *Gate {
	return NewGate(session.NewRegistry(), Options{
		ConnectTimeout: 200 * time.Millisecond,
		StreamTimeout:  200 * time.Millisecond,
	})
}

func TestGateScenario(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}

	steps := []struct {
		name string
		run  func() Outcome
		want Result
	}{
		{"join", func() Outcome { return g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener()) }, Joined},
		{"join again", func() Outcome { return g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener()) }, AlreadyConnected},
		{"play", func() Outcome { return g.HandlePlay(ctx, "g1", "http://radio", h.attacher()) }, Playing},
		{"play again", func() Outcome { return g.HandlePlay(ctx, "g1", "http://radio", h.attacher()) }, AlreadyPlaying},
		{"leave", func() Outcome { return g.HandleLeave(ctx, "g1") }, Left},
		{"leave again", func() Outcome { return g.HandleLeave(ctx, "g1") }, NotInChannel},
	}
	for _, step := range steps {
		if got := step.run(); got.Result != step.want {
			t.Fatalf("%s: Result = %s, want %s (err=%v)", step.name, got.Result, step.want, got.Err)
		}
	}

	if len(h.connections) != 1 || len(h.streams) != 1 {
		t.Fatalf("acquired %d connections and %d streams, want 1 each", len(h.connections), len(h.streams))
	}
	if h.connections[0].closed.Load() != 1 || h.streams[0].closed.Load() != 1 {
		t.Errorf("release counts conn=%d stream=%d, want 1 each",
			h.connections[0].closed.Load(), h.streams[0].closed.Load())
	}
}

func TestGateJoinConnectFailed(t *testing.T) {
	g := newTestGate()

	out := g.HandleJoin(context.Background(), "g2", "vc2", "u1", failingOpener)
	if out.Result != ConnectFailed {
		t.Fatalf("Result = %s, want %s", out.Result, ConnectFailed)
	}
	if !errors.Is(out.Err, ErrConnectFailed) {
		t.Errorf("Err = %v, want ErrConnectFailed", out.Err)
	}
	if _, ok := g.Registry().Get("g2"); ok {
		t.Error("failed join left a registry entry")
	}
}

func TestGateJoinTimeoutReleasesLateConnection(t *testing.T) {
	g := newTestGate()
	late := &fakeHandle{}
	release := make(chan struct{})

	slowOpener := func(ctx context.Context, channelID string) (session.Connection, error) {
		<-release
		return late, nil
	}

	out := g.HandleJoin(context.Background(), "g1", "vc1", "u1", slowOpener)
	if out.Result != ConnectFailed {
		t.Fatalf("Result = %s, want %s", out.Result, ConnectFailed)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", out.Err)
	}
	if _, ok := g.Registry().Get("g1"); ok {
		t.Error("timed out join left a registry entry")
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for late.closed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if late.closed.Load() != 1 {
		t.Errorf("late connection closed %d times, want 1", late.closed.Load())
	}
}

func TestGatePlayTimeoutReleasesLateStream(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}
	g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener())

	late := &fakeHandle{}
	release := make(chan struct{})
	slowAttacher := func(ctx context.Context, conn session.Connection, radioURL string) (session.Stream, error) {
		<-release
		return late, nil
	}

	out := g.HandlePlay(ctx, "g1", "http://radio", slowAttacher)
	if out.Result != StreamUnavailable {
		t.Fatalf("Result = %s, want %s", out.Result, StreamUnavailable)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", out.Err)
	}
	current, ok := g.Registry().Get("g1")
	if !ok || current.Status != session.Connected || current.Stream != nil {
		t.Errorf("session after timed out play = %+v", current)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for late.closed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if late.closed.Load() != 1 {
		t.Errorf("late stream closed %d times, want 1", late.closed.Load())
	}
	if h.connections[0].closed.Load() != 0 {
		t.Error("a timed out play must not release the connection")
	}

	// the guild is still usable
	if out := g.HandlePlay(ctx, "g1", "http://radio", h.attacher()); out.Result != Playing {
		t.Errorf("play after timeout = %s, want %s", out.Result, Playing)
	}
}

func TestGateConcurrentJoins(t *testing.T) {
	g := newTestGate()
	h := &handles{}

	const callers = 25
	results := make(chan Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.HandleJoin(context.Background(), "g1", "vc1", "u1", h.opener()).Result
		}()
	}
	wg.Wait()
	close(results)

	counts := map[Result]int{}
	for r := range results {
		counts[r]++
	}
	if counts[Joined] != 1 || counts[AlreadyConnected] != callers-1 {
		t.Errorf("results = %v, want 1 joined and %d already connected", counts, callers-1)
	}
	if got := g.Registry().Count(); got != 1 {
		t.Errorf("registry has %d sessions, want 1", got)
	}
	if len(h.connections) != 1 {
		t.Errorf("opener called %d times, want 1", len(h.connections))
	}
}

func TestGateJoinsAcrossGuildsRunInParallel(t *testing.T) {
	g := newTestGate()
	started := make(chan struct{}, 2)
	proceed := make(chan struct{})

	opener := func(ctx context.Context, channelID string) (session.Connection, error) {
		started <- struct{}{}
		<-proceed
		return &fakeHandle{}, nil
	}

	var wg sync.WaitGroup
	for _, guildID := range []string{"g1", "g2"} {
		wg.Add(1)
		go func(guildID string) {
			defer wg.Done()
			g.HandleJoin(context.Background(), guildID, "vc", "u1", opener)
		}(guildID)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(150 * time.Millisecond):
			t.Fatal("second guild's join was blocked by the first")
		}
	}
	close(proceed)
	wg.Wait()

	if got := g.Registry().Count(); got != 2 {
		t.Errorf("registry has %d sessions, want 2", got)
	}
}

func TestGateLeaveWithoutSession(t *testing.T) {
	g := newTestGate()
	h := &handles{}
	g.HandleJoin(context.Background(), "other", "vc", "u1", h.opener())

	out := g.HandleLeave(context.Background(), "g1")
	if out.Result != NotInChannel {
		t.Fatalf("Result = %s, want %s", out.Result, NotInChannel)
	}
	if out.Changed() {
		t.Error("NotInChannel must not report a change")
	}
	if got := g.Registry().Count(); got != 1 {
		t.Errorf("registry count = %d, leave must not mutate other guilds", got)
	}
}

func TestGatePlayBeforeJoin(t *testing.T) {
	g := newTestGate()
	h := &handles{}

	out := g.HandlePlay(context.Background(), "g1", "http://radio", h.attacher())
	if out.Result != NotInChannel {
		t.Fatalf("Result = %s, want %s", out.Result, NotInChannel)
	}
	if len(h.streams) != 0 {
		t.Error("attacher must not run without a session")
	}
}

func TestGatePlayStreamUnavailable(t *testing.T) {
	g := newTestGate()
	h := &handles{}
	g.HandleJoin(context.Background(), "g1", "vc1", "u1", h.opener())

	out := g.HandlePlay(context.Background(), "g1", "http://radio", failingAttacher)
	if out.Result != StreamUnavailable {
		t.Fatalf("Result = %s, want %s", out.Result, StreamUnavailable)
	}
	if !errors.Is(out.Err, ErrStreamUnavailable) {
		t.Errorf("Err = %v, want ErrStreamUnavailable", out.Err)
	}
	s, _ := g.Registry().Get("g1")
	if s.Status != session.Connected {
		t.Errorf("Status = %s, failed play must leave the session Connected", s.Status)
	}
}

func TestGatePlayWhileConnecting(t *testing.T) {
	g := newTestGate()
	h := &handles{}
	g.Registry().Insert(session.VoiceSession{GuildID: "g1", Connection: &fakeHandle{}})

	out := g.HandlePlay(context.Background(), "g1", "http://radio", h.attacher())
	if out.Result != NotConnected {
		t.Fatalf("Result = %s, want %s", out.Result, NotConnected)
	}
	if len(h.streams) != 0 {
		t.Error("attacher must not run before the session is connected")
	}
}

func TestGateConnectionDropped(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}
	g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener())
	g.HandlePlay(ctx, "g1", "http://radio", h.attacher())

	if _, ok := g.OnConnectionDropped("g1"); !ok {
		t.Fatal("OnConnectionDropped did not find the session")
	}
	if out := g.HandleLeave(ctx, "g1"); out.Result != NotInChannel {
		t.Fatalf("leave after drop = %s, want %s", out.Result, NotInChannel)
	}
	if h.connections[0].closed.Load() != 1 || h.streams[0].closed.Load() != 1 {
		t.Errorf("release counts conn=%d stream=%d, want 1 each",
			h.connections[0].closed.Load(), h.streams[0].closed.Load())
	}
	if _, ok := g.OnConnectionDropped("g1"); ok {
		t.Error("second drop notification should be a no-op")
	}
}

func TestGateDropDuringAttach(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}
	g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener())

	stream := &fakeHandle{}
	attacher := func(ctx context.Context, conn session.Connection, radioURL string) (session.Stream, error) {
		g.OnConnectionDropped("g1")
		return stream, nil
	}

	out := g.HandlePlay(ctx, "g1", "http://radio", attacher)
	if out.Result != NotInChannel {
		t.Fatalf("Result = %s, want %s", out.Result, NotInChannel)
	}
	if stream.closed.Load() != 1 {
		t.Errorf("orphaned stream closed %d times, want 1", stream.closed.Load())
	}
}

func TestGateStreamEndAllowsReplay(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}
	g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener())
	played := g.HandlePlay(ctx, "g1", "http://radio", h.attacher())

	if _, ok := g.OnStreamEnded("g1", played.Session.Stream); !ok {
		t.Fatal("OnStreamEnded did not detach the stream")
	}
	s, _ := g.Registry().Get("g1")
	if s.Status != session.Connected {
		t.Fatalf("Status = %s, want %s", s.Status, session.Connected)
	}

	if _, ok := g.OnStreamEnded("g1", played.Session.Stream); ok {
		t.Error("duplicate end notification should be ignored")
	}
	if out := g.HandlePlay(ctx, "g1", "http://radio", h.attacher()); out.Result != Playing {
		t.Fatalf("replay Result = %s, want %s", out.Result, Playing)
	}
	if h.streams[0].closed.Load() != 1 {
		t.Errorf("ended stream closed %d times, want 1", h.streams[0].closed.Load())
	}
}

func TestGateStreamEndDuringAttachAppliedAfterward(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}
	g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener())

	stream := &fakeHandle{}
	ended := make(chan bool, 1)
	attacher := func(ctx context.Context, conn session.Connection, radioURL string) (session.Stream, error) {
		// the source dies before the registry has seen the stream
		go func() {
			_, ok := g.OnStreamEnded("g1", stream)
			ended <- ok
		}()
		return stream, nil
	}

	if out := g.HandlePlay(ctx, "g1", "http://radio", attacher); out.Result != Playing {
		t.Fatalf("Result = %s, want %s", out.Result, Playing)
	}

	select {
	case ok := <-ended:
		if !ok {
			t.Fatal("end notification was dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("end notification never applied")
	}

	s, _ := g.Registry().Get("g1")
	if s.Status != session.Connected || s.Stream != nil {
		t.Errorf("session = %s with stream %v, want connected without stream", s.Status, s.Stream)
	}
	if stream.closed.Load() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.closed.Load())
	}
}

func TestGateStop(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}

	if out := g.HandleStop(ctx, "g1"); out.Result != NotInChannel {
		t.Fatalf("stop without session = %s, want %s", out.Result, NotInChannel)
	}

	g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener())
	if out := g.HandleStop(ctx, "g1"); out.Result != NotPlaying {
		t.Fatalf("stop while connected = %s, want %s", out.Result, NotPlaying)
	}

	g.HandlePlay(ctx, "g1", "http://radio", h.attacher())
	out := g.HandleStop(ctx, "g1")
	if out.Result != Stopped {
		t.Fatalf("stop while playing = %s, want %s", out.Result, Stopped)
	}
	if out.Session.Status != session.Connected {
		t.Errorf("Status = %s, want %s", out.Session.Status, session.Connected)
	}
	if h.streams[0].closed.Load() != 1 || h.connections[0].closed.Load() != 0 {
		t.Error("stop must release the stream and keep the connection")
	}
}

func TestGateLockWaitHonoursContext(t *testing.T) {
	g := newTestGate()
	unlock, err := g.locks.Lock(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if out := g.HandleLeave(ctx, "g1"); out.Result != Busy {
		t.Errorf("Result = %s, want %s", out.Result, Busy)
	}
}

func TestKeyedMutexCleansUp(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "g1")
			if err != nil {
				t.Error(err)
				return
			}
			unlock()
			unlock()
		}()
	}
	wg.Wait()

	if got := k.size(); got != 0 {
		t.Errorf("keyedMutex holds %d entries after all unlocks, want 0", got)
	}
}

func TestGateChannelMoved(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	h := &handles{}

	if _, ok := g.OnChannelMoved("g1", "vc2"); ok {
		t.Error("move without a session should be ignored")
	}

	g.HandleJoin(ctx, "g1", "vc1", "u1", h.opener())
	moved, ok := g.OnChannelMoved("g1", "vc2")
	if !ok || moved.ChannelID != "vc2" {
		t.Fatalf("OnChannelMoved = %+v, %v", moved, ok)
	}
	if out := g.HandleJoin(ctx, "g1", "vc2", "u1", h.opener()); out.Result != AlreadyConnected || out.Session.ChannelID != "vc2" {
		t.Errorf("join after move = %s in %s", out.Result, out.Session.ChannelID)
	}
}
