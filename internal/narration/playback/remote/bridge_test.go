package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/playback"
	"audiodesc/internal/narration/session"
	"audiodesc/internal/narration/tts"

	"github.com/gorilla/websocket"
)

type fakeAttacher struct {
	mu       sync.Mutex
	player   playback.Player
	track    *cue.Track
	attrs    session.Attributes
	sess     *session.Session
	toggles  int
	detached []string
	attached chan struct{}
}

func newFakeAttacher() *fakeAttacher {
	return &fakeAttacher{attached: make(chan struct{})}
}

func (f *fakeAttacher) Attach(ctx context.Context, p playback.Player, track *cue.Track, attrs session.Attributes) (*session.Session, error) {
	s, err := session.New(session.Params{
		Player:     p,
		Track:      track,
		Attributes: attrs,
		Engine:     tts.NewMockEngine(tts.MockConfig{}),
	})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.player, f.track, f.attrs, f.sess = p, track, attrs, s
	f.mu.Unlock()
	close(f.attached)
	return s, nil
}

func (f *fakeAttacher) Detach(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, id)
}

func (f *fakeAttacher) Toggle(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	on := !f.sess.Enabled()
	f.sess.SetEnabled(on)
	return on, nil
}

func (f *fakeAttacher) detachedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detached...)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg, err := encode(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func connect(t *testing.T, kind string) (*fakeAttacher, *websocket.Conn, *Player) {
	t.Helper()
	attacher := newFakeAttacher()
	srv := httptest.NewServer(NewBridge(attacher, nil))
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	t.Cleanup(func() { conn.Close() })

	vol := 0.7
	write(t, conn, TypeHello, Hello{
		ID:   "video-1",
		Kind: kind,
		Cues: []cue.Cue{{Start: 2, Text: "later"}, {Start: 1, Text: "first", Pause: true}},
		Attributes: session.Attributes{
			HasDuck:   true,
			DuckLevel: "0.3",
		},
		State: &State{Time: 0.5, Paused: true, Volume: &vol, Ready: true},
	})

	if msg := read(t, conn); msg.Type != TypeStatus {
		t.Fatalf("first reply = %s, want status", msg.Type)
	}
	<-attacher.attached

	attacher.mu.Lock()
	player := attacher.player.(*Player)
	attacher.mu.Unlock()
	return attacher, conn, player
}

func TestBridgeAttachesPlayer(t *testing.T) {
	attacher, _, player := connect(t, "YouTube")
	ctx := context.Background()

	if player.ID() != "video-1" || player.Kind() != playback.KindYouTube {
		t.Errorf("player = %s/%s", player.ID(), player.Kind())
	}
	if attacher.track.Len() != 2 || attacher.track.At(0).Text != "first" {
		t.Errorf("track not ordered: %+v", attacher.track.Cues())
	}
	if !attacher.attrs.HasDuck || attacher.attrs.DuckLevel != "0.3" {
		t.Errorf("attrs = %+v", attacher.attrs)
	}
	if now, err := player.CurrentTime(ctx); err != nil || now != 0.5 {
		t.Errorf("CurrentTime = %v, %v", now, err)
	}
	if v, err := player.Volume(ctx); err != nil || v != 0.7 {
		t.Errorf("Volume = %v, %v", v, err)
	}
	if player.CueChanges() != nil {
		t.Error("youtube player offers cue notifications")
	}
}

func TestBridgeForwardsCommands(t *testing.T) {
	_, conn, player := connect(t, "vimeo")
	ctx := context.Background()

	if err := player.Control(ctx, playback.ActionPause); err != nil {
		t.Fatalf("Control: %v", err)
	}
	msg := read(t, conn)
	var ctl ControlPayload
	json.Unmarshal(msg.Payload, &ctl)
	if msg.Type != TypeControl || ctl.Action != "pause" {
		t.Errorf("got %s %+v, want control pause", msg.Type, ctl)
	}

	if err := player.SetVolume(ctx, 0.25); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	msg = read(t, conn)
	var vol VolumePayload
	json.Unmarshal(msg.Payload, &vol)
	if msg.Type != TypeVolume || vol.Volume != 0.25 {
		t.Errorf("got %s %+v, want volume 0.25", msg.Type, vol)
	}
	if v, _ := player.Volume(ctx); v != 0.25 {
		t.Errorf("mirrored volume = %v", v)
	}

	if err := player.SwitchSource(ctx, "described.mp4", 12, true); err != nil {
		t.Fatalf("SwitchSource: %v", err)
	}
	msg = read(t, conn)
	var src SourcePayload
	json.Unmarshal(msg.Payload, &src)
	if msg.Type != TypeSource || src != (SourcePayload{Source: "described.mp4", At: 12, Paused: true}) {
		t.Errorf("got %s %+v", msg.Type, src)
	}
}

func TestBridgeStateAndPing(t *testing.T) {
	_, conn, player := connect(t, "youtube")
	ctx := context.Background()

	write(t, conn, TypeState, State{Time: 42, Paused: true, Ready: true})
	write(t, conn, TypePing, nil)
	if msg := read(t, conn); msg.Type != TypePong {
		t.Fatalf("reply = %s, want pong", msg.Type)
	}

	// state was handled before the ping
	if now, _ := player.CurrentTime(ctx); now != 42 {
		t.Errorf("CurrentTime = %v, want 42", now)
	}
	if v, _ := player.Volume(ctx); v != 0.7 {
		t.Errorf("volume lost on report without volume: %v", v)
	}

	write(t, conn, TypeState, State{Ready: false})
	write(t, conn, TypePing, nil)
	read(t, conn)
	if _, err := player.CurrentTime(ctx); err != playback.ErrNotReady {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestBridgeNativeCues(t *testing.T) {
	_, conn, player := connect(t, "html5")

	write(t, conn, TypeCue, cue.Cue{Start: 1, Text: "first"})
	select {
	case c := <-player.CueChanges():
		if c.Text != "first" {
			t.Errorf("cue = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cue change not forwarded")
	}
}

func TestBridgeToggleAndDetach(t *testing.T) {
	attacher, conn, _ := connect(t, "youtube")

	write(t, conn, TypeToggle, nil)
	msg := read(t, conn)
	var st session.Status
	json.Unmarshal(msg.Payload, &st)
	if msg.Type != TypeStatus || !st.Enabled {
		t.Errorf("reply %s %+v, want enabled status", msg.Type, st)
	}

	write(t, conn, "bogus", nil)
	if msg := read(t, conn); msg.Type != TypeError {
		t.Errorf("reply = %s, want error", msg.Type)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(attacher.detachedIDs()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := attacher.detachedIDs(); len(got) != 1 || got[0] != "video-1" {
		t.Errorf("detached = %v", got)
	}
}

func TestBridgeRejectsBadHello(t *testing.T) {
	srv := httptest.NewServer(NewBridge(newFakeAttacher(), nil))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	write(t, conn, TypeHello, Hello{ID: "x", Kind: "flash"})
	if msg := read(t, conn); msg.Type != TypeError {
		t.Errorf("reply = %s, want error", msg.Type)
	}
}

func TestBridgeOriginCheck(t *testing.T) {
	srv := httptest.NewServer(NewBridge(newFakeAttacher(), []string{"https://videos.example.org"}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("foreign origin accepted")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	header = http.Header{"Origin": []string{"https://videos.example.org/"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
