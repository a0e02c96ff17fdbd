package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/playsync/internal/protocol"
	"github.com/sharetube/playsync/internal/registry"
	"github.com/sharetube/playsync/internal/repository/room"
	roomRedis "github.com/sharetube/playsync/internal/repository/room/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	registry   *registry.Registry
	controller *Controller
	redis      *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithRepo(t, nil)
}

// newTestServerWithRepo wraps the miniredis backed repo when wrap is set.
func newTestServerWithRepo(t *testing.T, wrap func(iRoomRepo) iRoomRepo) *testServer {
	t.Helper()

	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	var repo iRoomRepo = roomRedis.NewRepo(rc, time.Hour, slog.Default())
	if wrap != nil {
		repo = wrap(repo)
	}

	reg := registry.New(nil, slog.Default())
	c := NewController(reg, repo, &Config{
		SendBuffer:     16,
		MaxMessageSize: 4096,
		WriteTimeout:   time.Second,
		PongWait:       time.Minute,
		StoreTimeout:   time.Second,
	}, slog.Default())

	srv := httptest.NewServer(c.GetMux())
	t.Cleanup(func() {
		c.Close()
		srv.Close()
	})

	return &testServer{Server: srv, registry: reg, controller: c, redis: s}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })

	return ws
}

func send(t *testing.T, ws *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(env))
}

func read(t *testing.T, ws *websocket.Conn) protocol.Envelope {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env protocol.Envelope
	require.NoError(t, ws.ReadJSON(&env))

	return env
}

func joinRoom(t *testing.T, ws *websocket.Conn, roomId, userId string) protocol.Envelope {
	t.Helper()

	send(t, ws, protocol.Envelope{Type: protocol.TypeJoin, RoomId: roomId, UserId: userId})
	reply := read(t, ws)
	require.Equal(t, protocol.TypeUserJoined, reply.Type)
	require.NotEmpty(t, reply.ConnectionId)
	require.NotNil(t, reply.State)

	return reply
}

func stateUpdate(roomId string, version int64, currentTime float64, playing bool) protocol.Envelope {
	return protocol.Envelope{
		Type:   protocol.TypeStateUpdate,
		RoomId: roomId,
		State: &protocol.RoomState{
			RoomId:       roomId,
			CurrentTime:  currentTime,
			IsPlaying:    playing,
			PlaybackRate: 1,
			Version:      version,
		},
	}
}

func TestGateway_JoinReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)

	reply := joinRoom(t, a, "room1", "alice")

	assert.Equal(t, "room1", reply.RoomId)
	assert.Equal(t, "alice", reply.UserId)
	assert.Equal(t, protocol.NewRoomState("room1"), *reply.State)
	assert.Nil(t, reply.Room)
}

func TestGateway_JoinIncludesRoomInfo(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, s.URL+"/api/v1/rooms/room1",
		strings.NewReader(`{"name":"movie night","ownerId":"alice","videoUrl":"https://example.com/a.m3u8"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reply := joinRoom(t, s.dial(t), "room1", "bob")

	require.NotNil(t, reply.Room)
	assert.Equal(t, "movie night", reply.Room.Name)
	assert.Equal(t, "alice", reply.Room.OwnerId)
}

type blockingRepo struct {
	iRoomRepo
	mu      sync.Mutex
	blocked bool
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRepo) block() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = true
}

func (r *blockingRepo) GetInfo(ctx context.Context, roomId string) (room.Info, error) {
	r.mu.Lock()
	blocked := r.blocked
	r.blocked = false
	r.mu.Unlock()

	if blocked {
		close(r.entered)
		<-r.release
	}

	return r.iRoomRepo.GetInfo(ctx, roomId)
}

func TestGateway_JoinSnapshotIsNeverOlderThanLaterUpdates(t *testing.T) {
	repo := &blockingRepo{entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestServerWithRepo(t, func(inner iRoomRepo) iRoomRepo {
		repo.iRoomRepo = inner
		return repo
	})

	a := s.dial(t)
	joinRoom(t, a, "room1", "alice")
	send(t, a, stateUpdate("room1", 5, 10, true))
	require.Eventually(t, func() bool {
		state, _ := s.registry.State("room1")
		return state.Version == 5
	}, 2*time.Second, 10*time.Millisecond)

	repo.block()
	b := s.dial(t)
	send(t, b, protocol.Envelope{Type: protocol.TypeJoin, RoomId: "room1", UserId: "bob"})
	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("join never reached the room store")
	}

	send(t, a, stateUpdate("room1", 6, 20, false))
	require.Eventually(t, func() bool {
		state, _ := s.registry.State("room1")
		return state.Version == 6
	}, 2*time.Second, 10*time.Millisecond)
	close(repo.release)

	first := read(t, b)
	require.Equal(t, protocol.TypeUserJoined, first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, int64(6), first.State.Version)
	assert.False(t, first.State.IsPlaying)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var extra protocol.Envelope
	assert.Error(t, b.ReadJSON(&extra), "no update may follow the snapshot")
}

func TestGateway_RejoinSameRoomResendsSnapshot(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)
	first := joinRoom(t, a, "room1", "alice")

	send(t, a, stateUpdate("room1", 4, 7, true))
	require.Eventually(t, func() bool {
		state, _ := s.registry.State("room1")
		return state.Version == 4
	}, 2*time.Second, 10*time.Millisecond)

	second := joinRoom(t, a, "room1", "alice")

	assert.Equal(t, first.ConnectionId, second.ConnectionId)
	assert.Equal(t, int64(4), second.State.Version)
	assert.Equal(t, registry.Stats{Rooms: 1, Sessions: 1}, s.registry.Stats())
}

func TestGateway_JoinSucceedsWhenStoreIsDown(t *testing.T) {
	s := newTestServer(t)
	s.redis.Close()

	reply := joinRoom(t, s.dial(t), "room1", "alice")
	assert.Nil(t, reply.Room)
}

func TestGateway_UpdateFanOutWithoutSelfEcho(t *testing.T) {
	s := newTestServer(t)
	a, b := s.dial(t), s.dial(t)

	aJoin := joinRoom(t, a, "room1", "alice")
	bJoin := joinRoom(t, b, "room1", "bob")

	joined := read(t, a)
	assert.Equal(t, protocol.TypeUserJoined, joined.Type)
	assert.Equal(t, bJoin.ConnectionId, joined.ConnectionId)

	send(t, a, stateUpdate("room1", 5, 120, true))

	got := read(t, b)
	require.Equal(t, protocol.TypeStateUpdate, got.Type)
	assert.Equal(t, int64(5), got.State.Version)
	assert.Equal(t, 120.0, got.State.CurrentTime)
	assert.True(t, got.State.IsPlaying)
	assert.Equal(t, aJoin.ConnectionId, got.State.LastUpdatedBy)

	// if a had received its own update it would be read here first
	send(t, b, stateUpdate("room1", 6, 121, false))
	got = read(t, a)
	require.Equal(t, protocol.TypeStateUpdate, got.Type)
	assert.Equal(t, int64(6), got.State.Version)
	assert.Equal(t, bJoin.ConnectionId, got.State.LastUpdatedBy)
}

func TestGateway_StaleUpdateIsDropped(t *testing.T) {
	s := newTestServer(t)
	a, b := s.dial(t), s.dial(t)
	joinRoom(t, a, "room1", "alice")
	joinRoom(t, b, "room1", "bob")
	read(t, a)

	send(t, a, stateUpdate("room1", 5, 120, true))
	send(t, a, stateUpdate("room1", 3, 10, false))
	send(t, a, stateUpdate("room1", 5, 120, true))
	send(t, a, stateUpdate("room1", 7, 130, true))

	assert.Equal(t, int64(5), read(t, b).State.Version)
	assert.Equal(t, int64(7), read(t, b).State.Version)

	state, ok := s.registry.State("room1")
	require.True(t, ok)
	assert.Equal(t, int64(7), state.Version)
}

func TestGateway_LateJoinerGetsCurrentState(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)
	joinRoom(t, a, "room1", "alice")
	send(t, a, stateUpdate("room1", 5, 120, true))

	assert.Eventually(t, func() bool {
		state, _ := s.registry.State("room1")
		return state.Version == 5
	}, time.Second, 10*time.Millisecond)

	reply := joinRoom(t, s.dial(t), "room1", "bob")
	assert.Equal(t, int64(5), reply.State.Version)
	assert.Equal(t, 120.0, reply.State.CurrentTime)
}

func TestGateway_MalformedInputKeepsConnection(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "bad json", frame: `{"type":`},
		{name: "unknown type", frame: `{"type":"SHRUG","roomId":"room1"}`},
		{name: "server only type", frame: `{"type":"USER_LEFT","roomId":"room1"}`},
		{name: "missing room", frame: `{"type":"JOIN","userId":"alice"}`},
		{name: "wildcard room id", frame: `{"type":"JOIN","roomId":"rooms.*","userId":"alice"}`},
		{name: "join without user", frame: `{"type":"JOIN","roomId":"room1"}`},
		{name: "update without state", frame: `{"type":"STATE_UPDATE","roomId":"room1"}`},
		{name: "update before join", frame: `{"type":"STATE_UPDATE","roomId":"room1","state":{"currentTime":1,"playbackRate":1,"version":1}}`},
		{name: "non positive rate", frame: `{"type":"STATE_UPDATE","roomId":"room1","state":{"currentTime":1,"playbackRate":0,"version":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			ws := s.dial(t)

			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			reply := read(t, ws)
			assert.Equal(t, protocol.TypeError, reply.Type)
			assert.NotEmpty(t, reply.Error)

			joinRoom(t, ws, "room1", "alice")
		})
	}
}

func TestGateway_UpdateForOtherRoomIsRejected(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)
	joinRoom(t, a, "room1", "alice")

	send(t, a, stateUpdate("room2", 1, 0, true))

	reply := read(t, a)
	assert.Equal(t, protocol.TypeError, reply.Type)
	_, ok := s.registry.State("room2")
	assert.False(t, ok)
}

func TestGateway_DisconnectLeavesExactlyOnce(t *testing.T) {
	s := newTestServer(t)
	a, b := s.dial(t), s.dial(t)
	joinRoom(t, a, "room1", "alice")
	bJoin := joinRoom(t, b, "room1", "bob")
	read(t, a)

	require.NoError(t, b.Close())

	left := read(t, a)
	assert.Equal(t, protocol.TypeUserLeft, left.Type)
	assert.Equal(t, bJoin.ConnectionId, left.ConnectionId)
	assert.Equal(t, "bob", left.UserId)

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool {
		return s.registry.Stats() == registry.Stats{}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ExplicitLeaveThenDisconnect(t *testing.T) {
	s := newTestServer(t)
	a, b := s.dial(t), s.dial(t)
	joinRoom(t, a, "room1", "alice")
	joinRoom(t, b, "room1", "bob")
	read(t, a)

	send(t, b, protocol.Envelope{Type: protocol.TypeLeave, RoomId: "room1"})
	assert.Equal(t, protocol.TypeUserLeft, read(t, a).Type)

	// leaving an unknown room is a silent no-op
	send(t, b, protocol.Envelope{Type: protocol.TypeLeave, RoomId: "room1"})
	require.NoError(t, b.Close())

	send(t, a, stateUpdate("room1", 2, 0, true))
	assert.Eventually(t, func() bool {
		state, _ := s.registry.State("room1")
		return state.Version == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, registry.Stats{Rooms: 1, Sessions: 1}, s.registry.Stats())
}

func TestGateway_JoinAnotherRoomLeavesCurrent(t *testing.T) {
	s := newTestServer(t)
	a, b := s.dial(t), s.dial(t)
	joinRoom(t, a, "room1", "alice")
	bFirst := joinRoom(t, b, "room1", "bob")
	read(t, a)

	bSecond := joinRoom(t, b, "room2", "bob")
	assert.Equal(t, bFirst.ConnectionId, bSecond.ConnectionId, "connection id is stable for the connection")

	left := read(t, a)
	assert.Equal(t, protocol.TypeUserLeft, left.Type)
	assert.Equal(t, registry.Stats{Rooms: 2, Sessions: 2}, s.registry.Stats())
}

func TestGateway_ControllerCloseTearsDownSessions(t *testing.T) {
	s := newTestServer(t)
	joinRoom(t, s.dial(t), "room1", "alice")
	joinRoom(t, s.dial(t), "room2", "bob")

	s.controller.Close()

	assert.Eventually(t, func() bool {
		return s.registry.Stats() == registry.Stats{}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRest_Room(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/api/v1/rooms/room1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ws := s.dial(t)
	joinRoom(t, ws, "room1", "alice")

	resp, err = http.Get(s.URL + "/api/v1/rooms/room1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data roomResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Nil(t, body.Data.Room)
	require.NotNil(t, body.Data.State)
	assert.Equal(t, "room1", body.Data.State.RoomId)
	require.Len(t, body.Data.Members, 1)
	assert.Equal(t, "alice", body.Data.Members[0].UserId)
}

func TestRest_PutRoomValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "ok", body: `{"name":"a","ownerId":"alice"}`, wantStatus: http.StatusOK},
		{name: "missing name", body: `{"ownerId":"alice"}`, wantStatus: http.StatusBadRequest},
		{name: "bad url", body: `{"name":"a","ownerId":"alice","videoUrl":"nope"}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{"name":`, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPut, s.URL+"/api/v1/rooms/room1", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	info, err := roomRedis.NewRepo(redis.NewClient(&redis.Options{Addr: s.redis.Addr()}), time.Hour, slog.Default()).
		GetInfo(context.Background(), "room1")
	require.NoError(t, err)
	assert.Equal(t, room.Info{Name: "a", OwnerId: "alice", CreatedAt: info.CreatedAt}, info)
}

func TestRest_DeleteRoom(t *testing.T) {
	s := newTestServer(t)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, s.URL+"/api/v1/rooms/room1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, del())

	req, err := http.NewRequest(http.MethodPut, s.URL+"/api/v1/rooms/room1",
		strings.NewReader(`{"name":"movie night","ownerId":"alice"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNoContent, del())
	assert.False(t, s.redis.Exists("room:room1:info"))
}

func TestRest_HealthzAndStats(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/api/v1/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	joinRoom(t, s.dial(t), "room1", "alice")

	resp, err = http.Get(s.URL + "/api/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats struct {
		Data registry.Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, registry.Stats{Rooms: 1, Sessions: 1}, stats.Data)
}
