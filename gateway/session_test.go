package main

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hothouse-labs/hothouse/pkg/protocol"
	"github.com/hothouse-labs/hothouse/pkg/secure"
)

const testPassword = "orchard-pass"

type fakeSessionStore struct {
	mu         sync.Mutex
	upserts    map[string]string
	upsertErr  error
	touched    []string
	batches    []map[string]int
	batchUUIDs []string
	batchErr   error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{upserts: make(map[string]string)}
}

func (f *fakeSessionStore) UpsertDevice(uuid, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts[uuid] = name
	return nil
}

func (f *fakeSessionStore) TouchLastCommunication(uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, uuid)
	return nil
}

func (f *fakeSessionStore) UpsertReadingBatch(deviceUUID string, values map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batchUUIDs = append(f.batchUUIDs, deviceUUID)
	copied := make(map[string]int, len(values))
	for k, v := range values {
		copied[k] = v
	}
	f.batches = append(f.batches, copied)
	return nil
}

func (f *fakeSessionStore) upsertFor(uuid string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.upserts[uuid]
	return name, ok
}

func (f *fakeSessionStore) lastBatch() (string, map[string]int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return "", nil, false
	}
	return f.batchUUIDs[len(f.batchUUIDs)-1], f.batches[len(f.batches)-1], true
}

type fakeEvaluator struct {
	mu      sync.Mutex
	batch   protocol.CommandBatch
	targets []string
}

func (f *fakeEvaluator) Evaluate(targetUUID string) protocol.CommandBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, targetUUID)
	return f.batch
}

func startTestServer(t *testing.T, store SessionStore, engine RuleEvaluator) (string, *protocol.Codec) {
	t.Helper()
	box, err := secure.NewBox("session-test-secret")
	require.NoError(t, err)
	codec := protocol.NewCodec(box)

	srv := NewServer("127.0.0.1:0", testPassword, codec, store, engine, zerolog.Nop())
	require.NoError(t, srv.Listen())
	t.Cleanup(srv.Shutdown)
	return srv.Addr().String(), codec
}

func dialTest(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestSessionRejectsWrongCredentialSilently(t *testing.T) {
	store := newFakeSessionStore()
	addr, codec := startTestServer(t, store, &fakeEvaluator{})

	conn := dialTest(t, addr)
	require.NoError(t, codec.WriteJSON(conn, protocol.Credential{Password: "wrong"}))

	// No reply of any kind: the next read sees the peer hang up.
	var reply protocol.AuthReply
	err := codec.ReadJSON(conn, &reply)
	require.Error(t, err)
	if _, ok := store.upsertFor(""); ok {
		t.Fatal("no device must be recorded for a rejected credential")
	}
}

func TestSessionRegistersUnknownDevice(t *testing.T) {
	store := newFakeSessionStore()
	addr, codec := startTestServer(t, store, &fakeEvaluator{})

	conn := dialTest(t, addr)
	require.NoError(t, codec.WriteJSON(conn, protocol.Credential{Password: testPassword}))
	require.NoError(t, codec.WriteJSON(conn, protocol.Identity{DeviceName: "vent-1", UUID: protocol.NoUUID}))

	var reply protocol.AuthReply
	require.NoError(t, codec.ReadJSON(conn, &reply))
	require.Equal(t, protocol.StatusRegistered, reply.Status)
	require.NotEmpty(t, reply.UUID)
	require.NotEqual(t, protocol.NoUUID, reply.UUID)

	name, ok := store.upsertFor(reply.UUID)
	require.True(t, ok, "registration must create the device record")
	require.Equal(t, "vent-1", name)
}

func TestSessionAuthorizesKnownDevice(t *testing.T) {
	store := newFakeSessionStore()
	addr, codec := startTestServer(t, store, &fakeEvaluator{})

	conn := dialTest(t, addr)
	require.NoError(t, codec.WriteJSON(conn, protocol.Credential{Password: testPassword}))
	require.NoError(t, codec.WriteJSON(conn, protocol.Identity{DeviceName: "vent-1", UUID: "existing-uuid"}))

	var reply protocol.AuthReply
	require.NoError(t, codec.ReadJSON(conn, &reply))
	require.Equal(t, protocol.StatusAuthorized, reply.Status)
	require.Empty(t, reply.UUID)

	if _, ok := store.upsertFor("existing-uuid"); ok {
		t.Fatal("a known device must not be rewritten at login")
	}
}

func TestSessionCycleStoresReadingsAndReplies(t *testing.T) {
	store := newFakeSessionStore()
	engine := &fakeEvaluator{batch: protocol.CommandBatch{Delay: 5, Commands: []string{"OPEN"}}}
	addr, codec := startTestServer(t, store, engine)

	conn := dialTest(t, addr)
	require.NoError(t, codec.WriteJSON(conn, protocol.Credential{Password: testPassword}))
	require.NoError(t, codec.WriteJSON(conn, protocol.Identity{DeviceName: "sensor-1", UUID: "sensor-uuid"}))
	var reply protocol.AuthReply
	require.NoError(t, codec.ReadJSON(conn, &reply))

	require.NoError(t, codec.WriteJSON(conn, protocol.Snapshot{"state": 0, "temperature": 30}))
	var batch protocol.CommandBatch
	require.NoError(t, codec.ReadJSON(conn, &batch))
	require.Equal(t, 5, batch.Delay)
	require.Equal(t, []string{"OPEN"}, batch.Commands)

	uuid, values, ok := store.lastBatch()
	require.True(t, ok)
	require.Equal(t, "sensor-uuid", uuid)
	require.Equal(t, map[string]int{"temperature": 30}, values, "the state field never reaches the store")
}

func TestSessionRepliesWhenStoreFails(t *testing.T) {
	store := newFakeSessionStore()
	store.batchErr = errors.New("disk full")
	engine := &fakeEvaluator{batch: protocol.CommandBatch{Delay: 10}}
	addr, codec := startTestServer(t, store, engine)

	conn := dialTest(t, addr)
	require.NoError(t, codec.WriteJSON(conn, protocol.Credential{Password: testPassword}))
	require.NoError(t, codec.WriteJSON(conn, protocol.Identity{DeviceName: "sensor-1", UUID: "sensor-uuid"}))
	var reply protocol.AuthReply
	require.NoError(t, codec.ReadJSON(conn, &reply))

	require.NoError(t, codec.WriteJSON(conn, protocol.Snapshot{"temperature": 30}))
	var batch protocol.CommandBatch
	require.NoError(t, codec.ReadJSON(conn, &batch), "a store failure must not cost the device its reply")
	require.Equal(t, 10, batch.Delay)
}

func TestServerShutdownDrainsSessions(t *testing.T) {
	store := newFakeSessionStore()
	box, err := secure.NewBox("session-test-secret")
	require.NoError(t, err)
	codec := protocol.NewCodec(box)

	srv := NewServer("127.0.0.1:0", testPassword, codec, store, &fakeEvaluator{}, zerolog.Nop())
	require.NoError(t, srv.Listen())
	addr := srv.Addr().String()

	conn := dialTest(t, addr)
	require.NoError(t, codec.WriteJSON(conn, protocol.Credential{Password: testPassword}))
	require.NoError(t, codec.WriteJSON(conn, protocol.Identity{DeviceName: "vent-1", UUID: "v"}))
	var reply protocol.AuthReply
	require.NoError(t, codec.ReadJSON(conn, &reply))

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not drain the open session")
	}

	var batch protocol.CommandBatch
	require.Error(t, codec.ReadJSON(conn, &batch), "the socket must be closed after shutdown")
}
