// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chorus-foundation/chorus/lib/clock"
)

// fakeTransport collects sent envelopes.
type fakeTransport struct {
	mu   sync.Mutex
	sent []Envelope
}

func (t *fakeTransport) Send(_ context.Context, env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) all() []Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Envelope(nil), t.sent...)
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// lastOfKind returns the most recent sent envelope of the given kind.
func (t *fakeTransport) lastOfKind(kind Kind) (Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sent) - 1; i >= 0; i-- {
		if t.sent[i].Kind == kind {
			return t.sent[i], true
		}
	}
	return Envelope{}, false
}

func (t *fakeTransport) countOfKind(kind Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, env := range t.sent {
		if env.Kind == kind {
			n++
		}
	}
	return n
}

// fakeDatabase implements DatabaseStore in memory.
type fakeDatabase struct {
	mu          sync.Mutex
	data        []byte
	snapshotErr error
	replaceErr  error
	replaced    int
}

func (s *fakeDatabase) Snapshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	return append([]byte(nil), s.data...), nil
}

func (s *fakeDatabase) Replace(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.data = append([]byte(nil), data...)
	s.replaced++
	return nil
}

// fakeWorkspace implements WorkspaceStore in memory.
type fakeWorkspace struct {
	mu       sync.Mutex
	data     []byte
	applyErr error
	applied  int
}

func (s *fakeWorkspace) Snapshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...), nil
}

func (s *fakeWorkspace) Apply(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.data = append([]byte(nil), data...)
	s.applied++
	return nil
}

type testRig struct {
	coord     *Coordinator
	transport *fakeTransport
	database  *fakeDatabase
	workspace *fakeWorkspace
	clk       *clock.FakeClock
}

func newRig(t *testing.T, self InstanceID, version int) *testRig {
	t.Helper()
	rig := &testRig{
		transport: &fakeTransport{},
		database:  &fakeDatabase{data: []byte("db")},
		workspace: &fakeWorkspace{data: []byte("ws")},
		clk:       clock.Fake(time.Unix(1700000000, 0)),
	}
	c, err := New(Config{
		Self:      self,
		Version:   version,
		Transport: rig.transport,
		Database:  rig.database,
		Workspace: rig.workspace,
		Clock:     rig.clk,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rig.coord = c
	return rig
}

func (r *testRig) handle(t *testing.T, env Envelope) {
	t.Helper()
	if err := r.coord.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope(%+v): %v", env, err)
	}
}

// follow puts the rig into the follower role under the given master
// and registers extra peers, then clears the transport log.
func (r *testRig) follow(t *testing.T, master InstanceID, peers ...InstanceID) {
	t.Helper()
	r.handle(t, Envelope{From: master, To: r.coord.Self(), Kind: KindConnectAck, Payload: "0" + masterMarker})
	for _, peer := range peers {
		r.handle(t, Envelope{From: peer, To: Broadcast, Kind: KindConnect, Payload: "0"})
	}
	r.transport.reset()
}

func TestLoneInstancePromotesItself(t *testing.T) {
	rig := newRig(t, 1, 5)
	if err := rig.coord.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	announce, ok := rig.transport.lastOfKind(KindConnect)
	if !ok {
		t.Fatal("Connect sent nothing")
	}
	text, err := announce.EncodeText()
	if err != nil {
		t.Fatal(err)
	}
	if text != "1/-1/connect/5" {
		t.Errorf("announcement = %q, want %q", text, "1/-1/connect/5")
	}

	rig.clk.Advance(3 * time.Second)

	if got := rig.coord.Role(); got != RoleMaster {
		t.Errorf("role after silent promote timeout = %v, want master", got)
	}
	if !rig.coord.Initialized() {
		t.Error("self-promoted instance not initialized")
	}
	if master, ok := rig.coord.Master(); !ok || master != 1 {
		t.Errorf("master = %v, %v, want 1", master, ok)
	}
	if _, ok := rig.transport.lastOfKind(KindLetMaster); !ok {
		t.Error("no mastership claim broadcast")
	}
}

func TestMasterAckCancelsSelfPromotion(t *testing.T) {
	rig := newRig(t, 2, 5)
	if err := rig.coord.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rig.handle(t, Envelope{From: 1, To: 2, Kind: KindConnectAck, Payload: "5" + masterMarker})

	if got := rig.coord.Role(); got != RoleFollower {
		t.Errorf("role after master ack = %v, want follower", got)
	}
	if master, ok := rig.coord.Master(); !ok || master != 1 {
		t.Errorf("master = %v, %v, want 1", master, ok)
	}

	rig.clk.Advance(10 * time.Second)
	if got := rig.coord.Role(); got != RoleFollower {
		t.Errorf("role after timeout = %v, promotion timer was not cancelled", got)
	}
	if _, ok := rig.transport.lastOfKind(KindLetMaster); ok {
		t.Error("instance claimed mastership despite a live master")
	}
}

func TestFollowerAcksConnectWithoutMarker(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 3)

	rig.handle(t, Envelope{From: 1, To: Broadcast, Kind: KindConnect, Payload: "5"})

	ack, ok := rig.transport.lastOfKind(KindConnectAck)
	if !ok {
		t.Fatal("follower did not ack the announcement")
	}
	text, err := ack.EncodeText()
	if err != nil {
		t.Fatal(err)
	}
	if text != "2/1/connectack/5" {
		t.Errorf("ack = %q, want %q", text, "2/1/connectack/5")
	}
	if _, ok := rig.transport.lastOfKind(KindSendDB); ok {
		t.Error("follower replicated the database")
	}
}

func TestMasterAcksConnectWithMarkerAndReplicates(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.coord.selfPromote(context.Background())
	rig.transport.reset()

	rig.handle(t, Envelope{From: 1, To: Broadcast, Kind: KindConnect, Payload: "5"})

	ack, ok := rig.transport.lastOfKind(KindConnectAck)
	if !ok {
		t.Fatal("master did not ack the announcement")
	}
	if ack.To != 1 || ack.Payload != "5"+masterMarker {
		t.Errorf("ack = %+v, want directed marked ack", ack)
	}

	db, ok := rig.transport.lastOfKind(KindSendDB)
	if !ok {
		t.Fatal("master did not replicate the database")
	}
	if db.To != 1 || string(db.Blob) != "db" {
		t.Errorf("database replication = %+v", db)
	}

	ws, ok := rig.transport.lastOfKind(KindSendWorkspace)
	if !ok {
		t.Fatal("master did not replicate the workspace")
	}
	if ws.To != 1 || string(ws.Blob) != "ws" {
		t.Errorf("workspace replication = %+v", ws)
	}
}

func TestMessagesFromSelfAndOthersIgnored(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)

	// From self.
	rig.handle(t, Envelope{From: 2, To: Broadcast, Kind: KindConnect, Payload: "5"})
	// Directed to someone else.
	rig.handle(t, Envelope{From: 1, To: 3, Kind: KindConnect, Payload: "5"})

	if got := rig.transport.all(); len(got) != 0 {
		t.Errorf("filtered messages produced %d sends: %+v", len(got), got)
	}
}

func TestMasterExecutesAndBroadcastsConfirmation(t *testing.T) {
	rig := newRig(t, 1, 5)
	rig.coord.selfPromote(context.Background())
	rig.transport.reset()

	runs := 0
	err := rig.coord.EnsureDisplay(context.Background(), func(context.Context) (any, error) {
		runs++
		return 42, nil
	}, DisplayOptions{ReturnName: "x"})
	if err != nil {
		t.Fatalf("EnsureDisplay: %v", err)
	}

	if runs != 1 {
		t.Errorf("action ran %d times, want 1", runs)
	}
	ensure, ok := rig.transport.lastOfKind(KindEnsureDisplay)
	if !ok {
		t.Fatal("no confirmation broadcast")
	}
	if ensure.To != Broadcast || ensure.Payload != "x=i42" {
		t.Errorf("confirmation = %+v, want broadcast x=i42", ensure)
	}
	if v, ok := rig.coord.Binding("x"); !ok || v != int64(42) {
		t.Errorf("binding x = %v, %v, want int64 42", v, ok)
	}
}

func TestMasterActionErrorSuppressesConfirmation(t *testing.T) {
	rig := newRig(t, 1, 5)
	rig.coord.selfPromote(context.Background())
	rig.transport.reset()

	wantErr := errors.New("chat api down")
	err := rig.coord.EnsureDisplay(context.Background(), func(context.Context) (any, error) {
		return nil, wantErr
	}, DisplayOptions{ReturnName: "x"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("EnsureDisplay error = %v, want %v", err, wantErr)
	}
	if _, ok := rig.transport.lastOfKind(KindEnsureDisplay); ok {
		t.Error("failed action was confirmed")
	}
	if _, ok := rig.coord.Binding("x"); ok {
		t.Error("failed action bound a value")
	}
}

func TestFollowerSkipsWhenConfirmationAlreadySeen(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)

	rig.handle(t, Envelope{From: 1, To: Broadcast, Kind: KindEnsureDisplay, Payload: "x=i42"})

	runs := 0
	err := rig.coord.EnsureDisplay(context.Background(), func(context.Context) (any, error) {
		runs++
		return nil, nil
	}, DisplayOptions{ReturnName: "x"})
	if err != nil {
		t.Fatalf("EnsureDisplay: %v", err)
	}

	if runs != 0 {
		t.Errorf("follower executed the action %d times", runs)
	}
	if rig.coord.PendingCallbacks() != 0 {
		t.Error("follower scheduled a backup despite a seen confirmation")
	}
	if v, ok := rig.coord.Binding("x"); !ok || v != int64(42) {
		t.Errorf("binding x = %v, %v, want int64 42", v, ok)
	}
}

func TestConfirmationCancelsPendingBackups(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)

	runs := 0
	err := rig.coord.EnsureDisplay(context.Background(), func(context.Context) (any, error) {
		runs++
		return nil, nil
	}, DisplayOptions{})
	if err != nil {
		t.Fatalf("EnsureDisplay: %v", err)
	}
	if rig.coord.PendingCallbacks() != 1 {
		t.Fatal("no backup scheduled")
	}

	rig.handle(t, Envelope{From: 1, To: Broadcast, Kind: KindEnsureDisplay, Payload: ""})
	rig.clk.Advance(time.Minute)

	if runs != 0 {
		t.Errorf("cancelled backup still ran the action %d times", runs)
	}
	if got := rig.coord.Role(); got != RoleFollower {
		t.Errorf("role = %v after confirmed action, want follower", got)
	}
}

func TestFailoverEvictsSilentMasterWithoutPromotion(t *testing.T) {
	// Members are {1 (master), 2 (self), 3}; after evicting 1, the
	// largest survivor is 3, so self must not promote — it reschedules
	// and waits for 3 to take over.
	rig := newRig(t, 2, 5)
	rig.follow(t, 1, 3)

	runs := 0
	err := rig.coord.EnsureDisplay(context.Background(), func(context.Context) (any, error) {
		runs++
		return nil, nil
	}, DisplayOptions{})
	if err != nil {
		t.Fatalf("EnsureDisplay: %v", err)
	}

	rig.clk.Advance(2 * time.Second)

	if _, ok := rig.coord.Master(); ok {
		t.Error("silent master still on record")
	}
	members := rig.coord.Members()
	if len(members) != 2 || members[0] != 2 || members[1] != 3 {
		t.Errorf("members after eviction = %v, want [2 3]", members)
	}
	if got := rig.coord.Role(); got != RoleFollower {
		t.Errorf("role = %v, want follower (3 outranks us)", got)
	}
	if runs != 0 {
		t.Errorf("non-promoted follower executed the action %d times", runs)
	}
	// The drained action was re-scheduled, keeping the retry loop
	// alive until the new master confirms.
	if rig.coord.PendingCallbacks() != 1 {
		t.Errorf("pending callbacks = %d, want 1", rig.coord.PendingCallbacks())
	}

	// The new master's confirmation ends the cycle.
	rig.handle(t, Envelope{From: 3, To: Broadcast, Kind: KindEnsureDisplay, Payload: ""})
	if master, ok := rig.coord.Master(); !ok || master != 3 {
		t.Errorf("master = %v, %v, want 3", master, ok)
	}
	rig.clk.Advance(time.Minute)
	if runs != 0 {
		t.Errorf("action ran %d times after confirmation", runs)
	}
}

func TestFailoverPromotesLargestSurvivor(t *testing.T) {
	// Members are {1 (master), 3 (self)}; evicting 1 leaves self as
	// the largest member, so the backup takes over and executes.
	rig := newRig(t, 3, 5)
	rig.follow(t, 1)

	runs := 0
	err := rig.coord.EnsureDisplay(context.Background(), func(context.Context) (any, error) {
		runs++
		return int64(99), nil
	}, DisplayOptions{ReturnName: "msg"})
	if err != nil {
		t.Fatalf("EnsureDisplay: %v", err)
	}

	rig.clk.Advance(2 * time.Second)

	if got := rig.coord.Role(); got != RoleMaster {
		t.Fatalf("role = %v, want master", got)
	}
	if runs != 1 {
		t.Errorf("action ran %d times, want 1", runs)
	}
	if _, ok := rig.transport.lastOfKind(KindLetMaster); !ok {
		t.Error("no mastership claim broadcast")
	}
	ensure, ok := rig.transport.lastOfKind(KindEnsureDisplay)
	if !ok {
		t.Fatal("promoted backup did not broadcast confirmation")
	}
	if ensure.Payload != "msg=i99" {
		t.Errorf("confirmation payload = %q, want msg=i99", ensure.Payload)
	}
}

func TestFailoverDrainsSiblingCallbacksOnce(t *testing.T) {
	rig := newRig(t, 3, 5)
	rig.follow(t, 1)

	var mu sync.Mutex
	runs := map[string]int{}
	record := func(name string) Action {
		return func(context.Context) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			runs[name]++
			return nil, nil
		}
	}

	ctx := context.Background()
	if err := rig.coord.EnsureDisplay(ctx, record("a"), DisplayOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := rig.coord.EnsureDisplay(ctx, record("b"), DisplayOptions{Window: 4 * time.Second}); err != nil {
		t.Fatal(err)
	}

	// Only a's window passes, but the failover it triggers must drain
	// b as well: one membership fix, both actions executed by the
	// newly promoted master.
	rig.clk.Advance(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if runs["a"] != 1 || runs["b"] != 1 {
		t.Errorf("runs = %v, want a:1 b:1", runs)
	}
	if got := rig.transport.countOfKind(KindLetMaster); got != 1 {
		t.Errorf("mastership claimed %d times, want 1", got)
	}
	if got := rig.transport.countOfKind(KindEnsureDisplay); got != 2 {
		t.Errorf("confirmations = %d, want 2", got)
	}
	if rig.coord.PendingCallbacks() != 0 {
		t.Errorf("pending callbacks = %d, want 0", rig.coord.PendingCallbacks())
	}
}

func TestFailoverWithoutRecordedMasterEvictsLargest(t *testing.T) {
	// No master on record: the backup evicts the numerically largest
	// member as the best guess at the stale entry. Members {3, 5} with
	// the pointer cleared by an operator eviction: the backup evicts
	// 5, leaving self 3 as the largest, so it promotes.
	rig := newRig(t, 3, 5)
	rig.follow(t, 2)
	rig.handle(t, Envelope{From: 5, To: Broadcast, Kind: KindConnect, Payload: "0"})
	rig.coord.EvictInstance(context.Background(), 2)
	if _, ok := rig.coord.Master(); ok {
		t.Fatal("master pointer survived eviction")
	}
	rig.transport.reset()

	runs := 0
	err := rig.coord.EnsureDisplay(context.Background(), func(context.Context) (any, error) {
		runs++
		return nil, nil
	}, DisplayOptions{})
	if err != nil {
		t.Fatalf("EnsureDisplay: %v", err)
	}

	rig.clk.Advance(2 * time.Second)

	members := rig.coord.Members()
	for _, id := range members {
		if id == 5 {
			t.Errorf("largest member 5 still present: %v", members)
		}
	}
	if got := rig.coord.Role(); got != RoleMaster {
		t.Errorf("role = %v, want master", got)
	}
	if runs != 1 {
		t.Errorf("action ran %d times, want 1", runs)
	}
}

func TestRedeliveredMasterAckIsIdempotent(t *testing.T) {
	rig := newRig(t, 2, 5)
	ack := Envelope{From: 1, To: 2, Kind: KindConnectAck, Payload: "5" + masterMarker}
	rig.handle(t, ack)
	before := rig.coord.Members()

	rig.handle(t, ack)
	rig.handle(t, ack)

	after := rig.coord.Members()
	if len(before) != len(after) {
		t.Errorf("members changed on redelivery: %v -> %v", before, after)
	}
	if got := rig.coord.Role(); got != RoleFollower {
		t.Errorf("role = %v, want follower", got)
	}
	if master, ok := rig.coord.Master(); !ok || master != 1 {
		t.Errorf("master = %v, %v, want 1", master, ok)
	}
}

func TestLetMasterDemotesCurrentMaster(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.coord.selfPromote(context.Background())

	rig.handle(t, Envelope{From: 3, To: Broadcast, Kind: KindLetMaster})

	if got := rig.coord.Role(); got != RoleFollower {
		t.Errorf("role = %v, want follower after rival claim", got)
	}
	if master, ok := rig.coord.Master(); !ok || master != 3 {
		t.Errorf("master = %v, %v, want 3", master, ok)
	}
}

func TestConfirmationAdoptsActualMaster(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)

	rig.handle(t, Envelope{From: 4, To: Broadcast, Kind: KindEnsureDisplay, Payload: ""})

	if master, ok := rig.coord.Master(); !ok || master != 4 {
		t.Errorf("master = %v, %v, want 4", master, ok)
	}
	for _, id := range rig.coord.Members() {
		if id == 1 {
			t.Error("stale master 1 still a member")
		}
	}
}

func TestSendDBReplacesStoreAndAcks(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)

	rig.handle(t, Envelope{From: 1, To: 2, Kind: KindSendDB, Blob: []byte("new-db")})

	if string(rig.database.data) != "new-db" {
		t.Errorf("database = %q, want new-db", rig.database.data)
	}
	ack, ok := rig.transport.lastOfKind(KindSendDBAck)
	if !ok {
		t.Fatal("no database ack sent")
	}
	if ack.To != 1 {
		t.Errorf("ack addressed to %v, want 1", ack.To)
	}
}

func TestSendDBFailureWithholdsAck(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)
	rig.database.replaceErr = errors.New("disk full")

	err := rig.coord.HandleEnvelope(context.Background(),
		Envelope{From: 1, To: 2, Kind: KindSendDB, Blob: []byte("new-db")})
	if err == nil {
		t.Fatal("failed replace reported success")
	}
	if _, ok := rig.transport.lastOfKind(KindSendDBAck); ok {
		t.Error("ack sent for a snapshot that was not applied")
	}
}

func TestSendDBWithoutAttachmentRejected(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)

	err := rig.coord.HandleEnvelope(context.Background(),
		Envelope{From: 1, To: 2, Kind: KindSendDB})
	if err == nil {
		t.Fatal("attachment-less SEND_DB accepted")
	}
	if rig.database.replaced != 0 {
		t.Error("store touched by attachment-less SEND_DB")
	}
}

func TestSendWorkspaceInitializes(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)
	if rig.coord.Initialized() {
		t.Fatal("follower initialized before receiving workspace")
	}

	rig.handle(t, Envelope{From: 1, To: 2, Kind: KindSendWorkspace, Blob: []byte("new-ws")})

	if !rig.coord.Initialized() {
		t.Error("workspace receipt did not initialize")
	}
	if string(rig.workspace.data) != "new-ws" {
		t.Errorf("workspace = %q, want new-ws", rig.workspace.data)
	}
	if _, ok := rig.transport.lastOfKind(KindSendWorkspaceAck); !ok {
		t.Error("no workspace ack sent")
	}
}

func TestSendWorkspaceFailureStaysUninitialized(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)
	rig.workspace.applyErr = errors.New("member resolution failed")

	err := rig.coord.HandleEnvelope(context.Background(),
		Envelope{From: 1, To: 2, Kind: KindSendWorkspace, Blob: []byte("new-ws")})
	if err == nil {
		t.Fatal("failed apply reported success")
	}
	if rig.coord.Initialized() {
		t.Error("instance initialized from a snapshot that failed to apply")
	}
	if _, ok := rig.transport.lastOfKind(KindSendWorkspaceAck); ok {
		t.Error("ack sent for a snapshot that was not applied")
	}
}

func TestMalformedConfirmationPayloadRejected(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 1)

	err := rig.coord.HandleEnvelope(context.Background(),
		Envelope{From: 1, To: Broadcast, Kind: KindEnsureDisplay, Payload: "x=z5"})
	if err == nil {
		t.Fatal("malformed named value accepted")
	}
	if _, ok := rig.coord.Binding("x"); ok {
		t.Error("malformed payload bound a value")
	}
}

func TestStaleVersionHookFires(t *testing.T) {
	var gotVersion int
	rig := &testRig{
		transport: &fakeTransport{},
		database:  &fakeDatabase{},
		workspace: &fakeWorkspace{},
		clk:       clock.Fake(time.Unix(1700000000, 0)),
	}
	c, err := New(Config{
		Self:      2,
		Version:   5,
		Transport: rig.transport,
		Database:  rig.database,
		Workspace: rig.workspace,
		Clock:     rig.clk,
		OnStaleVersion: func(_ context.Context, peerVersion int) {
			gotVersion = peerVersion
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	rig.coord = c

	rig.handle(t, Envelope{From: 1, To: Broadcast, Kind: KindConnect, Payload: "5"})
	if gotVersion != 0 {
		t.Errorf("hook fired for equal version: %d", gotVersion)
	}

	rig.handle(t, Envelope{From: 3, To: Broadcast, Kind: KindConnect, Payload: "7"})
	if gotVersion != 7 {
		t.Errorf("hook got version %d, want 7", gotVersion)
	}
}

func TestEvictInstancePromotesSurvivor(t *testing.T) {
	rig := newRig(t, 2, 5)
	rig.follow(t, 3)

	rig.coord.EvictInstance(context.Background(), 3)

	if got := rig.coord.Role(); got != RoleMaster {
		t.Errorf("role = %v, want master after evicting 3", got)
	}
	if _, ok := rig.transport.lastOfKind(KindLetMaster); !ok {
		t.Error("no mastership claim broadcast")
	}
}

// Peer chatter without the master marker does not satisfy the boot
// wait: only a marked CONNECT_ACK stands the promotion timer down, so
// a deployment where nobody claims mastership still elects one.
func TestPlainTrafficDoesNotCancelSelfPromotion(t *testing.T) {
	rig := newRig(t, 2, 5)
	if err := rig.coord.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rig.handle(t, Envelope{From: 4, To: Broadcast, Kind: KindConnect, Payload: "5"})
	rig.handle(t, Envelope{From: 3, To: 2, Kind: KindConnectAck, Payload: "5"})

	if got := rig.coord.Role(); got != RoleUninitialized {
		t.Fatalf("role before timeout = %v, want uninitialized", got)
	}

	rig.clk.Advance(3 * time.Second)

	if got := rig.coord.Role(); got != RoleMaster {
		t.Errorf("role after timeout = %v, want master", got)
	}
	if _, ok := rig.transport.lastOfKind(KindLetMaster); !ok {
		t.Error("no mastership claim broadcast")
	}
	if master, ok := rig.coord.Master(); !ok || master != 2 {
		t.Errorf("master = %v, %v, want 2", master, ok)
	}
}
