package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"voicecall-platform/internal/callrecords"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/livekit"
)

// fakeRooms is mutex-guarded: session watchers tear rooms down from their own
// goroutines.
type fakeRooms struct {
	mu        sync.Mutex
	rooms     []livekit.RoomInfo
	listErr   error
	deleteErr error
	deleted   []string
}

func (f *fakeRooms) ListRooms(ctx context.Context) ([]livekit.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]livekit.RoomInfo, len(f.rooms))
	copy(out, f.rooms)
	return out, nil
}

func (f *fakeRooms) DeleteRoom(ctx context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, r := range f.rooms {
		if r.Name == room {
			f.rooms = append(f.rooms[:i], f.rooms[i+1:]...)
			f.deleted = append(f.deleted, room)
			return nil
		}
	}
	return errors.New("requested room does not exist")
}

func (f *fakeRooms) add(room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, livekit.RoomInfo{Name: room, ParticipantCount: 1})
}

func (f *fakeRooms) deletedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

type fakeDispatch struct {
	err          error
	lastRoom     string
	lastAgent    string
	lastMetadata string
}

func (f *fakeDispatch) CreateDispatch(ctx context.Context, room, agentName, metadata string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastRoom = room
	f.lastAgent = agentName
	f.lastMetadata = metadata
	return "dispatch-123", nil
}

type fakeTokens struct {
	err error
}

func (f *fakeTokens) Issue(now time.Time, room, identity, displayName, metadata string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token-for-" + room, nil
}

type failRepo struct {
	callrecords.Repository
}

func (failRepo) Create(ctx context.Context, callID string, input callrecords.JSONB) (callrecords.CallRecord, error) {
	return callrecords.CallRecord{}, errors.New("db down")
}

func configured() config.LiveKitConfig {
	return config.LiveKitConfig{
		URL:       "wss://example.livekit.cloud",
		APIKey:    "key",
		APISecret: "secret",
		AgentName: "voice-assistant",
	}
}

func newTestService(rooms *fakeRooms, dispatch *fakeDispatch, repo callrecords.Repository) *Service {
	return NewService(Deps{
		Config:   configured(),
		Tokens:   &fakeTokens{},
		Rooms:    rooms,
		Dispatch: dispatch,
		Records:  repo,
	})
}

func strPtr(s string) *string { return &s }

func TestCreate_ValidatesCallType(t *testing.T) {
	dispatch := &fakeDispatch{}
	svc := newTestService(&fakeRooms{}, dispatch, callrecords.NewMemoryRepo())

	if _, err := svc.Create(context.Background(), CreateRequest{CallType: "video"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypePhone}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for phone without number, got %v", err)
	}
	if dispatch.lastRoom != "" {
		t.Fatalf("validation failures must not reach dispatch")
	}
}

func TestCreate_NotConfigured(t *testing.T) {
	svc := NewService(Deps{Config: config.LiveKitConfig{AgentName: "voice-assistant"}})
	_, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypeWeb})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCreate_HappyPath(t *testing.T) {
	rooms := &fakeRooms{}
	dispatch := &fakeDispatch{}
	repo := callrecords.NewMemoryRepo()
	svc := newTestService(rooms, dispatch, repo)

	out, err := svc.Create(context.Background(), CreateRequest{
		CallType: CallTypeWeb,
		Metadata: CallerDetails{
			FirstName:  strPtr("Ann"),
			PostalCode: strPtr("SW1A 1AA"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if ok, _ := regexp.MatchString(`^call-[0-9A-Za-z]{8}$`, out.RoomName); !ok {
		t.Fatalf("bad room name: %q", out.RoomName)
	}
	if ok, _ := regexp.MatchString(`^user-[0-9A-Za-z]{6}$`, out.ParticipantName); !ok {
		t.Fatalf("bad participant name: %q", out.ParticipantName)
	}
	if out.Status != StatusCreated {
		t.Fatalf("expected created status, got %s", out.Status)
	}
	if out.AccessToken != "token-for-"+out.RoomName {
		t.Fatalf("unexpected token: %q", out.AccessToken)
	}
	if out.DispatchID != "dispatch-123" {
		t.Fatalf("unexpected dispatch id: %q", out.DispatchID)
	}
	if out.AgentName != "voice-assistant" || dispatch.lastAgent != "voice-assistant" {
		t.Fatalf("agent name not carried through")
	}
	if out.Metadata.ParticipantName != out.ParticipantName {
		t.Fatalf("dispatch metadata must carry participant name")
	}
	if out.Metadata.PhoneType != CallTypeWeb {
		t.Fatalf("phone_type must default to call type, got %q", out.Metadata.PhoneType)
	}

	rec, found, err := repo.GetByID(context.Background(), out.RoomName)
	if err != nil || !found {
		t.Fatalf("expected record persisted: found=%v err=%v", found, err)
	}
	if rec.InputData["first_name"] != "Ann" {
		t.Fatalf("expected first_name in input_data, got %v", rec.InputData)
	}
	if rec.InputData["postal_code"] != "SW1A 1AA" {
		t.Fatalf("expected postal_code in input_data, got %v", rec.InputData)
	}
	// Absent optional fields are stored as explicit nulls.
	if v, ok := rec.InputData["last_name"]; !ok || v != nil {
		t.Fatalf("expected null last_name, got %v (present=%v)", v, ok)
	}
	if rec.Status() != "pending" {
		t.Fatalf("fresh record must derive pending, got %q", rec.Status())
	}
}

func TestCreate_RecordFailureDoesNotFailCall(t *testing.T) {
	svc := newTestService(&fakeRooms{}, &fakeDispatch{}, failRepo{})
	out, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypeWeb})
	if err != nil {
		t.Fatalf("record insert failure must not fail creation, got %v", err)
	}
	if out.RoomName == "" {
		t.Fatalf("expected a usable session bundle")
	}
}

func TestCreate_DispatchFailurePropagates(t *testing.T) {
	svc := newTestService(&fakeRooms{}, &fakeDispatch{err: errors.New("dispatch rpc failed")}, callrecords.NewMemoryRepo())
	if _, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypeWeb}); err == nil {
		t.Fatalf("expected dispatch failure to propagate")
	}
}

func TestNewRoomName_FormatAndUniqueness(t *testing.T) {
	re := regexp.MustCompile(`^call-[0-9A-Za-z]{8}$`)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := NewRoomName()
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if !re.MatchString(id) {
			t.Fatalf("bad id format: %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("collision after %d ids: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestStatus_PendingWhenRoomAbsent(t *testing.T) {
	svc := newTestService(&fakeRooms{}, &fakeDispatch{}, callrecords.NewMemoryRepo())
	out, err := svc.Status(context.Background(), "call-neverseen")
	if err != nil {
		t.Fatalf("absence must not be an error, got %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("expected pending, got %s", out.Status)
	}
	if out.ParticipantCount != 0 || out.Metadata != nil || out.CreationTime != nil {
		t.Fatalf("pending rooms report empty live state, got %+v", out)
	}
}

func TestStatus_ActiveWhenRoomPresent(t *testing.T) {
	rooms := &fakeRooms{rooms: []livekit.RoomInfo{
		{Name: "call-abc12345", ParticipantCount: 2, Metadata: `{"x":1}`, CreationTime: 1700000000},
	}}
	svc := newTestService(rooms, &fakeDispatch{}, callrecords.NewMemoryRepo())

	out, err := svc.Status(context.Background(), "call-abc12345")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Status != StatusActive {
		t.Fatalf("expected active, got %s", out.Status)
	}
	if out.ParticipantCount != 2 {
		t.Fatalf("expected 2 participants, got %d", out.ParticipantCount)
	}
	if out.Metadata == nil || *out.Metadata != `{"x":1}` {
		t.Fatalf("unexpected metadata: %v", out.Metadata)
	}
	if out.CreationTime == nil || *out.CreationTime != 1700000000 {
		t.Fatalf("unexpected creation time: %v", out.CreationTime)
	}
}

func TestStatus_NotConfigured(t *testing.T) {
	svc := NewService(Deps{Config: config.LiveKitConfig{}})
	out, err := svc.Status(context.Background(), "call-x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if out.Status != StatusNotAvailable {
		t.Fatalf("expected not_available, got %s", out.Status)
	}
}

func TestTeardown_IdempotentAcrossRepeats(t *testing.T) {
	rooms := &fakeRooms{rooms: []livekit.RoomInfo{{Name: "call-abc12345"}}}
	svc := newTestService(rooms, &fakeDispatch{}, callrecords.NewMemoryRepo())

	first, err := svc.Teardown(context.Background(), "call-abc12345")
	if err != nil {
		t.Fatalf("first teardown: %v", err)
	}
	if first.Status != StatusEnded {
		t.Fatalf("expected ended, got %s", first.Status)
	}

	second, err := svc.Teardown(context.Background(), "call-abc12345")
	if err != nil {
		t.Fatalf("second teardown must not error: %v", err)
	}
	if second.Status != StatusEnded {
		t.Fatalf("expected ended on repeat, got %s", second.Status)
	}
}

func TestTeardown_NeverExistedIsEnded(t *testing.T) {
	svc := newTestService(&fakeRooms{}, &fakeDispatch{}, callrecords.NewMemoryRepo())
	out, err := svc.Teardown(context.Background(), "call-ghost123")
	if err != nil {
		t.Fatalf("unknown room must not error: %v", err)
	}
	if out.Status != StatusEnded {
		t.Fatalf("expected ended, got %s", out.Status)
	}
}

func TestTeardown_NotConfigured(t *testing.T) {
	svc := NewService(Deps{Config: config.LiveKitConfig{}})
	out, err := svc.Teardown(context.Background(), "call-x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if out.Status != StatusCleanupFailed {
		t.Fatalf("expected cleanup_failed, got %s", out.Status)
	}
}

func TestTeardown_UnexpectedErrorPropagates(t *testing.T) {
	rooms := &fakeRooms{deleteErr: errors.New("connection refused")}
	svc := newTestService(rooms, &fakeDispatch{}, callrecords.NewMemoryRepo())
	if _, err := svc.Teardown(context.Background(), "call-abc12345"); err == nil {
		t.Fatalf("expected unexpected failure to propagate")
	}
}

type fakeCap struct {
	mu       sync.Mutex
	allow    bool
	acquired int
	released int
}

func (f *fakeCap) Acquire(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	return f.allow, nil
}

func (f *fakeCap) Release(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeCap) releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func TestCreate_CapacityRejected(t *testing.T) {
	limiter := &fakeCap{allow: false}
	svc := NewService(Deps{
		Config:   configured(),
		Tokens:   &fakeTokens{},
		Rooms:    &fakeRooms{},
		Dispatch: &fakeDispatch{},
		Records:  callrecords.NewMemoryRepo(),
		Capacity: limiter,
	})
	if _, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypeWeb}); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestCreate_CapacityReleasedOnDispatchFailure(t *testing.T) {
	limiter := &fakeCap{allow: true}
	svc := NewService(Deps{
		Config:   configured(),
		Tokens:   &fakeTokens{},
		Rooms:    &fakeRooms{},
		Dispatch: &fakeDispatch{err: errors.New("boom")},
		Records:  callrecords.NewMemoryRepo(),
		Capacity: limiter,
	})
	if _, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypeWeb}); err == nil {
		t.Fatalf("expected error")
	}
	if limiter.releases() != 1 {
		t.Fatalf("expected slot released on failure, got %d releases", limiter.releases())
	}
}

func TestTeardown_ReleasesOnlyAcquiredSlots(t *testing.T) {
	limiter := &fakeCap{allow: true}
	rooms := &fakeRooms{}
	svc := NewService(Deps{
		Config:   configured(),
		Tokens:   &fakeTokens{},
		Rooms:    rooms,
		Dispatch: &fakeDispatch{},
		Records:  callrecords.NewMemoryRepo(),
		Capacity: limiter,
	})

	// Rooms this deployment never admitted leave the shared counter alone,
	// even across repeats.
	for i := 0; i < 2; i++ {
		out, err := svc.Teardown(context.Background(), "call-ghost123")
		if err != nil {
			t.Fatalf("teardown %d: %v", i, err)
		}
		if out.Status != StatusEnded {
			t.Fatalf("teardown %d: expected ended, got %s", i, out.Status)
		}
	}
	if limiter.releases() != 0 {
		t.Fatalf("never-acquired room must not release slots, got %d", limiter.releases())
	}

	created, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypeWeb})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rooms.add(created.RoomName)

	// Repeated teardowns of a real session release its slot exactly once.
	for i := 0; i < 3; i++ {
		if _, err := svc.Teardown(context.Background(), created.RoomName); err != nil {
			t.Fatalf("teardown %d: %v", i, err)
		}
	}
	if limiter.releases() != 1 {
		t.Fatalf("expected exactly one release across repeated teardowns, got %d", limiter.releases())
	}
}

func TestCreate_WatcherEndsSessionOnDisconnect(t *testing.T) {
	rooms := &fakeRooms{}
	svc := NewService(Deps{
		Config:        configured(),
		Tokens:        &fakeTokens{},
		Rooms:         rooms,
		Dispatch:      &fakeDispatch{},
		Records:       callrecords.NewMemoryRepo(),
		WatchInterval: time.Hour,
	})
	defer svc.Close()

	out, err := svc.Create(context.Background(), CreateRequest{CallType: CallTypeWeb})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rooms.add(out.RoomName)

	if !svc.NotifyDisconnected(out.RoomName) {
		t.Fatalf("expected a watcher listening for %s", out.RoomName)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		gone := false
		for _, r := range rooms.deletedRooms() {
			if r == out.RoomName {
				gone = true
			}
		}
		if gone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher never tore the room down")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The watcher unregisters once the session ends.
	for time.Now().Before(deadline) {
		if !svc.NotifyDisconnected(out.RoomName) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("watcher still registered after session ended")
}

func TestNotifyDisconnected_UnknownRoom(t *testing.T) {
	svc := NewService(Deps{
		Config:        configured(),
		Tokens:        &fakeTokens{},
		Rooms:         &fakeRooms{},
		Dispatch:      &fakeDispatch{},
		Records:       callrecords.NewMemoryRepo(),
		WatchInterval: time.Hour,
	})
	defer svc.Close()

	if svc.NotifyDisconnected("call-unknown1") {
		t.Fatalf("unknown room must not acknowledge")
	}
}
