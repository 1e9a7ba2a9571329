package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicecall-platform/internal/callrecords"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/livekit"
)

// TokenIssuer mints a scoped room access credential for one participant.
type TokenIssuer interface {
	Issue(now time.Time, room, identity, displayName, metadata string) (string, error)
}

// Deps are the orchestrator's collaborators, injected at construction. The
// transport-side dependencies (Tokens, Rooms, Dispatch) are nil when LiveKit
// is unconfigured; every transport call checks before use.
type Deps struct {
	Config   config.LiveKitConfig
	Tokens   TokenIssuer
	Rooms    livekit.RoomDirectory
	Dispatch livekit.AgentDispatcher
	Records  callrecords.Repository
	Capacity CapacityLimiter
	Log      *slog.Logger

	// WatchInterval enables the per-session reconciliation watcher: each
	// created session gets a goroutine polling its authoritative status at
	// this interval and ending it when the room goes away. Zero disables
	// watching (tests drive the lifecycle explicitly).
	WatchInterval time.Duration
}

// Service coordinates the call session lifecycle: identifier allocation,
// credential issuance, agent dispatch, best-effort record persistence, and
// status/teardown queries against the media server.
type Service struct {
	cfg      config.LiveKitConfig
	tokens   TokenIssuer
	rooms    livekit.RoomDirectory
	dispatch livekit.AgentDispatcher
	records  callrecords.Repository
	capacity CapacityLimiter
	log      *slog.Logger

	now func() time.Time

	// slots records which rooms this process admitted through the capacity
	// limiter, so teardown releases each acquired slot exactly once.
	slotMu sync.Mutex
	slots  map[string]struct{}

	watchInterval time.Duration
	watchCtx      context.Context
	watchCancel   context.CancelFunc
	watchMu       sync.Mutex
	watchers      map[string]*Watcher
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg:      d.Config,
		tokens:   d.Tokens,
		rooms:    d.Rooms,
		dispatch: d.Dispatch,
		records:  d.Records,
		capacity: d.Capacity,
		log:      log,
		now:      time.Now,
		slots:    make(map[string]struct{}),
		watchers: make(map[string]*Watcher),
	}
	if d.WatchInterval > 0 {
		s.watchInterval = d.WatchInterval
		s.watchCtx, s.watchCancel = context.WithCancel(context.Background())
	}
	return s
}

// Close stops all session watchers. Call once at shutdown.
func (s *Service) Close() {
	if s.watchCancel != nil {
		s.watchCancel()
	}
}

// SetClock overrides the service clock. Test use only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) transportReady() bool {
	return s.cfg.Configured() && s.tokens != nil && s.rooms != nil && s.dispatch != nil
}

func (s *Service) notConfiguredErr() error {
	missing := s.cfg.MissingVars()
	if len(missing) == 0 {
		return ErrNotConfigured
	}
	return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
}

// Create validates the call request, allocates session identifiers, issues
// the access token, dispatches the agent and persists the initial record.
// Token issuance and dispatch failures fail the whole request; the record
// insert is best-effort and never does.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.CallType != CallTypeWeb && req.CallType != CallTypePhone {
		return CreateResult{}, fmt.Errorf("%w: invalid call type %q", ErrInvalidRequest, req.CallType)
	}
	if req.CallType == CallTypePhone && strings.TrimSpace(req.PhoneNumber) == "" {
		return CreateResult{}, fmt.Errorf("%w: phone number required for phone calls", ErrInvalidRequest)
	}
	if !s.transportReady() {
		return CreateResult{}, s.notConfiguredErr()
	}

	if s.capacity != nil {
		ok, err := s.capacity.Acquire(ctx)
		if err != nil {
			return CreateResult{}, fmt.Errorf("call cap check: %w", err)
		}
		if !ok {
			return CreateResult{}, ErrCapacity
		}
	}
	// Release the slot again on any failure after acquisition.
	established := false
	defer func() {
		if s.capacity != nil && !established {
			s.capacity.Release(ctx)
		}
	}()

	roomName, err := NewRoomName()
	if err != nil {
		return CreateResult{}, fmt.Errorf("generate room name: %w", err)
	}
	participantName, err := NewParticipantName()
	if err != nil {
		return CreateResult{}, fmt.Errorf("generate participant name: %w", err)
	}

	now := s.now().UTC()
	meta := buildMetadata(req, now)

	tokenMeta, err := json.Marshal(meta)
	if err != nil {
		return CreateResult{}, fmt.Errorf("marshal metadata: %w", err)
	}

	// The room is created by the server when the first participant joins with
	// this token, not at issuance time.
	accessToken, err := s.tokens.Issue(now, roomName, participantName, displayName(req), string(tokenMeta))
	if err != nil {
		return CreateResult{}, fmt.Errorf("issue access token: %w", err)
	}

	dispatchMeta := meta
	dispatchMeta.ParticipantName = participantName
	dispatchPayload, err := json.Marshal(dispatchMeta)
	if err != nil {
		return CreateResult{}, fmt.Errorf("marshal dispatch metadata: %w", err)
	}

	dispatchID, err := s.dispatch.CreateDispatch(ctx, roomName, s.cfg.AgentName, string(dispatchPayload))
	if err != nil {
		return CreateResult{}, fmt.Errorf("dispatch agent: %w", err)
	}
	s.log.Info("agent dispatched",
		"room", roomName,
		"agent", s.cfg.AgentName,
		"dispatch_id", dispatchID,
	)

	// Best-effort: a record-less session is a tolerated degraded state, not a
	// reason to fail the call.
	s.persistRecord(ctx, roomName, dispatchPayload)

	established = true
	s.trackSlot(roomName)
	if s.watchCtx != nil {
		s.startWatcher(roomName)
	}
	s.log.Info("call created",
		"room", roomName,
		"call_type", req.CallType,
		"participant", participantName,
	)

	return CreateResult{
		RoomName:        roomName,
		ParticipantName: participantName,
		CallType:        req.CallType,
		PhoneNumber:     optString(req.PhoneNumber),
		AccessToken:     accessToken,
		LiveKitURL:      s.cfg.URL,
		AgentName:       s.cfg.AgentName,
		DispatchID:      dispatchID,
		Metadata:        dispatchMeta,
		Status:          StatusCreated,
		Timestamp:       now.Format(time.RFC3339),
	}, nil
}

func (s *Service) persistRecord(ctx context.Context, roomName string, inputJSON []byte) {
	if s.records == nil {
		s.log.Warn("record store not configured, skipping call record", "room", roomName)
		return
	}
	var input callrecords.JSONB
	if err := json.Unmarshal(inputJSON, &input); err != nil {
		s.log.Warn("call record input did not round-trip", "room", roomName, "err", err)
		return
	}
	if _, err := s.records.Create(ctx, roomName, input); err != nil {
		s.log.Warn("failed to save call record, continuing without one", "room", roomName, "err", err)
		return
	}
	s.log.Info("call record saved", "room", roomName)
}

// Status queries the media server for the session's live state. The room API
// has no by-name lookup, so all active rooms are listed and searched. An
// absent room reports pending: a just-created session may not have
// materialized yet, and absence is never treated as gone here.
func (s *Service) Status(ctx context.Context, roomName string) (StatusResult, error) {
	if !s.cfg.Configured() || s.rooms == nil {
		return StatusResult{RoomName: roomName, Status: StatusNotAvailable}, s.notConfiguredErr()
	}

	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return StatusResult{}, fmt.Errorf("list rooms: %w", err)
	}

	for _, r := range rooms {
		if r.Name != roomName {
			continue
		}
		meta := r.Metadata
		creation := r.CreationTime
		return StatusResult{
			RoomName:         roomName,
			ParticipantCount: r.ParticipantCount,
			Metadata:         &meta,
			CreationTime:     &creation,
			Status:           StatusActive,
		}, nil
	}

	return StatusResult{
		RoomName: roomName,
		Status:   StatusPending,
		Message:  "Room is being initialized",
	}, nil
}

// Teardown deletes the room, which disconnects every participant (agent
// included) and releases its resources on the server. An already-gone room is
// not an error: repeated teardowns converge to ended.
func (s *Service) Teardown(ctx context.Context, roomName string) (TeardownResult, error) {
	if !s.cfg.Configured() || s.rooms == nil {
		return TeardownResult{RoomName: roomName, Status: StatusCleanupFailed}, s.notConfiguredErr()
	}

	err := s.rooms.DeleteRoom(ctx, roomName)
	switch {
	case err == nil:
		s.log.Info("room deleted", "room", roomName)
		s.releaseCapacity(ctx, roomName)
		return TeardownResult{
			RoomName:  roomName,
			Status:    StatusEnded,
			Message:   "Room deleted successfully. All participants disconnected.",
			Timestamp: s.now().UTC().Format(time.RFC3339),
		}, nil
	case livekit.IsRoomNotFound(err):
		s.log.Info("room already gone", "room", roomName)
		s.releaseCapacity(ctx, roomName)
		return TeardownResult{
			RoomName: roomName,
			Status:   StatusEnded,
			Message:  "Room was already cleaned up or doesn't exist",
		}, nil
	default:
		return TeardownResult{}, fmt.Errorf("delete room %s: %w", roomName, err)
	}
}

func (s *Service) trackSlot(room string) {
	if s.capacity == nil {
		return
	}
	s.slotMu.Lock()
	s.slots[room] = struct{}{}
	s.slotMu.Unlock()
}

// releaseCapacity frees the slot a room acquired at creation, at most once.
// Repeated teardowns and rooms this process never admitted must not touch the
// shared counter, or they would steal slots from still-active calls. Slots
// orphaned by a crash are reclaimed by the acquire TTL.
func (s *Service) releaseCapacity(ctx context.Context, room string) {
	if s.capacity == nil {
		return
	}
	s.slotMu.Lock()
	_, held := s.slots[room]
	delete(s.slots, room)
	s.slotMu.Unlock()
	if held {
		s.capacity.Release(ctx)
	}
}

func (s *Service) startWatcher(room string) {
	w := NewWatcher(room, s, func(ctx context.Context, r string) {
		if _, err := s.Teardown(ctx, r); err != nil {
			s.log.Warn("watcher teardown failed", "room", r, "err", err)
		}
	}, s.watchInterval, s.log)

	s.watchMu.Lock()
	s.watchers[room] = w
	s.watchMu.Unlock()

	go func() {
		w.Run(s.watchCtx)
		s.watchMu.Lock()
		delete(s.watchers, room)
		s.watchMu.Unlock()
	}()
}

// NotifyDisconnected forwards a transport-level disconnect to the room's
// watcher. Reports whether a watcher was still listening.
func (s *Service) NotifyDisconnected(room string) bool {
	s.watchMu.Lock()
	w := s.watchers[room]
	s.watchMu.Unlock()
	if w == nil {
		return false
	}
	w.NotifyDisconnected()
	return true
}

func buildMetadata(req CreateRequest, now time.Time) Metadata {
	d := req.Metadata

	phoneType := req.CallType
	if d.PhoneType != nil && *d.PhoneType != "" {
		phoneType = *d.PhoneType
	}

	return Metadata{
		CallType:      req.CallType,
		PhoneNumber:   optString(req.PhoneNumber),
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		StreetAddress: d.StreetAddress,
		City:          d.City,
		PostalCode:    d.PostalCode,
		PhoneType:     phoneType,
		RequestType:   d.RequestType,
		CallDirection: d.CallDirection,
		CompanyName:   d.CompanyName,

		ElectricityRecommendedSupplier: d.ElectricityRecommendedSupplier,
		ElectricityQuoteAnnualCost:     d.ElectricityQuoteAnnualCost,
		GasRecommendedSupplier:         d.GasRecommendedSupplier,
		GasQuoteAnnualCost:             d.GasQuoteAnnualCost,

		CreatedAt: now.Format(time.RFC3339),
	}
}

func displayName(req CreateRequest) string {
	if req.Metadata.FirstName != nil && *req.Metadata.FirstName != "" {
		return *req.Metadata.FirstName
	}
	if req.CallType == CallTypePhone {
		return "Phone Caller"
	}
	return "Web Caller"
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
