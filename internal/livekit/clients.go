package livekit

import (
	"context"
	"errors"
	"strings"

	"voicecall-platform/internal/config"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
)

// RoomInfo is the provider-agnostic view of a live room used by business
// logic. ParticipantCount is normalized down from the wire's unsigned 32-bit
// type for JSON friendliness.
type RoomInfo struct {
	Name             string `json:"name"`
	ParticipantCount int    `json:"participant_count"`
	Metadata         string `json:"metadata,omitempty"`

	// CreationTime is a unix-seconds timestamp as reported by the server.
	CreationTime int64 `json:"creation_time"`
}

// RoomDirectory is the narrow surface this service needs from the media
// server's room API. No SDK calls outside this package.
type RoomDirectory interface {
	ListRooms(ctx context.Context) ([]RoomInfo, error)
	DeleteRoom(ctx context.Context, room string) error
}

// AgentDispatcher requests that a named autonomous agent join a named room.
// The returned dispatch id is used only for logging and traceability.
type AgentDispatcher interface {
	CreateDispatch(ctx context.Context, room, agentName, metadata string) (string, error)
}

// RoomClient implements RoomDirectory over the LiveKit Twirp room service.
type RoomClient struct {
	svc *lksdk.RoomServiceClient
}

func NewRoomClient(cfg config.LiveKitConfig) (*RoomClient, error) {
	if !cfg.Configured() {
		return nil, errors.New("livekit: url, api key and secret are required")
	}
	return &RoomClient{svc: lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret)}, nil
}

func (c *RoomClient) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	resp, err := c.svc.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, err
	}
	rooms := make([]RoomInfo, 0, len(resp.Rooms))
	for _, r := range resp.Rooms {
		rooms = append(rooms, RoomInfo{
			Name:             r.Name,
			ParticipantCount: int(r.NumParticipants),
			Metadata:         r.Metadata,
			CreationTime:     r.CreationTime,
		})
	}
	return rooms, nil
}

func (c *RoomClient) DeleteRoom(ctx context.Context, room string) error {
	_, err := c.svc.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	return err
}

// DispatchClient implements AgentDispatcher over the LiveKit agent dispatch
// service.
type DispatchClient struct {
	svc *lksdk.AgentDispatchClient
}

func NewDispatchClient(cfg config.LiveKitConfig) (*DispatchClient, error) {
	if !cfg.Configured() {
		return nil, errors.New("livekit: url, api key and secret are required")
	}
	return &DispatchClient{svc: lksdk.NewAgentDispatchServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret)}, nil
}

func (c *DispatchClient) CreateDispatch(ctx context.Context, room, agentName, metadata string) (string, error) {
	d, err := c.svc.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		Room:      room,
		AgentName: agentName,
		Metadata:  metadata,
	})
	if err != nil {
		return "", err
	}
	return d.Id, nil
}

// IsRoomNotFound classifies a room-service error as "the room is already
// gone". Teardown treats this as success, so the check is deliberately loose:
// a Twirp not_found code, or the server's message wording.
func IsRoomNotFound(err error) bool {
	if err == nil {
		return false
	}
	var terr twirp.Error
	if errors.As(err, &terr) && terr.Code() == twirp.NotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}
