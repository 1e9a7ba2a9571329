package session

import (
	"context"
	"log/slog"
	"time"
)

// StatusSource answers authoritative liveness queries; *Service satisfies it.
type StatusSource interface {
	Status(ctx context.Context, roomName string) (StatusResult, error)
}

// EndFunc is the idempotent end-of-session action a Watcher fires. It must be
// safe to call more than once for the same room; duplicate triggers are
// expected and are not deduplicated here.
type EndFunc func(ctx context.Context, roomName string)

// DefaultPollInterval matches the original client's 5-second status poll.
const DefaultPollInterval = 5 * time.Second

// Watcher re-derives "is this session still alive" for one room from two
// independent sources: transport-level disconnect notifications (pushed via
// NotifyDisconnected) and a periodic authoritative status poll. Either source
// reaching an ended state fires the end action and stops the watcher.
type Watcher struct {
	room     string
	source   StatusSource
	end      EndFunc
	interval time.Duration
	log      *slog.Logger

	disconnected chan struct{}
}

func NewWatcher(room string, source StatusSource, end EndFunc, interval time.Duration, log *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		room:         room,
		source:       source,
		end:          end,
		interval:     interval,
		log:          log,
		disconnected: make(chan struct{}, 1),
	}
}

// NotifyDisconnected signals a transport-level disconnect. Non-blocking;
// repeated notifications collapse into one pending signal.
func (w *Watcher) NotifyDisconnected() {
	select {
	case w.disconnected <- struct{}{}:
	default:
	}
}

// Run polls until the session ends or ctx is cancelled. Poll errors are
// logged and retried on the next tick; a single failed lookup is not evidence
// the session is gone.
//
// A room reported pending after having been seen active means the server
// deleted it: the authoritative poll otherwise has no way to observe "ended",
// since absent rooms always report pending.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	sawActive := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.disconnected:
			w.log.Info("transport disconnected, ending session", "room", w.room)
			w.end(ctx, w.room)
			return
		case <-ticker.C:
			st, err := w.source.Status(ctx, w.room)
			if err != nil {
				w.log.Warn("status poll failed", "room", w.room, "err", err)
				continue
			}
			switch st.Status {
			case StatusActive:
				sawActive = true
			case StatusEnded:
				w.end(ctx, w.room)
				return
			case StatusPending:
				if sawActive {
					w.log.Info("room gone after being active, ending session", "room", w.room)
					w.end(ctx, w.room)
					return
				}
			}
		}
	}
}
