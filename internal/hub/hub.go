// Package hub はグループごとの購読接続の追跡とイベントのファンアウトを提供する。
//
// 購読はプロセス内のみで保持される一時的な関係であり、永続化されない。
// ブロードキャストはベストエフォートで、1つの購読者への配信失敗が
// 他の購読者や呼び出し元に波及することはない。
package hub

import (
	"log/slog"
	"sync"

	"github.com/nao1215/notifyhub/pkg/event"
)

// Subscriber は1つの購読接続を表す。
// Sendはブロックしてはならない。配信できない場合はエラーを返す。
type Subscriber interface {
	// Send はイベントフレームを購読者へ配信する。
	Send(frame event.Frame) error
}

// Hub はグループ名から購読者集合への並行安全な対応を保持する。
type Hub struct {
	// mu はsubscribersを保護する。
	mu sync.RWMutex
	// subscribers はグループ名ごとの購読者集合。
	subscribers map[string]map[Subscriber]struct{}
	// logger は配信失敗の記録に使用する。
	logger *slog.Logger
}

// New は新しいHubを生成する。
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[Subscriber]struct{}),
		logger:      logger,
	}
}

// Register は購読者をグループの配信対象に加える。
// 同一の購読者を重複登録しても集合としては1つ分のままとなる。
func (h *Hub) Register(groupName string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[groupName]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subscribers[groupName] = set
	}
	set[sub] = struct{}{}
}

// Unregister は購読者をグループの配信対象から除く。未登録の場合は何もしない。
func (h *Hub) Unregister(groupName string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[groupName]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, groupName)
	}
}

// Broadcast はイベントをグループの全購読者へ配信する。
// 呼び出し時点の購読者集合のスナップショットに対して、
// 購読者ごとに独立したgoroutineで配信するため、
// 遅い購読者や配信失敗が呼び出し元をブロックすることはない。
func (h *Hub) Broadcast(groupName string, frame event.Frame) {
	h.mu.RLock()
	set := h.subscribers[groupName]
	snapshot := make([]Subscriber, 0, len(set))
	for sub := range set {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		go func(sub Subscriber) {
			if err := sub.Send(frame); err != nil {
				h.logger.Warn("イベントの配信に失敗",
					"group", groupName,
					"event_type", string(frame.Type),
					"error", err)
			}
		}(sub)
	}
}

// Count は指定グループの現在の購読者数を返す。
func (h *Hub) Count(groupName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[groupName])
}
