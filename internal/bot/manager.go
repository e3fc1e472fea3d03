package bot

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"chatd/internal/protocol"
)

// Manager holds the registered bots and fans broadcast messages through
// them.
type Manager struct {
	mu   sync.RWMutex
	bots []Bot
}

// NewManager returns an empty bot registry.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a bot. Bots run in priority order, highest first.
func (m *Manager) Register(b Bot) {
	m.mu.Lock()
	m.bots = append(m.bots, b)
	sort.SliceStable(m.bots, func(i, j int) bool {
		return m.bots[i].Config().Priority > m.bots[j].Config().Priority
	})
	m.mu.Unlock()

	cfg := b.Config()
	slog.Info("bot registered", "name", cfg.Name, "user_id", cfg.UserID, "priority", cfg.Priority)
}

// Count returns the number of registered bots.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bots)
}

// Dispatch offers one broadcast message to every interested bot and collects
// their replies. Bots never react to their own or other bots' output, and a
// failing bot is logged and skipped.
func (m *Manager) Dispatch(ctx context.Context, msg protocol.Message) []protocol.Message {
	if msg.Content.Type != protocol.ContentText {
		return nil
	}

	m.mu.RLock()
	bots := make([]Bot, len(m.bots))
	copy(bots, m.bots)
	m.mu.RUnlock()

	var out []protocol.Message
	for _, b := range bots {
		cfg := b.Config()
		if msg.From == cfg.UserID || m.isBotSender(msg.From, bots) {
			continue
		}
		if !b.ShouldHandle(&msg) {
			continue
		}
		resp, err := b.Handle(ctx, &msg)
		if err != nil {
			slog.Error("bot handle", "bot", cfg.Name, "err", err)
			continue
		}
		out = append(out, resp.Messages(cfg)...)
	}
	return out
}

func (m *Manager) isBotSender(userID string, bots []Bot) bool {
	for _, b := range bots {
		if b.Config().UserID == userID {
			return true
		}
	}
	return false
}
