package tree

import (
	"log"
	"math"

	"github.com/feedview/feedview/pkg/domain"
)

// maxSettingHops bounds the parent walk against accidental cycles
const maxSettingHops = 1000

// Setting resolves a configuration value for the node with the given id: the
// node's own value if defined, else the nearest ancestor's, else the root's,
// else the supplied default. Undefined means nil/empty per FeedNode.Setting.
func (s *Service) Setting(id, key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.ids[id]
	if !ok {
		return def
	}
	return s.settingLocked(n, key, def)
}

func (s *Service) settingLocked(n *domain.FeedNode, key string, def any) any {
	if v, ok := n.Setting(key); ok {
		return v
	}

	curr := n
	for i := 0; i < maxSettingHops; i++ {
		parent, ok := s.parents[curr.ID]
		if !ok || parent == nil {
			break
		}
		if v, ok := parent.Setting(key); ok {
			return v
		}
		curr = parent
	}

	if s.root != nil {
		if v, ok := s.root.Setting(key); ok {
			return v
		}
	}
	return def
}

// FloatSetting resolves a numeric setting with a guard against invalid values:
// NaN or non-numeric resolutions fall back to the default with a logged
// warning, never an error
func (s *Service) FloatSetting(id, key string, def float64) float64 {
	v := s.Setting(id, key, def)
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) {
		log.Printf("[WARN] invalid %s setting for %s (%v), using %v", key, id, v, def)
		return def
	}
	return f
}

// StringSetting resolves a string setting
func (s *Service) StringSetting(id, key, def string) string {
	v := s.Setting(id, key, def)
	str, ok := v.(string)
	if !ok || str == "" {
		return def
	}
	return str
}
