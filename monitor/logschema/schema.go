package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"strategy_state": {
		Event:    "strategy_state",
		Required: []string{"strategyId", "kind", "from", "to"},
	},
	"strategy_failed": {
		Event:    "strategy_failed",
		Required: []string{"strategyId", "kind", "reason"},
	},
	"leg_placed": {
		Event:    "leg_placed",
		Required: []string{"strategyId", "role", "symbol", "side", "orderId"},
	},
	"leg_change": {
		Event:    "leg_change",
		Required: []string{"legId", "from", "to"},
	},
	"leg_poll_error": {
		Event:    "leg_poll_error",
		Required: []string{"legId", "failures", "error"},
	},
	"leg_change_overflow": {
		Event:    "leg_change_overflow",
		Required: []string{"legId"},
	},
	"oco_triggered": {
		Event:    "oco_triggered",
		Required: []string{"strategyId", "winnerRole"},
	},
	"oco_conflict_race": {
		Event:    "oco_conflict_race",
		Required: []string{"strategyId"},
	},
	"twap_chunk_fired": {
		Event:    "twap_chunk_fired",
		Required: []string{"strategyId", "chunk", "of", "qty"},
	},
	"twap_chunk_skipped": {
		Event:    "twap_chunk_skipped",
		Required: []string{"strategyId", "chunk", "reason"},
	},
	"grid_setup": {
		Event:    "grid_setup",
		Required: []string{"strategyId", "symbol", "levels", "placed"},
	},
	"grid_level_flip": {
		Event:    "grid_level_flip",
		Required: []string{"strategyId", "level", "price", "from", "to"},
	},
	"grid_level_lost": {
		Event:    "grid_level_lost",
		Required: []string{"strategyId", "level", "status"},
	},
	"grid_level_degraded": {
		Event:    "grid_level_degraded",
		Required: []string{"strategyId", "level", "error"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
