/**
 * 服务:配置服务-模式校验
 * @description: 对config document做严格模式校验：未知键一律拒绝，数值键做下界校验，
 *   executor.scheduler_cron额外用cron解析器校验表达式合法性
 * @func:
 */
package configsvc

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"neocontroller/internal/apperr"
	configmodel "neocontroller/internal/model/agentconfig"
)

type boundKind int

const (
	boundGTE0 boundKind = iota
	boundGTE1
	boundGTE60
)

var recognizedIntKeys = map[string]boundKind{
	"heartbeat.interval_in_seconds":      boundGTE60,
	"heartbeat.miss_until_inactive":      boundGTE0,
	"retry.attempts":                     boundGTE1,
	"retry.delay_in_seconds":             boundGTE1,
	"retry.max_jitter_in_seconds":        boundGTE0,
	"executor.bulk_size":                 boundGTE1,
	"executor.bulk_throttle_time_in_ms":  boundGTE0,
}

const cronListKey = "executor.scheduler_cron"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validateDocument rejects unknown keys and out-of-bound values, per the enumerated option catalog.
func validateDocument(doc configmodel.Document) error {
	for key, raw := range doc {
		if key == cronListKey {
			exprs, ok := toStringSlice(raw)
			if !ok {
				return apperr.ErrValidation.WithDetails(fmt.Sprintf("%s must be a list of cron expressions", cronListKey))
			}
			for _, expr := range exprs {
				if _, err := cronParser.Parse(expr); err != nil {
					return apperr.ErrValidation.WithDetails(fmt.Sprintf("%s: invalid cron expression %q: %v", cronListKey, expr, err))
				}
			}
			continue
		}

		bound, known := recognizedIntKeys[key]
		if !known {
			return apperr.ErrValidation.WithDetails(fmt.Sprintf("unrecognized config key %q", key))
		}
		n, ok := toInt(raw)
		if !ok {
			return apperr.ErrValidation.WithDetails(fmt.Sprintf("%s must be an integer", key))
		}
		min := 0
		switch bound {
		case boundGTE1:
			min = 1
		case boundGTE60:
			min = 60
		}
		if n < min {
			return apperr.ErrValidation.WithDetails(fmt.Sprintf("%s must be >= %d", key, min))
		}
	}
	return nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toStringSlice(v interface{}) ([]string, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
