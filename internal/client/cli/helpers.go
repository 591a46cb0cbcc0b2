package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/startuppulse/pulsesync/internal/models"
)

// ParseFields разбирает пары key=value. Значение читается как JSON
// (числа, true/false, null, списки), иначе остается строкой.
func ParseFields(pairs []string) (models.Fields, error) {
	fields := make(models.Fields, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		fields[key] = value
	}
	return fields, nil
}

func title(rec *models.LocalRecord) string {
	if v, ok := rec.Entity.Fields["title"].(string); ok {
		return v
	}
	return ""
}
