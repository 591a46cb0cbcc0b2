package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Kind константы для типов сущностей
const (
	KindPulse      = "pulse"      // профиль стартапа / питч
	KindMembership = "membership" // запись участия автора в команде Pulse
)

// Fields набор именованных атрибутов документа.
// Значения - JSON-совместимые типы (string, float64, bool, nil, []any, map[string]any).
type Fields map[string]any

// Entity представляет доменный документ, реплицируемый между устройством и сервером.
type Entity struct {
	Fields    Fields `json:"fields"`     // Fields атрибуты документа
	ID        string `json:"id"`         // ID неизменяемый идентификатор (UUID, генерируется клиентом)
	Kind      string `json:"kind"`       // Kind тип документа: "pulse", "membership"
	Version   int64  `json:"version"`    // Version последняя известная серверная ревизия, никогда не уменьшается
	UpdatedAt int64  `json:"updated_at"` // UpdatedAt Lamport timestamp последнего изменения
	Deleted   bool   `json:"deleted"`    // Deleted tombstone флаг
}

// Clone создает глубокую копию сущности
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Fields = e.Fields.Clone()
	return &c
}

// Clone создает глубокую копию набора полей
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys возвращает отсортированный список имен полей
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal сравнивает два набора полей по значению
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// ValuesEqual сравнивает два JSON значения
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// NormalizeFields приводит значения к каноническому JSON-представлению
// (числа становятся float64, структуры - map[string]any).
// Возвращает ошибку, если значения не сериализуются в JSON.
func NormalizeFields(f Fields) (Fields, error) {
	if f == nil {
		return nil, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return out, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Fields:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
