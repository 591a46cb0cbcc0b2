package crdt

import (
	"sort"

	"github.com/startuppulse/pulsesync/internal/models"
)

// MergeResult результат слияния серверного снимка с локальными изменениями.
type MergeResult struct {
	Fields    models.Fields // итоговые поля документа
	Conflicts []string      // поля, где локальное значение победило конкурентное серверное
}

// MergeRemote выполняет поле-уровневое слияние (last-writer-per-field).
//
// base - последний подтвержденный сервером снимок, remote - новый снимок,
// pending - объединение еще не подтвержденных локальных дельт.
// Для каждого поля берется серверное значение, если поле не меняется локально;
// иначе сохраняется локальное. Конфликтом считается поле, которое изменили
// и локально, и на сервере (относительно base) к разным значениям.
// Результат не зависит от порядка обхода map.
func MergeRemote(base, remote, pending models.Fields) MergeResult {
	merged := remote.Clone()
	if merged == nil {
		merged = models.Fields{}
	}

	var conflicts []string
	for _, name := range pending.Keys() {
		localVal := pending[name]
		remoteVal, inRemote := remote[name]
		baseVal, inBase := base[name]

		remoteChanged := inRemote != inBase || !models.ValuesEqual(remoteVal, baseVal)
		if remoteChanged && !(inRemote && models.ValuesEqual(remoteVal, localVal)) {
			conflicts = append(conflicts, name)
		}
		merged[name] = cloneAny(localVal)
	}

	return MergeResult{Fields: merged, Conflicts: conflicts}
}

// MergeDelta объединяет две дельты; при совпадении имен побеждает later.
func MergeDelta(earlier, later models.Fields) models.Fields {
	out := make(models.Fields, len(earlier)+len(later))
	for k, v := range earlier {
		out[k] = cloneAny(v)
	}
	for k, v := range later {
		out[k] = cloneAny(v)
	}
	return out
}

// PendingDelta сворачивает неподтвержденные записи журнала одной сущности
// в единый набор полей (в порядке LocalSeq, поздние значения побеждают).
func PendingDelta(entries []*models.JournalEntry) models.Fields {
	sorted := make([]*models.JournalEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LocalSeq < sorted[j].LocalSeq })

	out := models.Fields{}
	for _, e := range sorted {
		if e.Mutation == models.MutationDelete {
			continue
		}
		for k, v := range e.Delta {
			out[k] = cloneAny(v)
		}
	}
	return out
}

func cloneAny(v any) any {
	return models.Fields{"v": v}.Clone()["v"]
}
