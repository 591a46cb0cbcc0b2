package crdt

import (
	"slices"
	"sort"

	"github.com/startuppulse/pulsesync/internal/models"
)

// CompactResult результат компактизации журнала.
type CompactResult struct {
	Kept    []*models.JournalEntry // оставшиеся записи в порядке LocalSeq
	Removed []uint64               // LocalSeq поглощенных записей
}

// Compact объединяет записи журнала, относящиеся к одной сущности:
//   - Update поверх Create/Update сливается в одну запись (объединение полей,
//     поздние значения побеждают), тип Create сохраняется;
//   - Delete поглощает любые предыдущие Create/Update.
//
// Выжившая запись получает LocalSeq и ключ идемпотентности более поздней записи,
// поэтому повторная отправка поглощенной (уже, возможно, доставленной) записи
// не маскирует новые поля. LocalSeq поглощенных записей сохраняются в Supersedes:
// их итоговый статус совпадает с итогом выжившей. Порядок между сущностями не меняется.
func Compact(entries []*models.JournalEntry) CompactResult {
	sorted := make([]*models.JournalEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LocalSeq < sorted[j].LocalSeq })

	var (
		result = CompactResult{}
		open   = make(map[string]*models.JournalEntry) // последняя незакрытая запись по сущности
		kept   = make(map[uint64]*models.JournalEntry)
	)

	for _, next := range sorted {
		acc, ok := open[next.EntityID]
		if !ok || acc.Mutation == models.MutationDelete || next.Mutation == models.MutationCreate {
			c := next.Clone()
			open[next.EntityID] = c
			kept[c.LocalSeq] = c
			continue
		}

		var merged *models.JournalEntry
		switch next.Mutation {
		case models.MutationDelete:
			merged = next.Clone()
			merged.Premium = acc.Premium || next.Premium
		default:
			merged = next.Clone()
			merged.Mutation = acc.Mutation
			merged.Delta = MergeDelta(acc.Delta, next.Delta)
			merged.BaseVersion = acc.BaseVersion
			merged.Premium = acc.Premium || next.Premium
			if acc.Attempts > merged.Attempts {
				merged.Attempts = acc.Attempts
			}
		}

		merged.Supersedes = absorb(acc, next)

		delete(kept, acc.LocalSeq)
		result.Removed = append(result.Removed, acc.LocalSeq)
		open[next.EntityID] = merged
		kept[merged.LocalSeq] = merged
	}

	for _, e := range kept {
		result.Kept = append(result.Kept, e)
	}
	sort.Slice(result.Kept, func(i, j int) bool { return result.Kept[i].LocalSeq < result.Kept[j].LocalSeq })
	sort.Slice(result.Removed, func(i, j int) bool { return result.Removed[i] < result.Removed[j] })

	return result
}

// absorb собирает LocalSeq, поглощенные выжившей записью next, в порядке возрастания
func absorb(acc, next *models.JournalEntry) []uint64 {
	seqs := make([]uint64, 0, len(acc.Supersedes)+len(next.Supersedes)+1)
	seqs = append(seqs, acc.Supersedes...)
	seqs = append(seqs, acc.LocalSeq)
	seqs = append(seqs, next.Supersedes...)
	slices.Sort(seqs)
	return slices.Compact(seqs)
}
