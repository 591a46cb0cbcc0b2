package models

import (
	"slices"
	"time"
)

// MutationType тип локальной мутации
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
)

// Valid проверяет, что тип мутации известен
func (m MutationType) Valid() bool {
	switch m {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// JournalEntry элемент журнала изменений (очередь офлайн-записей).
// Удаляется только после подтверждения сервером или при компактизации.
type JournalEntry struct {
	EnqueuedAt     time.Time    `json:"enqueued_at"`
	Delta          Fields       `json:"delta,omitempty"`      // Delta измененные поля (для Create - все поля)
	EntityID       string       `json:"entity_id"`            // EntityID идентификатор сущности
	Kind           string       `json:"kind"`                 // Kind тип сущности
	Mutation       MutationType `json:"mutation"`             // Mutation тип мутации
	IdempotencyKey string       `json:"idempotency_key"`      // IdempotencyKey ключ идемпотентности для повторных отправок
	LocalSeq       uint64       `json:"local_seq"`            // LocalSeq строго возрастающий номер, определяет порядок отправки
	BaseVersion    int64        `json:"base_version"`         // BaseVersion серверная версия, на которой основано изменение
	Attempts       int          `json:"attempts"`             // Attempts количество неудачных попыток (ошибки сериализации)
	UpdatedAt      int64        `json:"updated_at"`           // UpdatedAt Lamport отметка локального изменения
	Supersedes     []uint64     `json:"supersedes,omitempty"` // Supersedes LocalSeq записей, поглощенных при компактизации
	Premium        bool         `json:"premium,omitempty"`    // Premium мутация требует платной подписки
}

// Seqs возвращает LocalSeq поглощенных записей и самой записи.
// Итог записи относится ко всем ним.
func (e *JournalEntry) Seqs() []uint64 {
	seqs := make([]uint64, 0, len(e.Supersedes)+1)
	seqs = append(seqs, e.Supersedes...)
	return append(seqs, e.LocalSeq)
}

// Clone создает глубокую копию элемента журнала
func (e *JournalEntry) Clone() *JournalEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Delta = e.Delta.Clone()
	c.Supersedes = slices.Clone(e.Supersedes)
	return &c
}

// Intent намерение пользователя, поступающее из UI слоя
type Intent struct {
	Fields   Fields       // Fields новые значения полей (для Delete не используется)
	EntityID string       // EntityID пустой для Create - будет сгенерирован
	Kind     string       // Kind тип сущности
	Mutation MutationType // Mutation тип мутации
	Premium  bool         // Premium мутация доступна только на платном тарифе
}

// WriteState итоговое состояние записи для UI
type WriteState string

const (
	WriteSynced     WriteState = "synced"
	WritePending    WriteState = "pending"
	WriteConflicted WriteState = "conflicted"
	WriteRejected   WriteState = "rejected"
)

// Причины отклонения
const (
	ReasonPermissionDenied = "permission_denied"
	ReasonDeletedRemotely  = "deleted_remotely"
	ReasonSerialization    = "serialization_error"
	ReasonCorruptState     = "corrupt_local_state"
	ReasonRemoteRejected   = "remote_rejected" // повторные конфликты версий не удалось разрешить
)

// WriteStatus статус локальной записи, разрешаемый асинхронно
type WriteStatus struct {
	State  WriteState `json:"state"`
	Reason string     `json:"reason,omitempty"`
}

// WriteResult результат принятия намерения
type WriteResult struct {
	Status   WriteStatus
	EntityID string
	LocalSeq uint64
}

// StatusUpdate уведомление UI об изменении статуса записи
type StatusUpdate struct {
	Status   WriteStatus
	EntityID string
	LocalSeq uint64
}
