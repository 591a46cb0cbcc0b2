package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// SyncState состояние синхронизации локальной записи
type SyncState string

const (
	SyncStateClean         SyncState = "clean"          // совпадает с последней подтвержденной серверной версией
	SyncStatePendingWrite  SyncState = "pending_write"  // есть неподтвержденные Create/Update
	SyncStatePendingDelete SyncState = "pending_delete" // есть неподтвержденный Delete
	SyncStateConflicted    SyncState = "conflicted"     // локальные значения сохранены поверх конкурентных серверных
)

// Valid проверяет, что состояние известно
func (s SyncState) Valid() bool {
	switch s {
	case SyncStateClean, SyncStatePendingWrite, SyncStatePendingDelete, SyncStateConflicted:
		return true
	}
	return false
}

// ErrInvalidRecord возвращается Validate при нарушении инвариантов записи
var ErrInvalidRecord = errors.New("invalid local record")

// LocalRecord оборачивает Entity состоянием синхронизации.
// Принадлежит Local Store, изменяется только через переходы Sync Engine.
type LocalRecord struct {
	AckedAt          time.Time `json:"acked_at"`          // AckedAt время последнего подтверждения сервером
	BaseFields       Fields    `json:"base_fields"`       // BaseFields последняя подтвержденная сервером версия полей (база для 3-way merge)
	Entity           Entity    `json:"entity"`            // Entity текущее (оптимистичное) состояние документа
	SyncState        SyncState `json:"sync_state"`        // SyncState состояние синхронизации
	Failure          string    `json:"failure,omitempty"` // Failure видимый пользователю маркер ошибки синхронизации
	ConflictedFields []string  `json:"conflicted_fields,omitempty"`
	BaseVersion      int64     `json:"base_version"` // BaseVersion последняя версия, подтвержденная сервером
	Quarantined      bool      `json:"quarantined"`  // Quarantined запись повреждена и ожидает ресинхронизации
}

// NewRecord создает запись для новой сущности
func NewRecord(entity Entity) *LocalRecord {
	return &LocalRecord{
		Entity:    entity,
		SyncState: SyncStateClean,
	}
}

// Clone создает глубокую копию записи
func (r *LocalRecord) Clone() *LocalRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Entity = *r.Entity.Clone()
	c.BaseFields = r.BaseFields.Clone()
	if r.ConflictedFields != nil {
		c.ConflictedFields = append([]string(nil), r.ConflictedFields...)
	}
	return &c
}

// ID возвращает идентификатор сущности
func (r *LocalRecord) ID() string {
	return r.Entity.ID
}

// IsTombstone сообщает, помечена ли запись как удаленная
func (r *LocalRecord) IsTombstone() bool {
	return r.Entity.Deleted
}

// MarkConflicted добавляет поля в список конфликтных и переводит запись в Conflicted
func (r *LocalRecord) MarkConflicted(fields []string) {
	if len(fields) == 0 {
		return
	}
	set := make(map[string]struct{}, len(r.ConflictedFields)+len(fields))
	for _, f := range r.ConflictedFields {
		set[f] = struct{}{}
	}
	for _, f := range fields {
		set[f] = struct{}{}
	}
	r.ConflictedFields = r.ConflictedFields[:0]
	for f := range set {
		r.ConflictedFields = append(r.ConflictedFields, f)
	}
	sort.Strings(r.ConflictedFields)
	r.SyncState = SyncStateConflicted
}

// Validate проверяет инварианты записи
func (r *LocalRecord) Validate() error {
	if r.Entity.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if !r.SyncState.Valid() {
		return fmt.Errorf("%w: unknown sync state %q", ErrInvalidRecord, r.SyncState)
	}
	if r.Entity.Version < 0 || r.BaseVersion < 0 {
		return fmt.Errorf("%w: negative version", ErrInvalidRecord)
	}
	if r.BaseVersion > r.Entity.Version {
		return fmt.Errorf("%w: base version %d ahead of entity version %d",
			ErrInvalidRecord, r.BaseVersion, r.Entity.Version)
	}
	return nil
}
