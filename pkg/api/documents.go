package api

// MutationRequest представляет одну мутацию документа, отправляемую клиентом.
// Повторная отправка с тем же заголовком Idempotency-Key безопасна.
type MutationRequest struct {
	Fields      map[string]any `json:"fields,omitempty"` // измененные поля (для create - все поля)
	Kind        string         `json:"kind"`             // тип документа (pulse, membership)
	Mutation    string         `json:"mutation"`         // create, update, delete
	BaseVersion int64          `json:"base_version"`     // серверная версия, на которой основано изменение
	UpdatedAt   int64          `json:"updated_at"`       // Lamport timestamp клиента
	Premium     bool           `json:"premium,omitempty"`
}

// MutationResponse представляет подтверждение мутации
type MutationResponse struct {
	EntityID      string `json:"entity_id"`
	ServerVersion int64  `json:"server_version"` // версия документа после применения
	Cursor        int64  `json:"cursor"`         // позиция изменения в ленте
	Duplicate     bool   `json:"duplicate"`      // мутация уже была применена ранее
}

// Document представляет серверное состояние документа
type Document struct {
	Fields    map[string]any `json:"fields"`
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Version   int64          `json:"version"`
	UpdatedAt int64          `json:"updated_at"`
	Cursor    int64          `json:"cursor"` // позиция последнего изменения документа в ленте
	Deleted   bool           `json:"deleted"`
}

// ChangeEvent представляет одно изменение в ленте изменений
type ChangeEvent struct {
	Payload       map[string]any `json:"payload,omitempty"`
	EntityID      string         `json:"entity_id"`
	Kind          string         `json:"kind"`
	Cursor        int64          `json:"cursor"`
	ServerVersion int64          `json:"server_version"`
	UpdatedAt     int64          `json:"updated_at"` // Lamport timestamp устройства-автора
	Tombstone     bool           `json:"tombstone"`
}

// ChangesResponse представляет страницу ленты изменений
type ChangesResponse struct {
	Changes []ChangeEvent `json:"changes"`
	Cursor  int64         `json:"cursor"` // курсор для следующего запроса
}

// ChangeSubject возвращает NATS subject для изменений документов заданного типа
func ChangeSubject(kind string) string {
	return ChangeSubjectPrefix + kind
}

// ChangeSubjectPrefix префикс NATS subjects ленты изменений
const ChangeSubjectPrefix = "pulses.changes."

// IdempotencyKeyHeader заголовок с ключом идемпотентности мутации
const IdempotencyKeyHeader = "Idempotency-Key"
