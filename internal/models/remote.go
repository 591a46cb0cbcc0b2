package models

// RemoteEvent изменение документа, доставленное с сервера.
// Порядок гарантируется только в пределах одной сущности.
type RemoteEvent struct {
	Payload       Fields `json:"payload,omitempty"` // Payload полный снимок полей документа
	EntityID      string `json:"entity_id"`
	Kind          string `json:"kind"`
	ServerVersion int64  `json:"server_version"` // ServerVersion ревизия, присвоенная сервером
	Cursor        int64  `json:"cursor"`         // Cursor позиция в ленте изменений (для возобновления подписки)
	UpdatedAt     int64  `json:"updated_at"`     // UpdatedAt Lamport отметка устройства-автора
	Tombstone     bool   `json:"tombstone"`      // Tombstone документ удален на сервере
}

// ConflictRecord запись аудита конфликта слияния
type ConflictRecord struct {
	LocalValues   Fields   `json:"local_values"`
	RemoteValues  Fields   `json:"remote_values"`
	EntityID      string   `json:"entity_id"`
	Fields        []string `json:"fields"`
	ServerVersion int64    `json:"server_version"`
	DetectedAt    int64    `json:"detected_at"` // DetectedAt unix millis
}
