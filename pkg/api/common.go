package api

// ErrorResponse тело ответа с ошибкой.
// Клиент синхронизации классифицирует ошибку по HTTP статусу, Error идет в лог.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse ответ health check с текущим курсором ленты изменений
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Cursor  int64  `json:"cursor"`
}
