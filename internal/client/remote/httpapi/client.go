package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/startuppulse/pulsesync/internal/client/remote"
	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/pkg/api"
)

// Client представляет HTTP клиент документного сервиса.
// Реализует remote.Gateway.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	pollWait   time.Duration
}

// Option настраивает Client
type Option func(*Client)

// WithToken задает bearer токен доступа
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient заменяет HTTP клиент
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger задает логгер
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPollWait задает время ожидания long-poll запроса ленты изменений
func WithPollWait(d time.Duration) Option {
	return func(c *Client) { c.pollWait = d }
}

// NewClient создает новый API клиент
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		logger:   slog.Default(),
		pollWait: 25 * time.Second,
		httpClient: &http.Client{
			// Long-poll запросы ограничиваются контекстом, а не общим таймаутом
			Timeout: 0,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send отправляет мутацию документа
func (c *Client) Send(ctx context.Context, entry *models.JournalEntry) (remote.Ack, error) {
	req := api.MutationRequest{
		Kind:        entry.Kind,
		Mutation:    string(entry.Mutation),
		Fields:      entry.Delta,
		BaseVersion: entry.BaseVersion,
		UpdatedAt:   entry.UpdatedAt,
		Premium:     entry.Premium,
	}

	headers := http.Header{}
	headers.Set(api.IdempotencyKeyHeader, entry.IdempotencyKey)

	var resp api.MutationResponse
	path := "/api/v1/documents/" + url.PathEscape(entry.EntityID) + "/mutations"
	if err := c.doRequest(ctx, "send", http.MethodPost, path, headers, req, &resp); err != nil {
		return remote.Ack{}, err
	}

	return remote.Ack{
		ServerVersion: resp.ServerVersion,
		Cursor:        resp.Cursor,
		Duplicate:     resp.Duplicate,
	}, nil
}

// Fetch получает текущее состояние документа
func (c *Client) Fetch(ctx context.Context, entityID string) (models.RemoteEvent, error) {
	var doc api.Document
	path := "/api/v1/documents/" + url.PathEscape(entityID)
	if err := c.doRequest(ctx, "fetch", http.MethodGet, path, nil, nil, &doc); err != nil {
		var re *remote.Error
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return models.RemoteEvent{}, fmt.Errorf("fetch %q: %w", entityID, remote.ErrNotFound)
		}
		return models.RemoteEvent{}, err
	}

	return models.RemoteEvent{
		EntityID:      doc.ID,
		Kind:          doc.Kind,
		ServerVersion: doc.Version,
		Payload:       doc.Fields,
		Tombstone:     doc.Deleted,
		Cursor:        doc.Cursor,
		UpdatedAt:     doc.UpdatedAt,
	}, nil
}

// Changes запрашивает страницу ленты изменений после курсора.
// wait > 0 включает long-poll: сервер держит запрос, пока нет изменений.
func (c *Client) Changes(ctx context.Context, filter remote.Filter, after int64, wait time.Duration) (api.ChangesResponse, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	for _, kind := range filter.Kinds {
		q.Add("kind", kind)
	}

	var resp api.ChangesResponse
	err := c.doRequest(ctx, "changes", http.MethodGet, "/api/v1/changes?"+q.Encode(), nil, nil, &resp)
	if err != nil {
		var re *remote.Error
		if errors.As(err, &re) && re.Status == http.StatusPreconditionFailed {
			return api.ChangesResponse{}, fmt.Errorf("changes after %d: %w", after, remote.ErrResumeUnavailable)
		}
		return api.ChangesResponse{}, err
	}
	return resp, nil
}

// Subscribe открывает ленту изменений через long-poll
func (c *Client) Subscribe(ctx context.Context, filter remote.Filter, cursor int64) (remote.Stream, error) {
	// Первая страница запрашивается синхронно, чтобы сразу сообщить о невозможности возобновления
	first, err := c.Changes(ctx, filter, cursor, 0)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	stream := remote.NewChanStream(64, cancel)

	go c.poll(pollCtx, stream, filter, first)

	return stream, nil
}

func (c *Client) poll(ctx context.Context, stream *remote.ChanStream, filter remote.Filter, page api.ChangesResponse) {
	for {
		for _, ch := range page.Changes {
			if !stream.Emit(EventFromChange(ch)) {
				stream.Finish(nil)
				return
			}
		}

		next, err := c.Changes(ctx, filter, page.Cursor, c.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				stream.Finish(nil)
				return
			}
			c.logger.Warn("Change feed poll failed", "cursor", page.Cursor, "error", err)
			stream.Finish(err)
			return
		}
		page = next
	}
}

// VerifyEntitlement вызывает серверную функцию проверки покупки
func (c *Client) VerifyEntitlement(ctx context.Context, req remote.VerifyRequest) (remote.VerifyResponse, error) {
	body := api.VerifyEntitlementRequest{PurchaseToken: req.PurchaseToken, SKU: req.SKU}

	var resp api.VerifyEntitlementResponse
	if err := c.doRequest(ctx, "verifyEntitlement", http.MethodPost, "/api/v1/functions/verifyEntitlement", nil, body, &resp); err != nil {
		return remote.VerifyResponse{}, err
	}

	return remote.VerifyResponse{
		Token:     resp.Token,
		Tier:      models.Tier(resp.Tier),
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// EventFromChange преобразует элемент ленты в RemoteEvent
func EventFromChange(ch api.ChangeEvent) models.RemoteEvent {
	return models.RemoteEvent{
		EntityID:      ch.EntityID,
		Kind:          ch.Kind,
		ServerVersion: ch.ServerVersion,
		Payload:       ch.Payload,
		Tombstone:     ch.Tombstone,
		Cursor:        ch.Cursor,
		UpdatedAt:     ch.UpdatedAt,
	}
}

// doRequest выполняет HTTP запрос и классифицирует ошибки
func (c *Client) doRequest(ctx context.Context, op, method, path string, headers http.Header, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return remote.NewError(op, remote.KindSerialization, fmt.Errorf("failed to marshal request body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return remote.NewError(op, remote.KindSerialization, fmt.Errorf("failed to create request: %w", err))
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remote.NewError(op, remote.KindTransient, fmt.Errorf("request failed: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.NewError(op, remote.KindTransient, fmt.Errorf("failed to read response body: %w", err))
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rerr := &remote.Error{
			Op:     op,
			Kind:   remote.KindForStatus(resp.StatusCode),
			Status: resp.StatusCode,
		}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			rerr.Message = errResp.Error
			if errResp.Message != "" {
				rerr.Message += ": " + errResp.Message
			}
		} else {
			rerr.Message = string(respBody)
		}
		return rerr
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return remote.NewError(op, remote.KindSerialization, fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return nil
}

var _ remote.Gateway = (*Client)(nil)
