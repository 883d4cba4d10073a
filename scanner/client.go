package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrTicketNotFound = errors.New("ticket not found")

// TicketInfo — билет в том виде, в котором его отдаёт сервер.
type TicketInfo struct {
	ID          int        `json:"id"`
	TicketCode  string     `json:"ticket_code"`
	Status      string     `json:"status"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	Player      *struct {
		ID        int    `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"player,omitempty"`
	Team *struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"team,omitempty"`
	Tournament *struct {
		ID        int    `json:"id"`
		Name      string `json:"name"`
		BodNumber int    `json:"bod_number"`
	} `json:"tournament,omitempty"`
	Operator *struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"checked_in_by_user,omitempty"`
}

// PlayerName возвращает имя игрока для сообщений интерфейса.
func (t *TicketInfo) PlayerName() string {
	if t.Player == nil {
		return ""
	}
	return strings.TrimSpace(t.Player.FirstName + " " + t.Player.LastName)
}

// TicketCheck — результат поиска билета с серверными флагами.
// Клиент не перевычисляет флаги из статуса, он доверяет серверу.
type TicketCheck struct {
	Ticket           *TicketInfo `json:"ticket"`
	AlreadyCheckedIn bool        `json:"already_checked_in"`
	CanCheckIn       bool        `json:"can_check_in"`
}

// Client — HTTP-клиент API билетов для стойки регистрации.
// Конкурентные поиски одного кода схлопываются в один запрос.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	group   singleflight.Group
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// LookupTicket ищет билет по коду. Запрос идемпотентный, его можно
// повторять без побочных эффектов.
func (c *Client) LookupTicket(ctx context.Context, code string) (*TicketCheck, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	v, err, _ := c.group.Do("lookup:"+code, func() (interface{}, error) {
		var result TicketCheck
		if err := c.doJSON(ctx, http.MethodGet, "/tickets/lookup/"+code, &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TicketCheck), nil
}

type checkInResponse struct {
	Ticket *TicketInfo `json:"ticket"`
}

// CheckInTicket регистрирует билет. Сервер гарантирует, что повторный
// вызов для того же билета вернёт конфликт, а не вторую регистрацию.
func (c *Client) CheckInTicket(ctx context.Context, ticketID int) (*TicketInfo, error) {
	var result checkInResponse
	path := fmt.Sprintf("/tickets/%d/check-in", ticketID)
	if err := c.doJSON(ctx, http.MethodPost, path, &result); err != nil {
		return nil, err
	}
	return result.Ticket, nil
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// APIError — ошибка, которую сервер вернул с осмысленным сообщением.
// Транспортные сбои (таймаут, обрыв соединения) ею не являются.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func (c *Client) doJSON(ctx context.Context, method, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTicketNotFound
	}
	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr == nil && envelope.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: envelope.Error}
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
