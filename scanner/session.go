package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State — состояние сессии сканирования.
type State string

const (
	StateIdle                   State = "idle"
	StateLookingUp              State = "looking_up"
	StateCheckingIn             State = "checking_in"
	StateResultValid            State = "result_valid"
	StateResultAlreadyCheckedIn State = "result_already_checked_in"
	StateResultRefundedOrVoid   State = "result_refunded_or_void"
	StateResultError            State = "result_error"
)

const defaultResetDelay = 2 * time.Second

var (
	ErrSessionBusy   = errors.New("session is busy")
	ErrNothingToDo   = errors.New("no valid ticket to check in")
	ErrSessionClosed = errors.New("session is closed")
)

// TicketAPI — то, что сессии нужно от сервера билетов.
type TicketAPI interface {
	LookupTicket(ctx context.Context, code string) (*TicketCheck, error)
	CheckInTicket(ctx context.Context, ticketID int) (*TicketInfo, error)
}

// Snapshot — срез состояния сессии для отрисовки интерфейса.
type Snapshot struct {
	State          State
	Ticket         *TicketCheck
	ErrorMessage   string
	SuccessMessage string
	CheckedIn      int
}

// Session — конечный автомат одной смены на стойке регистрации.
// Скан ведёт к поиску, подтверждение — к регистрации; повторный скан
// того же кода при показанном результате подавляется. После успешной
// регистрации результат держится на экране и сбрасывается по таймеру,
// который отменяется новым сканом или ручным сбросом.
type Session struct {
	api        TicketAPI
	resetDelay time.Duration

	mu         sync.Mutex
	state      State
	current    *TicketCheck
	errMsg     string
	successMsg string
	lastCode   string
	checkedIn  int
	seq        uint64
	resetTimer *time.Timer
	closed     bool
}

func NewSession(api TicketAPI) *Session {
	return &Session{
		api:        api,
		resetDelay: defaultResetDelay,
		state:      StateIdle,
	}
}

// SetResetDelay меняет задержку авто-сброса после успешной регистрации.
func (s *Session) SetResetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.resetDelay = d
	}
}

// Scan обрабатывает код с камеры или из ручного ввода.
// Во время активного поиска или регистрации новые коды игнорируются.
func (s *Session) Scan(ctx context.Context, rawCode string) error {
	code := NormalizeCode(rawCode)
	if code == "" {
		return ErrEmptyCode
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateLookingUp || s.state == StateCheckingIn {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	// Повторный скан того же кода при показанном результате — шум камеры
	if code == s.lastCode && s.isShowingResult() {
		s.mu.Unlock()
		return nil
	}

	s.cancelResetLocked()
	s.state = StateLookingUp
	s.lastCode = code
	s.current = nil
	s.errMsg = ""
	s.successMsg = ""
	seq := s.seq
	s.mu.Unlock()

	result, err := s.api.LookupTicket(ctx, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.seq != seq {
		// Сессию сбросили или закрыли, пока шёл запрос
		return nil
	}

	if err != nil {
		s.state = StateResultError
		var apiErr *APIError
		switch {
		case errors.Is(err, ErrTicketNotFound):
			s.errMsg = "ticket not found"
		case errors.As(err, &apiErr):
			// Сообщение сервера показываем как есть
			s.errMsg = apiErr.Message
		default:
			s.errMsg = "failed to lookup ticket"
		}
		return nil
	}
	if result == nil || result.Ticket == nil {
		s.state = StateIdle
		return nil
	}

	s.current = result
	switch {
	case result.AlreadyCheckedIn:
		s.state = StateResultAlreadyCheckedIn
	case result.Ticket.Status == "refunded" || result.Ticket.Status == "void":
		s.state = StateResultRefundedOrVoid
	default:
		s.state = StateResultValid
	}
	return nil
}

// Confirm регистрирует найденный билет. Допустим только когда показан
// валидный билет с can_check_in от сервера.
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateResultValid || s.current == nil || !s.current.CanCheckIn {
		s.mu.Unlock()
		return ErrNothingToDo
	}

	ticket := s.current.Ticket
	s.state = StateCheckingIn
	s.errMsg = ""
	seq := s.seq
	s.mu.Unlock()

	updated, err := s.api.CheckInTicket(ctx, ticket.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.seq != seq {
		return nil
	}

	if err != nil {
		// Регистрация не прошла: билет остаётся на экране, оператор видит ошибку
		s.state = StateResultValid
		s.errMsg = err.Error()
		return nil
	}

	if updated != nil {
		s.current.Ticket = updated
		s.current.AlreadyCheckedIn = true
		s.current.CanCheckIn = false
	}
	s.checkedIn++
	name := ticket.PlayerName()
	if name != "" {
		s.successMsg = fmt.Sprintf("%s checked in", name)
	} else {
		s.successMsg = fmt.Sprintf("%s checked in", ticket.TicketCode)
	}
	s.state = StateIdle
	s.scheduleResetLocked()
	return nil
}

// Reset вручную очищает результат и отменяет авто-сброс.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.cancelResetLocked()
	s.seq++
	s.state = StateIdle
	s.current = nil
	s.errMsg = ""
	s.successMsg = ""
	s.lastCode = ""
}

// Close завершает сессию. Счётчик регистраций сохраняется.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelResetLocked()
	s.seq++
	s.closed = true
}

func (s *Session) scheduleResetLocked() {
	s.cancelResetLocked()
	seq := s.seq
	s.resetTimer = time.AfterFunc(s.resetDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.seq != seq {
			return
		}
		s.resetLocked()
	})
}

func (s *Session) cancelResetLocked() {
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
		// Таймер мог уже сработать и ждать мьютекс: смена поколения
		// гарантирует, что его сброс не затрёт новый результат.
		s.seq++
	}
}

func (s *Session) isShowingResult() bool {
	switch s.state {
	case StateResultValid, StateResultAlreadyCheckedIn, StateResultRefundedOrVoid:
		return true
	}
	// После успешной регистрации билет ещё на экране до авто-сброса
	return s.state == StateIdle && s.current != nil
}

// Snapshot возвращает копию состояния для отрисовки.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:          s.state,
		Ticket:         s.current,
		ErrorMessage:   s.errMsg,
		SuccessMessage: s.successMsg,
		CheckedIn:      s.checkedIn,
	}
}

// CheckedInCount — число регистраций за сессию.
func (s *Session) CheckedInCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkedIn
}
