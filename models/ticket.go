package models

import "time"

// TicketStatus представляет статусы билета, соответствующие ENUM в БД.
type TicketStatus string

const (
	TicketStatusValid     TicketStatus = "valid"
	TicketStatusCheckedIn TicketStatus = "checked_in"
	TicketStatusRefunded  TicketStatus = "refunded"
	TicketStatusVoid      TicketStatus = "void"
)

// PaymentStatus отражает состояние оплаты билета.
type PaymentStatus string

const (
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFree     PaymentStatus = "free"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Ticket представляет билет участника турнира.
// ticket_code неизменяем после выпуска, формат BOD-XXXXXXXX.
type Ticket struct {
	ID               int           `json:"id" db:"id"`
	TicketCode       string        `json:"ticket_code" db:"ticket_code"`
	TournamentID     int           `json:"tournament_id" db:"tournament_id"`
	UserID           int           `json:"user_id" db:"user_id"`
	PlayerID         int           `json:"player_id" db:"player_id"`
	TeamID           *int          `json:"team_id,omitempty" db:"team_id"`
	Status           TicketStatus  `json:"status" db:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status" db:"payment_status"`
	AmountPaid       int           `json:"amount_paid" db:"amount_paid"` // в центах
	QRKey            *string       `json:"-" db:"qr_key"`
	QRURL            *string       `json:"qr_url,omitempty" db:"-"`
	CheckedInAt      *time.Time    `json:"checked_in_at,omitempty" db:"checked_in_at"`
	CheckedInBy      *int          `json:"checked_in_by,omitempty" db:"checked_in_by"`
	EmailSentAt      *time.Time    `json:"email_sent_at,omitempty" db:"email_sent_at"`
	EmailResendCount int           `json:"email_resend_count" db:"email_resend_count"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`

	// Опциональные связанные сущности (не мапятся напрямую)
	Player     *Player      `json:"player,omitempty" db:"-"`
	Team       *Team        `json:"team,omitempty" db:"-"`
	Tournament *Tournament  `json:"tournament,omitempty" db:"-"`
	Operator   *OperatorRef `json:"checked_in_by_user,omitempty" db:"-"`
}

// CanCheckIn сообщает, допускает ли текущий статус регистрацию на входе.
func (t Ticket) CanCheckIn() bool {
	return t.Status == TicketStatusValid
}

func (t Ticket) IsCheckedIn() bool {
	return t.Status == TicketStatusCheckedIn
}

// OperatorRef identifies the staff member who performed a check-in.
type OperatorRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TicketStats агрегированная статистика билетов турнира.
type TicketStats struct {
	Total             int `json:"total"`
	Valid             int `json:"valid"`
	CheckedIn         int `json:"checked_in"`
	Refunded          int `json:"refunded"`
	Voided            int `json:"voided"`
	Revenue           int `json:"revenue"` // сумма amount_paid по оплаченным, в центах
	FreeRegistrations int `json:"free_registrations"`
}
