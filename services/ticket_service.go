package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/njhughes-01/bod-ticketing/models"
	"github.com/njhughes-01/bod-ticketing/qr"
	"github.com/njhughes-01/bod-ticketing/repositories"
	"github.com/njhughes-01/bod-ticketing/storage"
)

const (
	ticketCodePrefix    = "BOD-"
	ticketCodeBytes     = 4 // 8 hex-символов после префикса
	ticketCodeAttempts  = 3 // Попытки сгенерировать уникальный код
	maxEmailResendCount = 5
)

// TicketLookupResult — билет плюс производные флаги для стойки регистрации.
// Флаги вычисляются на сервере, клиент им доверяет как есть.
type TicketLookupResult struct {
	Ticket           *models.Ticket `json:"ticket"`
	AlreadyCheckedIn bool           `json:"already_checked_in"`
	CanCheckIn       bool           `json:"can_check_in"`
}

type IssueTicketInput struct {
	TournamentID  int                  `json:"tournament_id"`
	UserID        int                  `json:"user_id"`
	PlayerID      int                  `json:"player_id"`
	TeamID        *int                 `json:"team_id,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	AmountPaid    int                  `json:"amount_paid"`
}

// CheckinNotifier рассылает события регистрации подписчикам турнира.
type CheckinNotifier interface {
	BroadcastTicketCheckedIn(tournamentID int, ticket *models.Ticket)
}

// EmailSender отправляет письмо с подтверждением билета.
type EmailSender interface {
	SendTicketConfirmation(ctx context.Context, ticket *models.Ticket, recipient string) error
}

type TicketService interface {
	LookupByCode(ctx context.Context, code string) (*TicketLookupResult, error)
	CheckIn(ctx context.Context, ticketID int, operatorID int) (*models.Ticket, error)
	IssueTicket(ctx context.Context, input IssueTicketInput) (*models.Ticket, error)
	VoidTicket(ctx context.Context, ticketID int) (*models.Ticket, error)
	RefundTicket(ctx context.Context, ticketID int) (*models.Ticket, error)
	GetByID(ctx context.Context, ticketID int, currentUserID int, currentRole models.UserRole) (*models.Ticket, error)
	ListForUser(ctx context.Context, userID int) ([]*models.Ticket, error)
	ListForTournament(ctx context.Context, tournamentID int, statusFilter *models.TicketStatus) ([]*models.Ticket, error)
	StatsForTournament(ctx context.Context, tournamentID int) (*models.TicketStats, error)
	ResendEmail(ctx context.Context, ticketID int, currentUserID int) error
}

type ticketService struct {
	ticketRepo     repositories.TicketRepository
	tournamentRepo repositories.TournamentRepository
	userRepo       repositories.UserRepository
	qrGen          *qr.Generator
	uploader       storage.FileUploader
	emailSender    EmailSender
	notifier       CheckinNotifier
	logger         *slog.Logger
}

func NewTicketService(
	ticketRepo repositories.TicketRepository,
	tournamentRepo repositories.TournamentRepository,
	userRepo repositories.UserRepository,
	qrGen *qr.Generator,
	uploader storage.FileUploader,
	emailSender EmailSender,
	notifier CheckinNotifier,
	logger *slog.Logger,
) TicketService {
	return &ticketService{
		ticketRepo:     ticketRepo,
		tournamentRepo: tournamentRepo,
		userRepo:       userRepo,
		qrGen:          qrGen,
		uploader:       uploader,
		emailSender:    emailSender,
		notifier:       notifier,
		logger:         logger,
	}
}

// NormalizeTicketCode приводит отсканированный или введённый вручную код
// к каноническому виду: без краевых пробелов, в верхнем регистре.
func NormalizeTicketCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LookupByCode находит билет и вычисляет флаги для интерфейса регистрации.
// Никаких побочных эффектов: сколько бы раз ни искали один код, состояние
// билета не меняется.
func (s *ticketService) LookupByCode(ctx context.Context, code string) (*TicketLookupResult, error) {
	code = NormalizeTicketCode(code)
	if code == "" {
		return nil, ErrTicketCodeInvalid
	}

	ticket, err := s.ticketRepo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to lookup ticket by code: %w", err)
	}

	return &TicketLookupResult{
		Ticket:           ticket,
		AlreadyCheckedIn: ticket.IsCheckedIn(),
		CanCheckIn:       ticket.CanCheckIn(),
	}, nil
}

// CheckIn атомарно переводит билет из valid в checked_in. Если условное
// обновление не прошло, текущий статус перечитывается, чтобы вернуть
// точную причину конфликта.
func (s *ticketService) CheckIn(ctx context.Context, ticketID int, operatorID int) (*models.Ticket, error) {
	_, err := s.ticketRepo.CheckIn(ctx, ticketID, operatorID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotValid) {
			return nil, s.classifyCheckInConflict(ctx, ticketID)
		}
		return nil, fmt.Errorf("failed to check in ticket %d: %w", ticketID, err)
	}

	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload ticket %d after check-in: %w", ticketID, err)
	}

	if s.notifier != nil {
		s.notifier.BroadcastTicketCheckedIn(ticket.TournamentID, ticket)
	}

	s.logger.Info("ticket checked in",
		slog.Int("ticket_id", ticket.ID),
		slog.String("ticket_code", ticket.TicketCode),
		slog.Int("operator_id", operatorID),
	)

	return ticket, nil
}

func (s *ticketService) classifyCheckInConflict(ctx context.Context, ticketID int) error {
	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotFound) {
			return ErrTicketNotFound
		}
		return fmt.Errorf("failed to classify check-in conflict for ticket %d: %w", ticketID, err)
	}

	switch ticket.Status {
	case models.TicketStatusCheckedIn:
		return ErrTicketAlreadyCheckedIn
	case models.TicketStatusRefunded:
		return ErrTicketRefunded
	case models.TicketStatusVoid:
		return ErrTicketVoid
	default:
		return ErrTicketStatusConflict
	}
}

func generateTicketCode() (string, error) {
	bytes := make([]byte, ticketCodeBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return ticketCodePrefix + strings.ToUpper(hex.EncodeToString(bytes)), nil
}

func (s *ticketService) IssueTicket(ctx context.Context, input IssueTicketInput) (*models.Ticket, error) {
	if _, err := s.tournamentRepo.GetByID(ctx, input.TournamentID); err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", input.TournamentID, err)
	}

	paymentStatus := input.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = models.PaymentStatusPaid
	}

	var ticket *models.Ticket
	for attempt := 0; attempt < ticketCodeAttempts; attempt++ {
		code, err := generateTicketCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTicketCodeGeneration, err)
		}

		ticket = &models.Ticket{
			TicketCode:    code,
			TournamentID:  input.TournamentID,
			UserID:        input.UserID,
			PlayerID:      input.PlayerID,
			TeamID:        input.TeamID,
			Status:        models.TicketStatusValid,
			PaymentStatus: paymentStatus,
			AmountPaid:    input.AmountPaid,
		}

		err = s.ticketRepo.Create(ctx, ticket)
		if err == nil {
			break
		}

		// Конфликт кода — пробуем сгенерировать заново
		if errors.Is(err, repositories.ErrTicketCodeConflict) {
			ticket = nil
			continue
		}
		switch {
		case errors.Is(err, repositories.ErrTicketUserInvalid):
			return nil, ErrUserNotFound
		case errors.Is(err, repositories.ErrTicketTournamentInvalid):
			return nil, ErrTournamentNotFound
		case errors.Is(err, repositories.ErrTicketPlayerInvalid),
			errors.Is(err, repositories.ErrTicketTeamInvalid):
			return nil, ErrValidationFailed
		}
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	if ticket == nil {
		return nil, fmt.Errorf("%w after %d attempts", ErrTicketCodeGeneration, ticketCodeAttempts)
	}

	// QR и письмо — best effort: выпущенный билет важнее, чем вложение к нему.
	if err := s.attachQRCode(ctx, ticket); err != nil {
		s.logger.Error("failed to attach qr code to ticket",
			slog.Int("ticket_id", ticket.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.sendConfirmation(ctx, ticket); err != nil {
		s.logger.Error("failed to send ticket confirmation email",
			slog.Int("ticket_id", ticket.ID),
			slog.String("error", err.Error()),
		)
	}

	created, err := s.ticketRepo.FindByID(ctx, ticket.ID)
	if err != nil {
		return ticket, nil
	}
	return created, nil
}

func (s *ticketService) attachQRCode(ctx context.Context, ticket *models.Ticket) error {
	if s.qrGen == nil || s.uploader == nil {
		return nil
	}

	png, err := s.qrGen.EncodePNG(ticket.TicketCode)
	if err != nil {
		return fmt.Errorf("failed to encode qr png: %w", err)
	}

	key := fmt.Sprintf("tickets/qr/%s.png", ticket.TicketCode)
	if _, err := s.uploader.Upload(ctx, key, "image/png", bytes.NewReader(png)); err != nil {
		return fmt.Errorf("failed to upload qr png: %w", err)
	}

	if err := s.ticketRepo.SetQRKey(ctx, ticket.ID, key); err != nil {
		return fmt.Errorf("failed to store qr key: %w", err)
	}
	ticket.QRKey = &key
	qrURL := s.uploader.GetPublicURL(key)
	ticket.QRURL = &qrURL
	return nil
}

func (s *ticketService) sendConfirmation(ctx context.Context, ticket *models.Ticket) error {
	if s.emailSender == nil {
		return nil
	}
	owner, err := s.userRepo.GetByID(ctx, ticket.UserID)
	if err != nil {
		return fmt.Errorf("failed to get ticket owner: %w", err)
	}
	if err := s.emailSender.SendTicketConfirmation(ctx, ticket, owner.Email); err != nil {
		return err
	}
	return s.ticketRepo.RecordEmailSent(ctx, ticket.ID, time.Now().UTC())
}

func (s *ticketService) VoidTicket(ctx context.Context, ticketID int) (*models.Ticket, error) {
	return s.changeStatus(ctx, ticketID, s.ticketRepo.MarkVoid)
}

func (s *ticketService) RefundTicket(ctx context.Context, ticketID int) (*models.Ticket, error) {
	return s.changeStatus(ctx, ticketID, s.ticketRepo.MarkRefunded)
}

func (s *ticketService) changeStatus(ctx context.Context, ticketID int, mark func(context.Context, int) error) (*models.Ticket, error) {
	if err := mark(ctx, ticketID); err != nil {
		if errors.Is(err, repositories.ErrTicketNotValid) {
			return nil, s.classifyCheckInConflict(ctx, ticketID)
		}
		if errors.Is(err, repositories.ErrTicketNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to change ticket %d status: %w", ticketID, err)
	}
	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload ticket %d: %w", ticketID, err)
	}
	return ticket, nil
}

func (s *ticketService) GetByID(ctx context.Context, ticketID int, currentUserID int, currentRole models.UserRole) (*models.Ticket, error) {
	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket %d: %w", ticketID, err)
	}

	// Билет видят владелец и администратор
	if ticket.UserID != currentUserID && currentRole != models.RoleAdmin {
		return nil, ErrForbiddenOperation
	}
	return ticket, nil
}

func (s *ticketService) ListForUser(ctx context.Context, userID int) ([]*models.Ticket, error) {
	tickets, err := s.ticketRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for user %d: %w", userID, err)
	}
	return tickets, nil
}

func (s *ticketService) ListForTournament(ctx context.Context, tournamentID int, statusFilter *models.TicketStatus) ([]*models.Ticket, error) {
	if _, err := s.tournamentRepo.GetByID(ctx, tournamentID); err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, err)
	}
	tickets, err := s.ticketRepo.ListByTournament(ctx, tournamentID, statusFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for tournament %d: %w", tournamentID, err)
	}
	return tickets, nil
}

func (s *ticketService) StatsForTournament(ctx context.Context, tournamentID int) (*models.TicketStats, error) {
	if _, err := s.tournamentRepo.GetByID(ctx, tournamentID); err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, err)
	}
	stats, err := s.ticketRepo.StatsByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket stats for tournament %d: %w", tournamentID, err)
	}
	return stats, nil
}

func (s *ticketService) ResendEmail(ctx context.Context, ticketID int, currentUserID int) error {
	ticket, err := s.ticketRepo.FindByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repositories.ErrTicketNotFound) {
			return ErrTicketNotFound
		}
		return fmt.Errorf("failed to get ticket %d: %w", ticketID, err)
	}

	if ticket.UserID != currentUserID {
		return ErrForbiddenOperation
	}
	if ticket.EmailResendCount >= maxEmailResendCount {
		return ErrEmailResendLimit
	}

	if err := s.sendConfirmation(ctx, ticket); err != nil {
		return fmt.Errorf("failed to resend confirmation for ticket %d: %w", ticketID, err)
	}
	return nil
}
