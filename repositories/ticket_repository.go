package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/njhughes-01/bod-ticketing/models"
)

var (
	ErrTicketNotFound          = errors.New("ticket not found")
	ErrTicketCodeConflict      = errors.New("ticket code conflict: code already issued")
	ErrTicketNotValid          = errors.New("ticket is not in valid status")
	ErrTicketUserInvalid       = errors.New("ticket user conflict or invalid")
	ErrTicketPlayerInvalid     = errors.New("ticket player conflict or invalid")
	ErrTicketTeamInvalid       = errors.New("ticket team conflict or invalid")
	ErrTicketTournamentInvalid = errors.New("ticket tournament conflict or invalid")
)

type TicketRepository interface {
	Create(ctx context.Context, t *models.Ticket) error
	FindByID(ctx context.Context, id int) (*models.Ticket, error)
	FindByCode(ctx context.Context, code string) (*models.Ticket, error)
	ListByUser(ctx context.Context, userID int) ([]*models.Ticket, error)
	ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.TicketStatus) ([]*models.Ticket, error)

	// CheckIn performs the valid -> checked_in transition as a single
	// conditional update. Returns ErrTicketNotValid when the ticket exists
	// but is not in valid status (or does not exist); the caller decides
	// which it was.
	CheckIn(ctx context.Context, id int, operatorID int, at time.Time) (time.Time, error)

	MarkVoid(ctx context.Context, id int) error
	MarkRefunded(ctx context.Context, id int) error
	SetQRKey(ctx context.Context, id int, key string) error
	RecordEmailSent(ctx context.Context, id int, at time.Time) error
	StatsByTournament(ctx context.Context, tournamentID int) (*models.TicketStats, error)
}

type postgresTicketRepository struct {
	db *sql.DB
}

func NewPostgresTicketRepository(db *sql.DB) TicketRepository {
	return &postgresTicketRepository{db: db}
}

func (r *postgresTicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	query := `
		INSERT INTO tickets (ticket_code, tournament_id, user_id, player_id, team_id, status, payment_status, amount_paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		t.TicketCode,
		t.TournamentID,
		t.UserID,
		t.PlayerID,
		t.TeamID,
		t.Status,
		t.PaymentStatus,
		t.AmountPaid,
	).Scan(&t.ID, &t.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation
				if pqErr.Constraint == "tickets_ticket_code_key" {
					return ErrTicketCodeConflict
				}
			case "23503": // foreign_key_violation
				switch pqErr.Constraint {
				case "tickets_user_id_fkey":
					return ErrTicketUserInvalid
				case "tickets_player_id_fkey":
					return ErrTicketPlayerInvalid
				case "tickets_team_id_fkey":
					return ErrTicketTeamInvalid
				case "tickets_tournament_id_fkey":
					return ErrTicketTournamentInvalid
				}
			}
		}
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

const ticketSelectColumns = `
	tk.id, tk.ticket_code, tk.tournament_id, tk.user_id, tk.player_id, tk.team_id,
	tk.status, tk.payment_status, tk.amount_paid, tk.qr_key,
	tk.checked_in_at, tk.checked_in_by, tk.email_sent_at, tk.email_resend_count, tk.created_at,
	p.first_name, p.last_name,
	tm.name,
	tr.name, tr.bod_number,
	op.first_name, op.last_name`

const ticketSelectJoins = `
	FROM tickets tk
	JOIN players p ON tk.player_id = p.id
	JOIN tournaments tr ON tk.tournament_id = tr.id
	LEFT JOIN teams tm ON tk.team_id = tm.id
	LEFT JOIN users op ON tk.checked_in_by = op.id`

func (r *postgresTicketRepository) scanTicket(rowScanner interface {
	Scan(dest ...interface{}) error
}) (*models.Ticket, error) {
	t := &models.Ticket{}
	var playerFirst, playerLast string
	var teamName sql.NullString
	var tournamentName sql.NullString
	var bodNumber sql.NullInt64
	var opFirst, opLast sql.NullString

	err := rowScanner.Scan(
		&t.ID,
		&t.TicketCode,
		&t.TournamentID,
		&t.UserID,
		&t.PlayerID,
		&t.TeamID,
		&t.Status,
		&t.PaymentStatus,
		&t.AmountPaid,
		&t.QRKey,
		&t.CheckedInAt,
		&t.CheckedInBy,
		&t.EmailSentAt,
		&t.EmailResendCount,
		&t.CreatedAt,
		&playerFirst,
		&playerLast,
		&teamName,
		&tournamentName,
		&bodNumber,
		&opFirst,
		&opLast,
	)
	if err != nil {
		return nil, err
	}

	t.Player = &models.Player{ID: t.PlayerID, FirstName: playerFirst, LastName: playerLast}
	if t.TeamID != nil && teamName.Valid {
		t.Team = &models.Team{ID: *t.TeamID, Name: teamName.String}
	}
	t.Tournament = &models.Tournament{ID: t.TournamentID}
	if tournamentName.Valid {
		t.Tournament.Name = tournamentName.String
	}
	if bodNumber.Valid {
		t.Tournament.BodNumber = int(bodNumber.Int64)
	}
	if t.CheckedInBy != nil && opFirst.Valid {
		t.Operator = &models.OperatorRef{
			ID:   *t.CheckedInBy,
			Name: opFirst.String + " " + opLast.String,
		}
	}

	return t, nil
}

func (r *postgresTicketRepository) findOne(ctx context.Context, where string, arg interface{}) (*models.Ticket, error) {
	query := `SELECT` + ticketSelectColumns + ticketSelectJoins + where
	row := r.db.QueryRowContext(ctx, query, arg)
	t, err := r.scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return t, nil
}

func (r *postgresTicketRepository) FindByID(ctx context.Context, id int) (*models.Ticket, error) {
	return r.findOne(ctx, ` WHERE tk.id = $1`, id)
}

// FindByCode ищет билет по коду. Коды хранятся в верхнем регистре,
// сравнение строгое — нормализация на совести вызывающей стороны.
func (r *postgresTicketRepository) FindByCode(ctx context.Context, code string) (*models.Ticket, error) {
	return r.findOne(ctx, ` WHERE tk.ticket_code = $1`, code)
}

func (r *postgresTicketRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	tickets := make([]*models.Ticket, 0)
	for rows.Next() {
		t, scanErr := r.scanTicket(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", scanErr)
		}
		tickets = append(tickets, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (r *postgresTicketRepository) ListByUser(ctx context.Context, userID int) ([]*models.Ticket, error) {
	query := `SELECT` + ticketSelectColumns + ticketSelectJoins +
		` WHERE tk.user_id = $1 ORDER BY tk.created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *postgresTicketRepository) ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.TicketStatus) ([]*models.Ticket, error) {
	query := `SELECT` + ticketSelectColumns + ticketSelectJoins +
		` WHERE tk.tournament_id = $1`
	args := []interface{}{tournamentID}
	if statusFilter != nil {
		query += ` AND tk.status = $2`
		args = append(args, *statusFilter)
	}
	query += ` ORDER BY tk.created_at DESC`
	return r.list(ctx, query, args...)
}

// CheckIn выполняет условный UPDATE: переход совершится только если билет
// всё ещё в статусе valid. Два конкурентных вызова для одного билета дадут
// ровно один успех.
func (r *postgresTicketRepository) CheckIn(ctx context.Context, id int, operatorID int, at time.Time) (time.Time, error) {
	query := `
		UPDATE tickets
		SET status = $1, checked_in_at = $2, checked_in_by = $3
		WHERE id = $4 AND status = $5
		RETURNING checked_in_at`

	var checkedInAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		models.TicketStatusCheckedIn,
		at,
		operatorID,
		id,
		models.TicketStatusValid,
	).Scan(&checkedInAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrTicketNotValid
		}
		return time.Time{}, fmt.Errorf("failed to check in ticket %d: %w", id, err)
	}
	return checkedInAt, nil
}

func (r *postgresTicketRepository) markStatus(ctx context.Context, id int, from, to models.TicketStatus, query string) error {
	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update ticket %d status to %s: %w", id, to, err)
	}
	return checkAffectedRows(result, ErrTicketNotValid)
}

func (r *postgresTicketRepository) MarkVoid(ctx context.Context, id int) error {
	query := `UPDATE tickets SET status = $1 WHERE id = $2 AND status = $3`
	return r.markStatus(ctx, id, models.TicketStatusValid, models.TicketStatusVoid, query)
}

func (r *postgresTicketRepository) MarkRefunded(ctx context.Context, id int) error {
	query := `UPDATE tickets SET status = $1, payment_status = 'refunded' WHERE id = $2 AND status = $3`
	return r.markStatus(ctx, id, models.TicketStatusValid, models.TicketStatusRefunded, query)
}

func (r *postgresTicketRepository) SetQRKey(ctx context.Context, id int, key string) error {
	query := `UPDATE tickets SET qr_key = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, key, id)
	if err != nil {
		return fmt.Errorf("failed to set qr key for ticket %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTicketNotFound)
}

func (r *postgresTicketRepository) RecordEmailSent(ctx context.Context, id int, at time.Time) error {
	query := `
		UPDATE tickets
		SET email_sent_at = $1, email_resend_count = email_resend_count + 1
		WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to record email sent for ticket %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTicketNotFound)
}

func (r *postgresTicketRepository) StatsByTournament(ctx context.Context, tournamentID int) (*models.TicketStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'valid'),
			COUNT(*) FILTER (WHERE status = 'checked_in'),
			COUNT(*) FILTER (WHERE status = 'refunded'),
			COUNT(*) FILTER (WHERE status = 'void'),
			COALESCE(SUM(amount_paid) FILTER (WHERE payment_status = 'paid'), 0),
			COUNT(*) FILTER (WHERE payment_status = 'free')
		FROM tickets
		WHERE tournament_id = $1`

	stats := &models.TicketStats{}
	err := r.db.QueryRowContext(ctx, query, tournamentID).Scan(
		&stats.Total,
		&stats.Valid,
		&stats.CheckedIn,
		&stats.Refunded,
		&stats.Voided,
		&stats.Revenue,
		&stats.FreeRegistrations,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ticket stats for tournament %d: %w", tournamentID, err)
	}
	return stats, nil
}
