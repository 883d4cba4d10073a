package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound = errors.New("requested resource not found")

	// Ошибки валидации и бизнес-правил
	ErrValidationFailed  = errors.New("validation failed")
	ErrTicketCodeInvalid = errors.New("ticket code is required")

	// Ошибки регистрации на турнир (check-in)
	ErrTicketAlreadyCheckedIn = errors.New("ticket already checked in")
	ErrTicketRefunded         = errors.New("cannot check in ticket with status: refunded")
	ErrTicketVoid             = errors.New("cannot check in ticket with status: void")
	ErrTicketStatusConflict   = errors.New("ticket is not in a valid status")

	// Ошибки выпуска билетов
	ErrTicketCodeGeneration = errors.New("failed to generate unique ticket code")
	ErrEmailResendLimit     = errors.New("maximum resend limit reached")

	// Ошибки аутентификации и авторизации
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")

	// Ошибки, специфичные для сущностей
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrTournamentNotFound = errors.New("tournament not found")
)
