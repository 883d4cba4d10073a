package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/njhughes-01/bod-ticketing/middleware"
	"github.com/njhughes-01/bod-ticketing/models"
	"github.com/njhughes-01/bod-ticketing/services"
)

type TicketHandler struct {
	ticketService services.TicketService
}

func NewTicketHandler(ticketService services.TicketService) *TicketHandler {
	return &TicketHandler{
		ticketService: ticketService,
	}
}

// Lookup возвращает билет по коду вместе с флагами already_checked_in и
// can_check_in. Запрос ничего не меняет, его можно повторять сколько угодно.
func (h *TicketHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		badRequestResponse(w, r, errors.New("ticket code is required"))
		return
	}

	result, err := h.ticketService.LookupByCode(r.Context(), code)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, result, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// CheckIn регистрирует билет. Оператор берётся из JWT. Повторный запрос
// для уже зарегистрированного билета вернёт 409, состояние не изменится.
func (h *TicketHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	ticketID, err := getIDFromURL(r, "ticketID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	operatorID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "invalid authentication token")
		return
	}

	ticket, err := h.ticketService.CheckIn(r.Context(), ticketID, operatorID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"ticket": ticket,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TicketHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var input services.IssueTicketInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if input.TournamentID <= 0 || input.UserID <= 0 || input.PlayerID <= 0 {
		badRequestResponse(w, r, errors.New("tournament_id, user_id and player_id are required"))
		return
	}

	ticket, err := h.ticketService.IssueTicket(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"ticket": ticket,
	}
	if err := writeJSON(w, http.StatusCreated, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TicketHandler) Void(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ticketService.VoidTicket)
}

func (h *TicketHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ticketService.RefundTicket)
}

func (h *TicketHandler) changeStatus(w http.ResponseWriter, r *http.Request, change func(context.Context, int) (*models.Ticket, error)) {
	ticketID, err := getIDFromURL(r, "ticketID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	ticket, err := change(r.Context(), ticketID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"ticket": ticket,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// MyTickets возвращает билеты текущего пользователя.
func (h *TicketHandler) MyTickets(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "invalid authentication token")
		return
	}

	tickets, err := h.ticketService.ListForUser(r.Context(), userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"tickets": tickets,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TicketHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	ticketID, err := getIDFromURL(r, "ticketID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "invalid authentication token")
		return
	}
	role, err := middleware.GetUserRoleFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "invalid authentication token")
		return
	}

	ticket, err := h.ticketService.GetByID(r.Context(), ticketID, userID, role)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"ticket": ticket,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// TournamentTickets возвращает билеты турнира, опционально с фильтром
// ?status=valid|checked_in|refunded|void.
func (h *TicketHandler) TournamentTickets(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var statusFilter *models.TicketStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.TicketStatus(statusStr)
		switch status {
		case models.TicketStatusValid, models.TicketStatusCheckedIn, models.TicketStatusRefunded, models.TicketStatusVoid:
			statusFilter = &status
		default:
			badRequestResponse(w, r, errors.New("invalid status filter"))
			return
		}
	}

	tickets, err := h.ticketService.ListForTournament(r.Context(), tournamentID, statusFilter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"tickets": tickets,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TicketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	stats, err := h.ticketService.StatsForTournament(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"stats": stats,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TicketHandler) Resend(w http.ResponseWriter, r *http.Request) {
	ticketID, err := getIDFromURL(r, "ticketID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "invalid authentication token")
		return
	}

	if err := h.ticketService.ResendEmail(r.Context(), ticketID, userID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"message": "confirmation email sent",
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
