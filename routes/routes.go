package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/njhughes-01/bod-ticketing/handlers"
	"github.com/njhughes-01/bod-ticketing/middleware"
	"github.com/njhughes-01/bod-ticketing/models"
)

type Handlers struct {
	Auth   *handlers.AuthHandler
	Ticket *handlers.TicketHandler
	Live   *handlers.LiveHandler
}

func SetupRoutes(h Handlers, jwtSecret string) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Post("/auth/signin", h.Auth.SignIn)

	// Живая лента регистраций — публичная, подписка по id турнира
	router.Get("/ws/tournaments/{tournamentID}/checkins", h.Live.ServeCheckins)

	router.Route("/tickets", func(r chi.Router) {
		r.Use(middleware.Authenticate([]byte(jwtSecret)))

		// Билеты текущего пользователя
		r.Get("/", h.Ticket.MyTickets)
		r.Get("/{ticketID}", h.Ticket.GetByID)
		r.Post("/{ticketID}/resend", h.Ticket.Resend)

		// Операции стойки регистрации и администрирование
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authorize(models.RoleAdmin))

			r.Post("/", h.Ticket.Issue)
			r.Get("/lookup/{code}", h.Ticket.Lookup)
			r.Post("/{ticketID}/check-in", h.Ticket.CheckIn)
			r.Post("/{ticketID}/void", h.Ticket.Void)
			r.Post("/{ticketID}/refund", h.Ticket.Refund)
		})
	})

	router.Route("/tournaments/{tournamentID}/tickets", func(r chi.Router) {
		r.Use(middleware.Authenticate([]byte(jwtSecret)))
		r.Use(middleware.Authorize(models.RoleAdmin))

		r.Get("/", h.Ticket.TournamentTickets)
		r.Get("/stats", h.Ticket.Stats)
	})

	return router
}
