package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/njhughes-01/bod-ticketing/models"
	"github.com/njhughes-01/bod-ticketing/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTicketRepo — потокобезопасная in-memory реализация TicketRepository.
type fakeTicketRepo struct {
	mu      sync.Mutex
	nextID  int
	byID    map[int]*models.Ticket
	byCode  map[string]int
	created int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{
		nextID: 1,
		byID:   make(map[int]*models.Ticket),
		byCode: make(map[string]int),
	}
}

func (f *fakeTicketRepo) add(t *models.Ticket) *models.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = f.nextID
	f.nextID++
	t.CreatedAt = time.Now()
	f.byID[t.ID] = t
	f.byCode[t.TicketCode] = t.ID
	return t
}

func (f *fakeTicketRepo) Create(ctx context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byCode[t.TicketCode]; exists {
		return repositories.ErrTicketCodeConflict
	}
	t.ID = f.nextID
	f.nextID++
	t.CreatedAt = time.Now()
	f.byID[t.ID] = t
	f.byCode[t.TicketCode] = t.ID
	f.created++
	return nil
}

func (f *fakeTicketRepo) copyTicket(t *models.Ticket) *models.Ticket {
	cp := *t
	return &cp
}

func (f *fakeTicketRepo) FindByID(ctx context.Context, id int) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrTicketNotFound
	}
	return f.copyTicket(t), nil
}

func (f *fakeTicketRepo) FindByCode(ctx context.Context, code string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byCode[code]
	if !ok {
		return nil, repositories.ErrTicketNotFound
	}
	return f.copyTicket(f.byID[id]), nil
}

func (f *fakeTicketRepo) ListByUser(ctx context.Context, userID int) ([]*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Ticket, 0)
	for _, t := range f.byID {
		if t.UserID == userID {
			out = append(out, f.copyTicket(t))
		}
	}
	return out, nil
}

func (f *fakeTicketRepo) ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.TicketStatus) ([]*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Ticket, 0)
	for _, t := range f.byID {
		if t.TournamentID != tournamentID {
			continue
		}
		if statusFilter != nil && t.Status != *statusFilter {
			continue
		}
		out = append(out, f.copyTicket(t))
	}
	return out, nil
}

func (f *fakeTicketRepo) CheckIn(ctx context.Context, id int, operatorID int, at time.Time) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok || t.Status != models.TicketStatusValid {
		return time.Time{}, repositories.ErrTicketNotValid
	}
	t.Status = models.TicketStatusCheckedIn
	t.CheckedInAt = &at
	t.CheckedInBy = &operatorID
	return at, nil
}

func (f *fakeTicketRepo) markStatus(id int, to models.TicketStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return repositories.ErrTicketNotFound
	}
	if t.Status != models.TicketStatusValid {
		return repositories.ErrTicketNotValid
	}
	t.Status = to
	return nil
}

func (f *fakeTicketRepo) MarkVoid(ctx context.Context, id int) error {
	return f.markStatus(id, models.TicketStatusVoid)
}

func (f *fakeTicketRepo) MarkRefunded(ctx context.Context, id int) error {
	return f.markStatus(id, models.TicketStatusRefunded)
}

func (f *fakeTicketRepo) SetQRKey(ctx context.Context, id int, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return repositories.ErrTicketNotFound
	}
	t.QRKey = &key
	return nil
}

func (f *fakeTicketRepo) RecordEmailSent(ctx context.Context, id int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return repositories.ErrTicketNotFound
	}
	t.EmailSentAt = &at
	t.EmailResendCount++
	return nil
}

func (f *fakeTicketRepo) StatsByTournament(ctx context.Context, tournamentID int) (*models.TicketStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.TicketStats{}
	for _, t := range f.byID {
		if t.TournamentID != tournamentID {
			continue
		}
		stats.Total++
		switch t.Status {
		case models.TicketStatusValid:
			stats.Valid++
		case models.TicketStatusCheckedIn:
			stats.CheckedIn++
		case models.TicketStatusRefunded:
			stats.Refunded++
		case models.TicketStatusVoid:
			stats.Voided++
		}
		if t.PaymentStatus == models.PaymentStatusPaid {
			stats.Revenue += t.AmountPaid
		}
		if t.PaymentStatus == models.PaymentStatusFree {
			stats.FreeRegistrations++
		}
	}
	return stats, nil
}

type fakeTournamentRepo struct{}

func (f *fakeTournamentRepo) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	if id == 404 {
		return nil, repositories.ErrTournamentNotFound
	}
	return &models.Tournament{ID: id, Name: "Bracket of Death 42", BodNumber: 42}, nil
}

func (f *fakeTournamentRepo) List(ctx context.Context) ([]*models.Tournament, error) {
	return nil, nil
}

type fakeUserRepo struct{}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error { return nil }

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (*models.User, error) {
	return &models.User{ID: id, FirstName: "Nate", LastName: "Hughes", Email: "nate@example.com"}, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, repositories.ErrUserNotFound
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []int
}

func (n *recordingNotifier) BroadcastTicketCheckedIn(tournamentID int, ticket *models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ticket.ID)
}

func newTestService(repo *fakeTicketRepo, notifier CheckinNotifier) TicketService {
	logger := slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewTicketService(repo, &fakeTournamentRepo{}, &fakeUserRepo{}, nil, nil, nil, notifier, logger)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func validTicket(code string) *models.Ticket {
	return &models.Ticket{
		TicketCode:    code,
		TournamentID:  1,
		UserID:        10,
		PlayerID:      20,
		Status:        models.TicketStatusValid,
		PaymentStatus: models.PaymentStatusPaid,
		AmountPaid:    4500,
	}
}

func TestLookupByCode(t *testing.T) {
	repo := newFakeTicketRepo()
	repo.add(validTicket("BOD-AB12CD34"))
	svc := newTestService(repo, nil)

	t.Run("valid ticket has can_check_in", func(t *testing.T) {
		result, err := svc.LookupByCode(context.Background(), "BOD-AB12CD34")
		require.NoError(t, err)
		assert.True(t, result.CanCheckIn)
		assert.False(t, result.AlreadyCheckedIn)
		assert.Equal(t, "BOD-AB12CD34", result.Ticket.TicketCode)
	})

	t.Run("input is normalized", func(t *testing.T) {
		result, err := svc.LookupByCode(context.Background(), "  bod-ab12cd34  ")
		require.NoError(t, err)
		assert.Equal(t, "BOD-AB12CD34", result.Ticket.TicketCode)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := svc.LookupByCode(context.Background(), "BOD-FFFFFFFF")
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := svc.LookupByCode(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrTicketCodeInvalid)
	})

	t.Run("lookup has no side effects", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := svc.LookupByCode(context.Background(), "BOD-AB12CD34")
			require.NoError(t, err)
		}
		stored, err := repo.FindByCode(context.Background(), "BOD-AB12CD34")
		require.NoError(t, err)
		assert.Equal(t, models.TicketStatusValid, stored.Status)
	})
}

func TestCheckIn(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		repo := newFakeTicketRepo()
		ticket := repo.add(validTicket("BOD-11111111"))
		notifier := &recordingNotifier{}
		svc := newTestService(repo, notifier)

		updated, err := svc.CheckIn(context.Background(), ticket.ID, 99)
		require.NoError(t, err)
		assert.Equal(t, models.TicketStatusCheckedIn, updated.Status)
		require.NotNil(t, updated.CheckedInAt)
		require.NotNil(t, updated.CheckedInBy)
		assert.Equal(t, 99, *updated.CheckedInBy)
		assert.Len(t, notifier.events, 1)
	})

	t.Run("second check-in is rejected", func(t *testing.T) {
		repo := newFakeTicketRepo()
		ticket := repo.add(validTicket("BOD-22222222"))
		svc := newTestService(repo, nil)

		_, err := svc.CheckIn(context.Background(), ticket.ID, 99)
		require.NoError(t, err)

		_, err = svc.CheckIn(context.Background(), ticket.ID, 99)
		assert.ErrorIs(t, err, ErrTicketAlreadyCheckedIn)
	})

	t.Run("refunded and void tickets are rejected", func(t *testing.T) {
		repo := newFakeTicketRepo()
		refunded := repo.add(validTicket("BOD-33333333"))
		refunded.Status = models.TicketStatusRefunded
		voided := repo.add(validTicket("BOD-44444444"))
		voided.Status = models.TicketStatusVoid
		svc := newTestService(repo, nil)

		_, err := svc.CheckIn(context.Background(), refunded.ID, 99)
		assert.ErrorIs(t, err, ErrTicketRefunded)

		_, err = svc.CheckIn(context.Background(), voided.ID, 99)
		assert.ErrorIs(t, err, ErrTicketVoid)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		svc := newTestService(newFakeTicketRepo(), nil)
		_, err := svc.CheckIn(context.Background(), 12345, 99)
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})

	t.Run("concurrent check-ins succeed exactly once", func(t *testing.T) {
		repo := newFakeTicketRepo()
		ticket := repo.add(validTicket("BOD-55555555"))
		svc := newTestService(repo, nil)

		const workers = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.CheckIn(context.Background(), ticket.ID, 99); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
	})
}

func TestIssueTicket(t *testing.T) {
	t.Run("generates BOD code", func(t *testing.T) {
		repo := newFakeTicketRepo()
		svc := newTestService(repo, nil)

		ticket, err := svc.IssueTicket(context.Background(), IssueTicketInput{
			TournamentID: 1,
			UserID:       10,
			PlayerID:     20,
			AmountPaid:   4500,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ticket.TicketCode, "BOD-"))
		assert.Len(t, ticket.TicketCode, len("BOD-")+8)
		assert.Equal(t, ticket.TicketCode, strings.ToUpper(ticket.TicketCode))
		assert.Equal(t, models.TicketStatusValid, ticket.Status)
	})

	t.Run("unknown tournament is rejected", func(t *testing.T) {
		svc := newTestService(newFakeTicketRepo(), nil)
		_, err := svc.IssueTicket(context.Background(), IssueTicketInput{
			TournamentID: 404,
			UserID:       10,
			PlayerID:     20,
		})
		assert.ErrorIs(t, err, ErrTournamentNotFound)
	})
}

func TestVoidAndRefund(t *testing.T) {
	repo := newFakeTicketRepo()
	toVoid := repo.add(validTicket("BOD-66666666"))
	toRefund := repo.add(validTicket("BOD-77777777"))
	checkedIn := repo.add(validTicket("BOD-88888888"))
	checkedIn.Status = models.TicketStatusCheckedIn
	svc := newTestService(repo, nil)

	voided, err := svc.VoidTicket(context.Background(), toVoid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusVoid, voided.Status)

	refunded, err := svc.RefundTicket(context.Background(), toRefund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusRefunded, refunded.Status)

	// Зарегистрированный билет нельзя ни отозвать, ни вернуть
	_, err = svc.VoidTicket(context.Background(), checkedIn.ID)
	assert.ErrorIs(t, err, ErrTicketAlreadyCheckedIn)
	_, err = svc.RefundTicket(context.Background(), checkedIn.ID)
	assert.ErrorIs(t, err, ErrTicketAlreadyCheckedIn)
}

func TestGetByIDAccess(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := repo.add(validTicket("BOD-99999999"))
	svc := newTestService(repo, nil)

	t.Run("owner can read", func(t *testing.T) {
		got, err := svc.GetByID(context.Background(), ticket.ID, ticket.UserID, models.RolePlayer)
		require.NoError(t, err)
		assert.Equal(t, ticket.ID, got.ID)
	})

	t.Run("admin can read", func(t *testing.T) {
		_, err := svc.GetByID(context.Background(), ticket.ID, 777, models.RoleAdmin)
		assert.NoError(t, err)
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		_, err := svc.GetByID(context.Background(), ticket.ID, 777, models.RolePlayer)
		assert.ErrorIs(t, err, ErrForbiddenOperation)
	})
}

func TestResendEmailLimit(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := repo.add(validTicket("BOD-AAAAAAAA"))
	ticket.EmailResendCount = 5
	svc := newTestService(repo, nil)

	err := svc.ResendEmail(context.Background(), ticket.ID, ticket.UserID)
	assert.ErrorIs(t, err, ErrEmailResendLimit)

	// Чужой билет переслать нельзя, даже если лимит не исчерпан
	fresh := repo.add(validTicket("BOD-BBBBBBBB"))
	err = svc.ResendEmail(context.Background(), fresh.ID, 777)
	assert.ErrorIs(t, err, ErrForbiddenOperation)
}

func TestStatsForTournament(t *testing.T) {
	repo := newFakeTicketRepo()
	repo.add(validTicket("BOD-C0000001"))
	checked := repo.add(validTicket("BOD-C0000002"))
	checked.Status = models.TicketStatusCheckedIn
	free := validTicket("BOD-C0000003")
	free.PaymentStatus = models.PaymentStatusFree
	free.AmountPaid = 0
	repo.add(free)
	svc := newTestService(repo, nil)

	stats, err := svc.StatsForTournament(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Valid)
	assert.Equal(t, 1, stats.CheckedIn)
	assert.Equal(t, 9000, stats.Revenue)
	assert.Equal(t, 1, stats.FreeRegistrations)
}
