package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLookupTicket(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/tickets/lookup/BOD-AB12CD34":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"ticket": {
					"id": 7,
					"ticket_code": "BOD-AB12CD34",
					"status": "valid",
					"player": {"id": 1, "first_name": "Nate", "last_name": "Hughes"}
				},
				"already_checked_in": false,
				"can_check_in": true
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "the requested resource could not be found"}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	t.Run("found", func(t *testing.T) {
		check, err := client.LookupTicket(context.Background(), " bod-ab12cd34 ")
		require.NoError(t, err)
		assert.Equal(t, "Bearer test-token", gotAuth)
		assert.Equal(t, 7, check.Ticket.ID)
		assert.True(t, check.CanCheckIn)
		assert.Equal(t, "Nate Hughes", check.Ticket.PlayerName())
	})

	t.Run("not found maps to sentinel", func(t *testing.T) {
		_, err := client.LookupTicket(context.Background(), "BOD-FFFFFFFF")
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := client.LookupTicket(context.Background(), "  ")
		assert.ErrorIs(t, err, ErrEmptyCode)
	})
}

func TestClientCheckInConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tickets/7/check-in", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error": "ticket already checked in"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	_, err := client.CheckInTicket(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket already checked in")
}

func TestClientLookupCollapsesConcurrentRequests(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write([]byte(`{"ticket": {"id": 1, "ticket_code": "BOD-AB12CD34", "status": "valid"}, "can_check_in": true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.LookupTicket(context.Background(), "BOD-AB12CD34")
			assert.NoError(t, err)
		}()
	}
	// Даём горутинам встать в очередь singleflight, затем отпускаем сервер
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&hits), int32(callers))
}
