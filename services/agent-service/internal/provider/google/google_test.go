package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stoik/aide/internal/mockapi"
	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/credentials"
	"github.com/stoik/aide/services/agent-service/internal/provider"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

type fixture struct {
	api   *mockapi.Server
	creds credentials.Store
	cfg   Config
	auth  *Auth
	retry *provider.Retrier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := mockapi.New()
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	f := &fixture{
		api:   api,
		creds: credentials.NewKVStore(store.NewMemory()),
		cfg: Config{
			ClientID:     "client-id",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:8090/auth/google/callback",
			AuthURL:      srv.URL + "/google/auth",
			TokenURL:     srv.URL + "/google/token",
			RevokeURL:    srv.URL + "/google/revoke",
			APIBaseURL:   srv.URL + "/google",
		},
		retry: provider.NewRetrier(3, time.Millisecond, nil),
	}
	f.auth = NewAuth(f.cfg, "acc-g", f.creds, f.retry, nil)
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	res, err := f.auth.Login(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending || res.State == "" || !strings.Contains(res.AuthURL, "state="+res.State) {
		t.Fatalf("phase one = %+v", res)
	}
	done, err := f.auth.HandleAuthCode(ctx, mockapi.MockAuthCode, res.State)
	if err != nil {
		t.Fatalf("HandleAuthCode: %v", err)
	}
	if !done.Success {
		t.Fatalf("phase two = %+v", done)
	}
}

func TestTwoPhaseLogin(t *testing.T) {
	f := newFixture(t)
	if f.auth.IsAuthenticated() {
		t.Fatal("authenticated before login")
	}
	f.login(t)

	acct, err := f.auth.AccountInfo()
	if err != nil {
		t.Fatal(err)
	}
	if acct.Email != "morgan.lee@gmail.com" || acct.ProviderType != models.ProviderGoogle || acct.AvatarURL == "" {
		t.Fatalf("account = %+v", acct)
	}

	tok, err := f.auth.AccessToken(context.Background(), nil)
	if err != nil || !strings.HasPrefix(tok, "g-access-") {
		t.Fatalf("token = %q, %v", tok, err)
	}

	if err := f.auth.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.auth.IsAuthenticated() {
		t.Fatal("still authenticated after logout")
	}
}

func TestHandleAuthCodeRejectsUnknownState(t *testing.T) {
	f := newFixture(t)
	if _, err := f.auth.Login(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := f.auth.HandleAuthCode(context.Background(), mockapi.MockAuthCode, "forged")
	if !errors.Is(err, provider.ErrInvalidRequest) {
		t.Fatalf("err = %v, want invalid request", err)
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	err := f.auth.RefreshToken(context.Background())
	if !errors.Is(err, provider.ErrTokenExpired) {
		t.Fatalf("err = %v, want token expired", err)
	}
}

func TestGmailMapping(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	sent := f.api.AddMail("google", mockapi.Mail{
		Subject:        "Contract draft",
		From:           mockapi.Person{Name: "Ana Ruiz", Address: "ana@fabrikam.com"},
		To:             []mockapi.Person{{Name: "Morgan Lee", Address: "morgan.lee@gmail.com"}},
		Cc:             []mockapi.Person{{Address: "legal@fabrikam.com"}},
		Body:           "Please review by Friday.",
		Importance:     "high",
		HasAttachments: true,
	})

	mail := NewMail(f.auth, f.retry, nil)
	got, err := mail.RecentEmails(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages", len(got))
	}
	m := got[0]
	if m.ID != sent.ID || m.From.Name != "Ana Ruiz" || m.From.Address != "ana@fabrikam.com" {
		t.Fatalf("from = %+v", m.From)
	}
	if m.Body != "Please review by Friday." || m.Importance != models.ImportanceHigh || m.IsRead || !m.HasAttachments {
		t.Fatalf("message = %+v", m)
	}
	if len(m.Cc) != 1 || m.Cc[0].Address != "legal@fabrikam.com" {
		t.Fatalf("cc = %+v", m.Cc)
	}
	if m.ProviderType != models.ProviderGoogle || m.AccountID != "acc-g" || m.AccountEmail != "morgan.lee@gmail.com" {
		t.Fatalf("stamp = %s/%s/%s", m.ProviderType, m.AccountID, m.AccountEmail)
	}
	if !m.ReceivedAt.Equal(sent.ReceivedAt.Truncate(time.Millisecond)) {
		t.Fatalf("received = %v, want %v", m.ReceivedAt, sent.ReceivedAt)
	}
}

func TestGmailHistoryMonitoring(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.AddMail("google", mockapi.Mail{Subject: "before start"})

	mail := NewMail(f.auth, f.retry, nil, provider.WithPollInterval(20*time.Millisecond), provider.WithPollJitter(0))
	got := make(chan string, 4)
	mail.SubscribeToChanges(func(_ context.Context, m models.Message) { got <- m.Subject })

	ctx := context.Background()
	if err := mail.StartMonitoring(ctx); err != nil {
		t.Fatal(err)
	}
	defer mail.StopMonitoring(ctx)
	f.api.AddMail("google", mockapi.Mail{Subject: "after start"})

	select {
	case s := <-got:
		if s != "after start" {
			t.Fatalf("first callback = %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no callback for new mail")
	}
	select {
	case s := <-got:
		t.Fatalf("unexpected second callback %q", s)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestBusinessHourSlots(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // Monday
	f.api.AddEvent("google", mockapi.Event{Subject: "Sync", Start: now.Add(2 * time.Hour), End: now.Add(3 * time.Hour)})

	hours := provider.BusinessHours{StartHour: 9, EndHour: 17, Location: time.UTC, Limit: 20}
	cal := NewCalendar(f.auth, f.retry, hours)
	cal.now = func() time.Time { return now }

	slots, err := cal.FindAvailableSlots(context.Background(), 60, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 7 {
		t.Fatalf("got %d slots, want 7: %v", len(slots), slots)
	}
	busy := models.TimeSlot{Start: now.Add(2 * time.Hour), End: now.Add(3 * time.Hour)}
	for _, s := range slots {
		if s.Overlaps(busy) || !s.End.After(now) {
			t.Fatalf("slot %v overlaps busy time or already ended", s)
		}
	}

	meetings, err := cal.UpcomingMeetings(context.Background(), 1)
	if err != nil || len(meetings) != 1 || meetings[0].AccountEmail != "morgan.lee@gmail.com" {
		t.Fatalf("meetings = %+v, %v", meetings, err)
	}
}

func TestDocsAsNotes(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.AddNote("google", mockapi.Note{
		Title:        "Acme account plan",
		HTML:         "<h1>Acme</h1><p>Renewal in Q3</p>",
		NotebookID:   "folder-1",
		NotebookName: "Clients",
	})

	notes := NewNotes(f.auth, f.retry, nil)
	books, err := notes.Notebooks(context.Background())
	if err != nil || len(books) != 1 || books[0].DisplayName != "Clients" {
		t.Fatalf("notebooks = %+v, %v", books, err)
	}

	found, err := notes.SearchNotes(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d notes", len(found))
	}
	n := found[0]
	if n.NotebookID != "folder-1" || n.Metadata["notebook_name"] != "Clients" {
		t.Fatalf("note = %+v", n)
	}
	if n.Content != "Acme\nRenewal in Q3\n" {
		t.Fatalf("preview = %q", n.Content)
	}
}

func TestQuotaErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	body := `{"error":{"code":403,"message":"Daily Limit Exceeded","errors":[{"reason":"dailyLimitExceeded"}]}}`
	f.api.FailNext("/gmail/v1/users/me/messages", http.StatusForbidden, body, 1)

	_, err := NewMail(f.auth, f.retry, nil).RecentEmails(context.Background(), 5)
	if !errors.Is(err, provider.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
}
