package microsoft

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
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
	srv   *httptest.Server
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
		srv:   srv,
		creds: credentials.NewKVStore(store.NewMemory()),
		cfg: Config{
			ClientID:      "client-id",
			DeviceCodeURL: srv.URL + "/msauth/devicecode",
			TokenURL:      srv.URL + "/msauth/token",
			GraphURL:      srv.URL + "/graph/v1.0",
		},
		retry: provider.NewRetrier(3, time.Millisecond, nil),
	}
	f.auth = NewAuth(f.cfg, "acc-ms", f.creds, func(string, string) {}, nil)
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	res, err := f.auth.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.Success {
		t.Fatalf("Login result = %+v", res)
	}
}

func TestLoginReadsIdentityFromIDToken(t *testing.T) {
	f := newFixture(t)
	if _, err := f.auth.AccountInfo(); err != provider.ErrNotAuthenticated {
		t.Fatalf("AccountInfo before login = %v, want ErrNotAuthenticated", err)
	}

	var prompted string
	f.auth.prompt = func(code, uri string) { prompted = code }
	f.login(t)

	acct, err := f.auth.AccountInfo()
	if err != nil {
		t.Fatal(err)
	}
	if acct.Email != "morgan@contoso.com" || acct.DisplayName != "Morgan Lee" || acct.ID != "acc-ms" {
		t.Fatalf("account = %+v", acct)
	}
	if prompted != "MOCK-CODE" {
		t.Fatalf("prompt got %q", prompted)
	}

	restored := NewAuth(f.cfg, "acc-ms", f.creds, nil, nil)
	if err := restored.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !restored.IsAuthenticated() {
		t.Fatal("persisted credential was not restored")
	}

	if err := restored.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.creds.Load(context.Background(), models.ProviderMicrosoft, "acc-ms"); err != credentials.ErrNotFound {
		t.Fatalf("credential after logout: %v", err)
	}
}

func TestAccessTokenWithoutCredential(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.AccessToken(context.Background(), nil)
	if provider.KindOf(err) != provider.KindAuthenticationFailed {
		t.Fatalf("err = %v, want authentication failed", err)
	}
}

func TestMailStampsAndPaginates(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 30; i++ {
		f.api.AddMail("microsoft", mockapi.Mail{
			Subject:    "Status " + string(rune('A'+i%26)),
			From:       mockapi.Person{Name: "Ana", Address: "ana@fabrikam.com"},
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	mail := NewMail(f.auth, f.retry, nil)
	got, err := mail.RecentEmails(context.Background(), 28)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 28 {
		t.Fatalf("got %d messages, want 28 across two pages", len(got))
	}
	for i, m := range got {
		if m.ProviderType != models.ProviderMicrosoft || m.AccountID != "acc-ms" || m.AccountEmail != "morgan@contoso.com" {
			t.Fatalf("message %d not stamped: %+v", i, m)
		}
		if i > 0 && got[i-1].ReceivedAt.Before(m.ReceivedAt) {
			t.Fatalf("messages not newest first at %d", i)
		}
	}

	byID, err := mail.EmailByID(context.Background(), got[0].ID)
	if err != nil || byID.Subject != got[0].Subject {
		t.Fatalf("EmailByID = %+v, %v", byID, err)
	}
}

func TestSearchEmails(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.AddMail("microsoft", mockapi.Mail{Subject: "Acme contract"})
	f.api.AddMail("microsoft", mockapi.Mail{Subject: "Lunch"})

	got, err := NewMail(f.auth, f.retry, nil).SearchEmails(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Subject != "Acme contract" {
		t.Fatalf("search = %+v", got)
	}
}

func TestMonitoringReportsOnlyNewMail(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.AddMail("microsoft", mockapi.Mail{Subject: "already there"})

	mail := NewMail(f.auth, f.retry, nil, provider.WithPollInterval(20*time.Millisecond), provider.WithPollJitter(0))
	var mu sync.Mutex
	var seen []string
	mail.SubscribeToChanges(func(_ context.Context, m models.Message) {
		mu.Lock()
		seen = append(seen, m.Subject)
		mu.Unlock()
	})

	ctx := context.Background()
	if err := mail.StartMonitoring(ctx); err != nil {
		t.Fatal(err)
	}
	f.api.AddMail("microsoft", mockapi.Mail{Subject: "fresh"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := mail.StopMonitoring(ctx); err != nil {
		t.Fatal(err)
	}

	f.api.AddMail("microsoft", mockapi.Mail{Subject: "after stop"})
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "fresh" {
		t.Fatalf("callbacks = %v, want only [fresh]", seen)
	}
}

func TestCalendarAndFreeSlots(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f.api.AddEvent("microsoft", mockapi.Event{
		Subject: "Design review",
		Start:   now.Add(2 * time.Hour),
		End:     now.Add(3 * time.Hour),
		Attendees: []mockapi.Attendee{
			{Person: mockapi.Person{Name: "Ana", Address: "ana@fabrikam.com"}, Type: "required", Response: "tentative"},
		},
		JoinURL: "https://teams.example/join",
	})

	cal := NewCalendar(f.auth, f.retry)
	cal.now = func() time.Time { return now }

	meetings, err := cal.UpcomingMeetings(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 {
		t.Fatalf("meetings = %d", len(meetings))
	}
	m := meetings[0]
	if !m.Start.Equal(now.Add(2*time.Hour)) || m.OnlineMeetingURL == "" || m.AccountID != "acc-ms" {
		t.Fatalf("meeting = %+v", m)
	}
	if m.Attendees[0].Status != models.ResponseTentative {
		t.Fatalf("attendee status = %s", m.Attendees[0].Status)
	}

	slots, err := cal.FindAvailableSlots(context.Background(), 60, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.TimeSlot{
		{Start: now, End: now.Add(2 * time.Hour)},
		{Start: now.Add(3 * time.Hour), End: now.Add(24 * time.Hour)},
	}
	if len(slots) != len(want) {
		t.Fatalf("slots = %v", slots)
	}
	for i := range want {
		if !slots[i].Start.Equal(want[i].Start) || !slots[i].End.Equal(want[i].End) {
			t.Fatalf("slot %d = %v, want %v", i, slots[i], want[i])
		}
	}

	attendees, err := cal.MeetingAttendees(context.Background(), m.ID)
	if err != nil || len(attendees) != 1 {
		t.Fatalf("attendees = %v, %v", attendees, err)
	}
}

func TestNotes(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	note := f.api.AddNote("microsoft", mockapi.Note{
		Title:        "Acme kickoff",
		HTML:         `<html><head><title>x</title></head><body><h1>Acme</h1><div><p>Budget <b>approved</b></p><img src="https://img/1.png" alt="chart"></div></body></html>`,
		SectionID:    "s1",
		SectionName:  "Clients",
		NotebookID:   "nb1",
		NotebookName: "Work",
	})

	notes := NewNotes(f.auth, f.retry)
	books, err := notes.Notebooks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 || len(books[0].Sections) != 1 || books[0].Sections[0].DisplayName != "Clients" {
		t.Fatalf("notebooks = %+v", books)
	}

	found, err := notes.FindNotesByEntity(context.Background(), "acme", models.EntityCompany)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].NotebookID != "nb1" || found[0].SectionID != "s1" || found[0].AccountEmail != "morgan@contoso.com" {
		t.Fatalf("found = %+v", found)
	}

	content, err := notes.NoteContent(context.Background(), note.ID)
	if err != nil {
		t.Fatal(err)
	}
	if content.PlainText != "Acme Budget approved" {
		t.Fatalf("plain text = %q", content.PlainText)
	}
	if len(content.Images) != 1 || content.Images[0].Alt != "chart" {
		t.Fatalf("images = %+v", content.Images)
	}
}

func TestGraphErrorsAreClassified(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.api.FailNext("/me/messages", http.StatusForbidden, `{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`, 5)

	_, err := NewMail(f.auth, f.retry, nil).RecentEmails(context.Background(), 5)
	if provider.KindOf(err) != provider.KindPermissionDenied {
		t.Fatalf("err = %v, want permission denied", err)
	}
}

func TestFreeSlotsRejectsZeroDuration(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	_, err := NewCalendar(f.auth, f.retry).FindAvailableSlots(context.Background(), 0, 1)
	if !errors.Is(err, provider.ErrInvalidRequest) {
		t.Fatalf("err = %v, want invalid request", err)
	}
}
