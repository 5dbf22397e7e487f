package microsoft

import (
	"strings"
	"time"

	"github.com/stoik/aide/internal/models"
)

// graphTimeLayout is the zone-less dateTime Graph returns alongside timeZone.
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

type page[T any] struct {
	Value     []T    `json:"value"`
	NextLink  string `json:"@odata.nextLink"`
	DeltaLink string `json:"@odata.deltaLink"`
}

type recipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (r *recipient) model() models.EmailAddress {
	if r == nil {
		return models.EmailAddress{}
	}
	return models.EmailAddress{Name: r.EmailAddress.Name, Address: r.EmailAddress.Address}
}

func recipients(rs []recipient) []models.EmailAddress {
	out := make([]models.EmailAddress, 0, len(rs))
	for i := range rs {
		out = append(out, rs[i].model())
	}
	return out
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	From             *recipient  `json:"from"`
	ToRecipients     []recipient `json:"toRecipients"`
	CcRecipients     []recipient `json:"ccRecipients"`
	Body             itemBody    `json:"body"`
	ReceivedDateTime time.Time   `json:"receivedDateTime"`
	HasAttachments   bool        `json:"hasAttachments"`
	Importance       string      `json:"importance"`
	IsRead           bool        `json:"isRead"`
	ConversationID   string      `json:"conversationId"`
	Removed          *struct{}   `json:"@removed"`
}

func (m message) model() models.Message {
	subject := m.Subject
	if subject == "" {
		subject = "(No Subject)"
	}
	importance := models.Importance(strings.ToLower(m.Importance))
	if importance == "" {
		importance = models.ImportanceNormal
	}
	return models.Message{
		ID:             m.ID,
		Subject:        subject,
		From:           m.From.model(),
		To:             recipients(m.ToRecipients),
		Cc:             recipients(m.CcRecipients),
		Body:           m.Body.Content,
		ReceivedAt:     m.ReceivedDateTime,
		HasAttachments: m.HasAttachments,
		Importance:     importance,
		IsRead:         m.IsRead,
		ConversationID: m.ConversationID,
		Metadata:       map[string]any{"body_content_type": m.Body.ContentType},
	}
}

type dateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (d dateTimeZone) time() time.Time {
	loc := time.UTC
	if d.TimeZone != "" && d.TimeZone != "UTC" {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphTimeLayout, d.DateTime, loc)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, d.DateTime)
	}
	return t
}

type event struct {
	ID        string       `json:"id"`
	Subject   string       `json:"subject"`
	Start     dateTimeZone `json:"start"`
	End       dateTimeZone `json:"end"`
	Location  struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Organizer *recipient `json:"organizer"`
	Attendees []struct {
		recipient
		Type   string `json:"type"`
		Status struct {
			Response string `json:"response"`
		} `json:"status"`
	} `json:"attendees"`
	Body            itemBody `json:"body"`
	IsOnlineMeeting bool     `json:"isOnlineMeeting"`
	OnlineMeeting   *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
}

func responseStatus(graph string) models.ResponseStatus {
	switch graph {
	case "accepted", "organizer":
		return models.ResponseAccepted
	case "declined":
		return models.ResponseDeclined
	case "tentativelyAccepted":
		return models.ResponseTentative
	}
	return models.ResponseNone
}

func (e event) model() models.Meeting {
	subject := e.Subject
	if subject == "" {
		subject = "(No Subject)"
	}
	m := models.Meeting{
		ID:              e.ID,
		Subject:         subject,
		Start:           e.Start.time(),
		End:             e.End.time(),
		Location:        e.Location.DisplayName,
		Organizer:       e.Organizer.model(),
		Attendees:       make([]models.Attendee, 0, len(e.Attendees)),
		Body:            e.Body.Content,
		IsOnlineMeeting: e.IsOnlineMeeting,
	}
	m.RepairEnd()
	if e.OnlineMeeting != nil {
		m.OnlineMeetingURL = e.OnlineMeeting.JoinURL
	}
	for _, a := range e.Attendees {
		typ := models.AttendeeType(a.Type)
		if typ == "" {
			typ = models.AttendeeRequired
		}
		m.Attendees = append(m.Attendees, models.Attendee{
			EmailAddress: a.recipient.model(),
			Type:         typ,
			Status:       responseStatus(a.Status.Response),
		})
	}
	return m
}

type ref struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type notePage struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	ParentSection        *ref      `json:"parentSection"`
	ParentNotebook       *ref      `json:"parentNotebook"`
}

func (p notePage) model() models.Note {
	title := p.Title
	if title == "" {
		title = "(Untitled)"
	}
	n := models.Note{
		ID:             p.ID,
		Title:          title,
		CreatedAt:      p.CreatedDateTime,
		LastModifiedAt: p.LastModifiedDateTime,
		Tags:           []string{},
	}
	if p.ParentSection != nil {
		n.SectionID = p.ParentSection.ID
	}
	if p.ParentNotebook != nil {
		n.NotebookID = p.ParentNotebook.ID
	}
	return n
}
