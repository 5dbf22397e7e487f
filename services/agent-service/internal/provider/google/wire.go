package google

import (
	"encoding/base64"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/stoik/aide/internal/models"
)

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type part struct {
	MimeType string   `json:"mimeType"`
	Filename string   `json:"filename"`
	Headers  []header `json:"headers"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []part `json:"parts"`
}

type gmailMessage struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	InternalDate string   `json:"internalDate"`
	Payload      part     `json:"payload"`
}

func (p part) header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(raw)
}

// findBody returns the first part of the given type, searching nested multiparts.
func (p part) findBody(mimeType string) string {
	if p.MimeType == mimeType && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}
	for _, child := range p.Parts {
		if body := child.findBody(mimeType); body != "" {
			return body
		}
	}
	return ""
}

func (p part) hasAttachment() bool {
	for _, child := range p.Parts {
		if child.Filename != "" || child.hasAttachment() {
			return true
		}
	}
	return false
}

// parseAddress splits `"Name" <addr>` the way mail clients display it.
func parseAddress(s string) models.EmailAddress {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.EmailAddress{}
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return models.EmailAddress{Name: a.Name, Address: a.Address}
	}
	return models.EmailAddress{Name: s, Address: s}
}

func parseAddressList(s string) []models.EmailAddress {
	out := []models.EmailAddress{}
	if strings.TrimSpace(s) == "" {
		return out
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		for _, a := range list {
			out = append(out, models.EmailAddress{Name: a.Name, Address: a.Address})
		}
		return out
	}
	for _, piece := range strings.Split(s, ",") {
		if a := parseAddress(piece); a.Address != "" {
			out = append(out, a)
		}
	}
	return out
}

func (g gmailMessage) model() models.Message {
	labels := map[string]bool{}
	for _, l := range g.LabelIDs {
		labels[l] = true
	}

	body := decodeBody(g.Payload.Body.Data)
	if body == "" {
		body = g.Payload.findBody("text/plain")
	}
	if body == "" {
		body = g.Payload.findBody("text/html")
	}

	received := time.Time{}
	if ms, err := strconv.ParseInt(g.InternalDate, 10, 64); err == nil {
		received = time.UnixMilli(ms).UTC()
	}

	importance := models.ImportanceNormal
	if labels["IMPORTANT"] {
		importance = models.ImportanceHigh
	}

	subject := g.Payload.header("Subject")
	if subject == "" {
		subject = "(No Subject)"
	}
	conversation := g.ThreadID
	if conversation == "" {
		conversation = g.ID
	}

	msg := models.Message{
		ID:             g.ID,
		Subject:        subject,
		From:           parseAddress(g.Payload.header("From")),
		To:             parseAddressList(g.Payload.header("To")),
		Body:           body,
		ReceivedAt:     received,
		HasAttachments: g.Payload.hasAttachment(),
		Importance:     importance,
		IsRead:         !labels["UNREAD"],
		ConversationID: conversation,
		Metadata: map[string]any{
			"labels":    g.LabelIDs,
			"thread_id": g.ThreadID,
		},
	}
	if cc := g.Payload.header("Cc"); cc != "" {
		msg.Cc = parseAddressList(cc)
	}
	return msg
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

// time parses a timed event in RFC 3339 or an all-day event in loc.
func (e eventTime) time(loc *time.Location) time.Time {
	if e.DateTime != "" {
		t, _ := time.Parse(time.RFC3339, e.DateTime)
		return t
	}
	t, _ := time.ParseInLocation("2006-01-02", e.Date, loc)
	return t
}

type person struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type calendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
	Organizer   person    `json:"organizer"`
	Attendees   []struct {
		person
		Optional       bool   `json:"optional"`
		Resource       bool   `json:"resource"`
		ResponseStatus string `json:"responseStatus"`
	} `json:"attendees"`
	HangoutLink    string `json:"hangoutLink"`
	ConferenceData *struct {
		EntryPoints []struct {
			EntryPointType string `json:"entryPointType"`
			URI            string `json:"uri"`
		} `json:"entryPoints"`
	} `json:"conferenceData"`
}

func (e calendarEvent) joinURL() string {
	if e.HangoutLink != "" {
		return e.HangoutLink
	}
	if e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				return ep.URI
			}
		}
	}
	return ""
}

func (e calendarEvent) model(loc *time.Location) models.Meeting {
	subject := e.Summary
	if subject == "" {
		subject = "(No Subject)"
	}
	join := e.joinURL()
	m := models.Meeting{
		ID:               e.ID,
		Subject:          subject,
		Start:            e.Start.time(loc),
		End:              e.End.time(loc),
		Location:         e.Location,
		Organizer:        models.EmailAddress{Name: e.Organizer.DisplayName, Address: e.Organizer.Email},
		Attendees:        make([]models.Attendee, 0, len(e.Attendees)),
		Body:             e.Description,
		IsOnlineMeeting:  join != "",
		OnlineMeetingURL: join,
	}
	m.RepairEnd()
	for _, a := range e.Attendees {
		typ := models.AttendeeRequired
		switch {
		case a.Resource:
			typ = models.AttendeeResource
		case a.Optional:
			typ = models.AttendeeOptional
		}
		status := models.ResponseNone
		switch a.ResponseStatus {
		case "accepted":
			status = models.ResponseAccepted
		case "declined":
			status = models.ResponseDeclined
		case "tentative":
			status = models.ResponseTentative
		}
		m.Attendees = append(m.Attendees, models.Attendee{
			EmailAddress: models.EmailAddress{Name: a.DisplayName, Address: a.Email},
			Type:         typ,
			Status:       status,
		})
	}
	return m
}

type driveFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	CreatedTime  time.Time `json:"createdTime"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Parents      []string  `json:"parents"`
}

type document struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Body       struct {
		Content []struct {
			Paragraph *struct {
				Elements []struct {
					TextRun *struct {
						Content string `json:"content"`
					} `json:"textRun"`
				} `json:"elements"`
			} `json:"paragraph"`
		} `json:"content"`
	} `json:"body"`
}

func (d document) plainText() string {
	var b strings.Builder
	for _, c := range d.Body.Content {
		if c.Paragraph == nil {
			continue
		}
		for _, el := range c.Paragraph.Elements {
			if el.TextRun != nil {
				b.WriteString(el.TextRun.Content)
			}
		}
	}
	return b.String()
}
