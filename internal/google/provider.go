package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	"github.com/jmartens/lifesync/internal/record"
	"github.com/jmartens/lifesync/internal/syncerr"
)

// Feed names accepted by Fetch.
const (
	FeedCalendar = "calendar"
	FeedGmail    = "gmail"
	FeedContacts = "contacts"
)

const (
	primaryCalendar = "primary"
	gmailPageSize   = 100
	peoplePageSize  = 200

	personFields = "names,emailAddresses,phoneNumbers,metadata"
)

// Provider fetches records from the consumer account APIs.
type Provider struct {
	calendar *calendar.Service
	gmail    *gmail.Service
	people   *people.Service
	logger   *log.Logger
	calls    atomic.Int64
}

// NewProvider builds service clients over one authenticated HTTP client.
func NewProvider(ctx context.Context, client *http.Client, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[google] ", log.LstdFlags)
	}
	cal, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar service: %w", err)
	}
	gm, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to build gmail service: %w", err)
	}
	ppl, err := people.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to build people service: %w", err)
	}
	return &Provider{calendar: cal, gmail: gm, people: ppl, logger: logger}, nil
}

// Calls returns the number of API calls issued so far.
func (p *Provider) Calls() int {
	return int(p.calls.Load())
}

// Fetch returns records changed in a feed after since. A zero since
// means a full fetch.
func (p *Provider) Fetch(ctx context.Context, feed string, since time.Time) ([]*record.Record, error) {
	switch feed {
	case FeedCalendar:
		return p.fetchEvents(ctx, since)
	case FeedGmail:
		return p.fetchMessages(ctx, since)
	case FeedContacts:
		return p.fetchContacts(ctx, since)
	}
	return nil, fmt.Errorf("unknown provider feed %q", feed)
}

func (p *Provider) fetchEvents(ctx context.Context, since time.Time) ([]*record.Record, error) {
	var out []*record.Record
	pageToken := ""
	for {
		call := p.calendar.Events.List(primaryCalendar).
			Context(ctx).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(250)
		if !since.IsZero() {
			call = call.UpdatedMin(since.UTC().Format(time.RFC3339))
		} else {
			// Unbounded full fetches pull years of history; one year
			// back is the window the rest of the system reasons about.
			call = call.TimeMin(time.Now().AddDate(-1, 0, 0).UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		p.calls.Add(1)
		resp, err := call.Do()
		if err != nil {
			return nil, wrapAPIErr("calendar", err)
		}
		for _, ev := range resp.Items {
			out = append(out, eventRecord(ev))
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

func eventRecord(ev *calendar.Event) *record.Record {
	rec := &record.Record{
		ExternalID: ev.Id,
		ProviderID: ev.Id,
		SyncSource: record.SourceProvider,
		Deleted:    ev.Status == "cancelled",
		Fields: map[string]any{
			"title":       ev.Summary,
			"description": ev.Description,
			"location":    ev.Location,
		},
	}
	if t, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
		rec.UpdatedAt = t.UTC()
	}
	if ev.Start != nil {
		rec.Fields["starts_at"] = eventTime(ev.Start)
	}
	if ev.End != nil {
		rec.Fields["ends_at"] = eventTime(ev.End)
	}
	return rec
}

// eventTime handles both timed and all-day events.
func eventTime(t *calendar.EventDateTime) any {
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed.UTC()
		}
	}
	if t.Date != "" {
		if parsed, err := time.Parse("2006-01-02", t.Date); err == nil {
			return parsed.UTC()
		}
	}
	return nil
}

func (p *Provider) fetchMessages(ctx context.Context, since time.Time) ([]*record.Record, error) {
	query := ""
	if !since.IsZero() {
		query = fmt.Sprintf("after:%d", since.Unix())
	}

	var ids []string
	pageToken := ""
	for {
		call := p.gmail.Users.Messages.List("me").Context(ctx).MaxResults(gmailPageSize)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		p.calls.Add(1)
		resp, err := call.Do()
		if err != nil {
			return nil, wrapAPIErr("gmail", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || since.IsZero() && len(ids) >= gmailPageSize {
			break
		}
		pageToken = resp.NextPageToken
	}

	var out []*record.Record
	for _, id := range ids {
		p.calls.Add(1)
		msg, err := p.gmail.Users.Messages.Get("me", id).
			Context(ctx).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date").
			Do()
		if err != nil {
			// One unreadable message is a per-record problem; skip it
			// and let the pass report the rest.
			p.logger.Printf("WARNING: failed to fetch message %s: %v", id, err)
			continue
		}
		out = append(out, messageRecord(msg))
	}
	return out, nil
}

func messageRecord(msg *gmail.Message) *record.Record {
	rec := &record.Record{
		ExternalID: msg.Id,
		ProviderID: msg.Id,
		SyncSource: record.SourceProvider,
		UpdatedAt:  time.UnixMilli(msg.InternalDate).UTC(),
		Fields: map[string]any{
			"thread_id": msg.ThreadId,
			"snippet":   msg.Snippet,
		},
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				rec.Fields["sender"] = h.Value
			case "To":
				rec.Fields["recipient"] = h.Value
			case "Subject":
				rec.Fields["subject"] = h.Value
			}
		}
	}
	rec.Fields["received_at"] = rec.UpdatedAt
	return rec
}

func (p *Provider) fetchContacts(ctx context.Context, since time.Time) ([]*record.Record, error) {
	var out []*record.Record
	pageToken := ""
	for {
		call := p.people.People.Connections.List("people/me").
			Context(ctx).
			PersonFields(personFields).
			PageSize(peoplePageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		p.calls.Add(1)
		resp, err := call.Do()
		if err != nil {
			return nil, wrapAPIErr("people", err)
		}
		for _, person := range resp.Connections {
			rec := contactRecord(person)
			// The connections list has no server-side change filter;
			// trim to the window here.
			if !since.IsZero() && !rec.UpdatedAt.IsZero() && !rec.UpdatedAt.After(since) {
				continue
			}
			out = append(out, rec)
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

func contactRecord(person *people.Person) *record.Record {
	rec := &record.Record{
		ExternalID: person.ResourceName,
		ProviderID: person.ResourceName,
		SyncSource: record.SourceProvider,
		Fields:     map[string]any{},
	}
	if len(person.Names) > 0 {
		rec.Fields["full_name"] = person.Names[0].DisplayName
	}
	if len(person.EmailAddresses) > 0 {
		rec.Fields["email"] = person.EmailAddresses[0].Value
	}
	if len(person.PhoneNumbers) > 0 {
		rec.Fields["phone"] = person.PhoneNumbers[0].Value
	}
	if person.Metadata != nil {
		for _, src := range person.Metadata.Sources {
			if src.UpdateTime == "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, src.UpdateTime); err == nil && t.After(rec.UpdatedAt) {
				rec.UpdatedAt = t.UTC()
			}
		}
		rec.Deleted = person.Metadata.Deleted
	}
	return rec
}

// Create adds a contact. Only the contacts feed supports writes; the
// calendar and mail feeds are strictly read-only here.
func (p *Provider) Create(ctx context.Context, feed string, rec *record.Record) (string, error) {
	if feed != FeedContacts {
		return "", fmt.Errorf("feed %s: %w", feed, syncerr.ErrNotSupported)
	}
	p.calls.Add(1)
	created, err := p.people.People.CreateContact(contactPerson(rec)).Context(ctx).Do()
	if err != nil {
		return "", wrapAPIErr("people", err)
	}
	return created.ResourceName, nil
}

// Update patches an existing contact's identity fields.
func (p *Provider) Update(ctx context.Context, feed string, rec *record.Record) error {
	if feed != FeedContacts {
		return fmt.Errorf("feed %s: %w", feed, syncerr.ErrNotSupported)
	}
	p.calls.Add(1)
	existing, err := p.people.People.Get(rec.ProviderID).Context(ctx).PersonFields(personFields).Do()
	if err != nil {
		return wrapAPIErr("people", err)
	}
	person := contactPerson(rec)
	person.Etag = existing.Etag

	p.calls.Add(1)
	_, err = p.people.People.UpdateContact(rec.ProviderID, person).
		Context(ctx).
		UpdatePersonFields("names,emailAddresses,phoneNumbers").
		Do()
	if err != nil {
		return wrapAPIErr("people", err)
	}
	return nil
}

func contactPerson(rec *record.Record) *people.Person {
	person := &people.Person{}
	if name, ok := rec.Fields["full_name"].(string); ok && name != "" {
		person.Names = []*people.Name{{UnstructuredName: name}}
	}
	if email, ok := rec.Fields["email"].(string); ok && email != "" {
		person.EmailAddresses = []*people.EmailAddress{{Value: email}}
	}
	if phone, ok := rec.Fields["phone"].(string); ok && phone != "" {
		person.PhoneNumbers = []*people.PhoneNumber{{Value: phone}}
	}
	return person
}

// wrapAPIErr maps googleapi status codes onto the shared taxonomy.
func wrapAPIErr(service string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%s: %w: %v", service, syncerr.ErrAuth, err)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%s: %w: %v", service, syncerr.ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%s: %w: %v", service, syncerr.ErrTransient, err)
		}
	}
	return fmt.Errorf("%s request failed: %w", service, err)
}
