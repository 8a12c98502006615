package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// MemoryStore implements Store in process memory. It enforces the same uniqueness rules as
// the SQL schema and is used for development, the default configuration and tests.
type MemoryStore struct {
	mu sync.RWMutex

	nextTicketID int64
	nextThreadID int64
	nextEntryID  int64
	nextUserID   int64

	tickets    map[int64]*models.Ticket
	byNumber   map[string]int64
	threads    map[int64]*models.Conversation
	entries    map[int64]*models.ConversationEntry
	entryByMID map[string]int64
	references map[string][]models.ConversationReference
	users      map[int64]*models.User
	userEmails map[string]int64

	statuses   map[int]models.TicketStatus
	priorities map[int]models.TicketPriority
	orgs       map[int64]models.Organization
}

// NewMemoryStore returns an empty store seeded with the default statuses.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		tickets:    make(map[int64]*models.Ticket),
		byNumber:   make(map[string]int64),
		threads:    make(map[int64]*models.Conversation),
		entries:    make(map[int64]*models.ConversationEntry),
		entryByMID: make(map[string]int64),
		references: make(map[string][]models.ConversationReference),
		users:      make(map[int64]*models.User),
		userEmails: make(map[string]int64),
		statuses:   make(map[int]models.TicketStatus),
		priorities: make(map[int]models.TicketPriority),
		orgs:       make(map[int64]models.Organization),
	}
	for _, st := range DefaultStatuses() {
		s.statuses[st.ID] = st
	}
	return s
}

func (s *MemoryStore) Seed(_ context.Context, l Lookups) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range l.Statuses {
		s.statuses[st.ID] = st
	}
	for _, p := range l.Priorities {
		s.priorities[p.ID] = p
	}
	for _, o := range l.Organizations {
		s.orgs[o.ID] = o
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) FindEntryByMessageID(_ context.Context, messageID string) (*models.ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entryByMID[messageID]
	if !ok || messageID == "" {
		return nil, ErrNotFound
	}
	return copyEntry(s.entries[id]), nil
}

func (s *MemoryStore) FindConversationByReference(_ context.Context, messageID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.references[messageID]
	if len(refs) == 0 {
		return nil, ErrNotFound
	}
	latest := refs[0]
	for _, r := range refs[1:] {
		if r.Created.After(latest.Created) {
			latest = r
		}
	}
	return s.conversationLocked(latest.ConversationID)
}

func (s *MemoryStore) GetConversation(_ context.Context, id int64) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationLocked(id)
}

func (s *MemoryStore) conversationLocked(id int64) (*models.Conversation, error) {
	c, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Object = models.ObjectRef{Type: c.ObjectType, ID: c.ObjectID}
	if c.ObjectType == models.ObjectTicket {
		if t, ok := s.tickets[c.ObjectID]; ok {
			cp.Object.Number = t.Number
		}
	}
	return &cp, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, conversationID int64) ([]*models.ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[conversationID]; !ok {
		return nil, ErrNotFound
	}
	var out []*models.ConversationEntry
	for _, e := range s.entries {
		if e.ConversationID == conversationID {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, entry *models.ConversationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.threads[entry.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if c.Closed {
		return ErrConversationClosed
	}
	return s.insertEntryLocked(entry)
}

func (s *MemoryStore) insertEntryLocked(entry *models.ConversationEntry) error {
	if entry.MessageID != "" {
		if _, dup := s.entryByMID[entry.MessageID]; dup {
			return ErrDuplicateMessageID
		}
	}
	s.nextEntryID++
	entry.ID = s.nextEntryID
	if entry.Created.IsZero() {
		entry.Created = time.Now().UTC()
	}
	s.entries[entry.ID] = copyEntry(entry)
	if entry.MessageID != "" {
		s.entryByMID[entry.MessageID] = entry.ID
	}
	return nil
}

func (s *MemoryStore) AddReference(_ context.Context, ref *models.ConversationReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[ref.ConversationID]; !ok {
		return ErrNotFound
	}
	for _, r := range s.references[ref.MessageID] {
		if r.ConversationID == ref.ConversationID {
			return nil
		}
	}
	if ref.Created.IsZero() {
		ref.Created = time.Now().UTC()
	}
	s.references[ref.MessageID] = append(s.references[ref.MessageID], *ref)
	return nil
}

func (s *MemoryStore) SetConversationClosed(_ context.Context, id int64, closed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.threads[id]
	if !ok {
		return ErrNotFound
	}
	c.Closed = closed
	return nil
}

func (s *MemoryStore) CreateTicket(_ context.Context, ticket *models.Ticket, first *models.ConversationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byNumber[ticket.Number]; dup {
		return ErrDuplicateNumber
	}
	if first != nil && first.MessageID != "" {
		if _, dup := s.entryByMID[first.MessageID]; dup {
			return ErrDuplicateMessageID
		}
	}
	if ticket.Created.IsZero() {
		ticket.Created = time.Now().UTC()
	}

	s.nextTicketID++
	s.nextThreadID++
	ticket.ID = s.nextTicketID
	ticket.ConversationID = s.nextThreadID
	s.threads[ticket.ConversationID] = &models.Conversation{
		ID:         ticket.ConversationID,
		ObjectType: models.ObjectTicket,
		ObjectID:   ticket.ID,
		Created:    ticket.Created,
	}
	cp := *ticket
	s.tickets[ticket.ID] = &cp
	s.byNumber[ticket.Number] = ticket.ID

	if first != nil {
		first.ConversationID = ticket.ConversationID
		if first.Created.IsZero() {
			first.Created = ticket.Created
		}
		// uniqueness was checked above, under the same lock
		_ = s.insertEntryLocked(first)
	}
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, id int64) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetTicket(ctx, id)
}

func (s *MemoryStore) ListOpenTickets(_ context.Context) ([]*models.OpenTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type sortable struct {
		row     *models.OpenTicket
		urgency int
	}
	var rows []sortable
	for _, t := range s.tickets {
		st, ok := s.statuses[t.StatusID]
		if !ok || st.State != models.StateOpen {
			continue
		}
		p, ok := s.priorities[t.PriorityID]
		if !ok {
			continue
		}
		u, ok := s.users[t.UserID]
		if !ok {
			continue
		}
		status, priority := st, p
		row := &models.OpenTicket{
			TicketID:     t.ID,
			TicketNumber: t.Number,
			Subject:      t.Subject,
			Status:       &status,
			Priority:     &priority,
			User:         &models.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email},
			Created:      t.Created,
			Due:          t.Due,
		}
		if o, ok := s.orgs[u.OrgID]; ok {
			row.Org = &models.OrgSummary{ID: o.ID, Name: o.Name}
		}
		rows = append(rows, sortable{row: row, urgency: p.Urgency})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].urgency != rows[j].urgency {
			return rows[i].urgency < rows[j].urgency
		}
		if !rows[i].row.Created.Equal(rows[j].row.Created) {
			return rows[i].row.Created.Before(rows[j].row.Created)
		}
		return rows[i].row.TicketID < rows[j].row.TicketID
	})
	out := make([]*models.OpenTicket, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.row)
	}
	return out, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userEmails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, dup := s.userEmails[key]; dup {
		return ErrDuplicateEmail
	}
	s.nextUserID++
	user.ID = s.nextUserID
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}
	cp := *user
	s.users[user.ID] = &cp
	s.userEmails[key] = user.ID
	return nil
}

func copyEntry(e *models.ConversationEntry) *models.ConversationEntry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.References = append([]string(nil), e.References...)
	cp.Recipients = append([]models.Recipient(nil), e.Recipients...)
	cp.AttachmentIDs = append([]string(nil), e.AttachmentIDs...)
	return &cp
}
