package intake

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/forms"
	"github.com/gotrs-io/gotrs-intake/internal/models"
	"github.com/gotrs-io/gotrs-intake/internal/repository"
	"github.com/gotrs-io/gotrs-intake/internal/ticketnumber"
)

const maxNumberAttempts = 5

// TicketStore is the persistence the creator needs.
type TicketStore interface {
	repository.TicketRepository
	repository.UserRepository
}

// Notifier is told about every created ticket. Failures are logged and never undo the ticket.
type Notifier interface {
	TicketCreated(ctx context.Context, ticket *models.Ticket, req *Request) error
}

// LogNotifier only logs. It is the default notifier.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) TicketCreated(_ context.Context, t *models.Ticket, _ *Request) error {
	if n.Logger != nil {
		n.Logger.Info("ticket created",
			zap.String("number", t.Number),
			zap.Int64("ticket_id", t.ID),
			zap.Bool("alert", t.Alert),
			zap.Bool("autorespond", t.AutoRespond))
	}
	return nil
}

// Creator validates normalized requests and opens tickets for them.
type Creator struct {
	store     TicketStore
	forms     *forms.Registry
	generator ticketnumber.Generator
	counters  ticketnumber.CounterStore

	banned          []string
	priorities      map[int]models.TicketPriority
	defaultPriority int
	orgs            []models.Organization
	grace           time.Duration
	notifier        Notifier
	now             func() time.Time
	logger          *zap.Logger
}

type CreatorOption func(*Creator)

// WithBanList denies senders matching any of the glob patterns, e.g. "*@spam.example".
func WithBanList(patterns []string) CreatorOption {
	return func(c *Creator) {
		c.banned = nil
		for _, p := range patterns {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.banned = append(c.banned, p)
			}
		}
	}
}

func WithPriorities(list []models.TicketPriority, defaultID int) CreatorOption {
	return func(c *Creator) {
		c.priorities = make(map[int]models.TicketPriority, len(list))
		for _, p := range list {
			c.priorities[p.ID] = p
		}
		c.defaultPriority = defaultID
	}
}

// WithOrganizations resolves new users into organizations by email domain.
func WithOrganizations(orgs []models.Organization) CreatorOption {
	return func(c *Creator) { c.orgs = orgs }
}

// WithGracePeriod sets the due date of new tickets to creation time plus d.
func WithGracePeriod(d time.Duration) CreatorOption {
	return func(c *Creator) { c.grace = d }
}

func WithNotifier(n Notifier) CreatorOption {
	return func(c *Creator) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithCreatorClock(now func() time.Time) CreatorOption {
	return func(c *Creator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithCreatorLogger(l *zap.Logger) CreatorOption {
	return func(c *Creator) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCreator(store TicketStore, registry *forms.Registry, gen ticketnumber.Generator, counters ticketnumber.CounterStore, opts ...CreatorOption) *Creator {
	if registry == nil {
		registry = forms.Default()
	}
	c := &Creator{
		store:     store,
		forms:     registry,
		generator: gen,
		counters:  counters,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	WithPriorities(nil, 0)(c)
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	return c
}

// Create validates req and stores a new ticket with req as its first entry. Validation
// failures are reported together; denials stop further checks.
func (c *Creator) Create(ctx context.Context, req *Request) (*models.Ticket, error) {
	errs := NewValidationErrors()

	if email := req.Email(); email != "" && c.isBanned(email) {
		c.logger.Info("denied ticket from banned email", zap.String("email", email))
		errs.Deny(403, "Banned email - "+email)
		return nil, errs.Err()
	}

	var topic forms.Topic
	if req.TopicID != 0 {
		t, ok := c.forms.Topic(req.TopicID)
		switch {
		case !ok:
			errs.Add("topicId", "Select a valid help topic")
		case t.Disabled:
			errs.Deny(403, "Help topic is disabled")
			return nil, errs.Err()
		default:
			topic = t
		}
	}

	schema := c.forms.Schema(topic.ID)
	for _, f := range schema.Fields {
		var value any = req.Fields[f.Name]
		if f.Name == forms.MessageField {
			value = req.Message
		}
		if msg := f.Validate(value); msg != "" {
			errs.Add(f.Name, msg)
		}
	}
	if req.Email() == "" {
		errs.Add("email", "This field is required")
	}
	if req.Name() == "" {
		errs.Add("name", "This field is required")
	}

	priorityID := req.PriorityID
	if priorityID != 0 {
		if _, ok := c.priorities[priorityID]; !ok && len(c.priorities) > 0 {
			errs.Add("priorityId", "Invalid priority")
		}
	} else if topic.PriorityID != 0 {
		priorityID = topic.PriorityID
	} else {
		priorityID = c.defaultPriority
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}

	user, err := c.resolveUser(ctx, req)
	if err != nil {
		return nil, err
	}

	created := c.now().UTC()
	ticket := &models.Ticket{
		Subject:     req.Subject(),
		StatusID:    repository.StatusOpen,
		PriorityID:  priorityID,
		TopicID:     topic.ID,
		UserID:      user.ID,
		OrgID:       user.OrgID,
		Source:      req.Source,
		IP:          req.IP,
		Alert:       req.Alert,
		AutoRespond: req.AutoRespond && !req.SuppressAutoResponse(),
		Created:     created,
	}
	if c.grace > 0 {
		due := created.Add(c.grace)
		ticket.Due = &due
	}
	entry := req.Entry(user.ID)
	entry.Created = created

	if err := c.persist(ctx, ticket, entry); err != nil {
		return nil, err
	}

	if err := c.notifier.TicketCreated(ctx, ticket, req); err != nil {
		c.logger.Warn("ticket notifier failed", zap.String("number", ticket.Number), zap.Error(err))
	}
	return ticket, nil
}

// persist draws numbers until one is free. A number lost to a failed insert is never
// handed out again.
func (c *Creator) persist(ctx context.Context, ticket *models.Ticket, entry *models.ConversationEntry) error {
	var lastErr error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		number, err := c.generator.Next(ctx, c.counters)
		if err != nil {
			return unavailable(fmt.Errorf("ticket number: %w", err))
		}
		ticket.Number = number
		err = c.store.CreateTicket(ctx, ticket, entry)
		if err == nil {
			if ticket.ID == 0 {
				return unknown(errors.New("store returned no ticket"))
			}
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateNumber) {
			return storeError("create ticket", err)
		}
		c.logger.Warn("ticket number collision",
			zap.String("number", number),
			zap.String("generator", c.generator.Name()),
			zap.Int("attempt", attempt))
		lastErr = err
	}
	return unknown(fmt.Errorf("no free ticket number after %d attempts: %w", maxNumberAttempts, lastErr))
}

func (c *Creator) resolveUser(ctx context.Context, req *Request) (*models.User, error) {
	email := req.Email()
	user, err := c.store.FindUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeError("find user", err)
	}
	user = &models.User{
		Name:    req.Name(),
		Email:   email,
		OrgID:   c.orgFor(email),
		Created: c.now().UTC(),
	}
	err = c.store.CreateUser(ctx, user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		// created concurrently
		user, err = c.store.FindUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, storeError("create user", err)
	}
	return user, nil
}

func (c *Creator) orgFor(email string) int64 {
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return 0
	}
	for _, o := range c.orgs {
		for _, d := range o.Domains {
			if strings.EqualFold(strings.TrimSpace(d), domain) {
				return o.ID
			}
		}
	}
	return 0
}

func (c *Creator) isBanned(email string) bool {
	for _, pattern := range c.banned {
		if pattern == email {
			return true
		}
		if ok, err := path.Match(pattern, email); err == nil && ok {
			return true
		}
	}
	return false
}

// storeError classifies a repository failure. The cause stays reachable through errors.Is.
func storeError(op string, err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return unavailable(fmt.Errorf("%s: %w", op, err))
	}
	if errors.Is(err, repository.ErrValueTooLong) {
		return tooLong(fmt.Errorf("%s: %w", op, err))
	}
	return unknown(fmt.Errorf("%s: %w", op, err))
}
