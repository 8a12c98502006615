package postmaster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/dedup"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/metrics"
	"github.com/gotrs-io/gotrs-intake/internal/models"
	"github.com/gotrs-io/gotrs-intake/internal/repository"
)

// Actions reported in Result.
const (
	ActionNewTicket = "new_ticket"
	ActionFollowUp  = "follow_up"
	ActionDuplicate = "duplicate"
	ActionIgnored   = "ignored"
)

// Correlation match kinds recorded in metrics.
const (
	matchEntry        = "entry"
	matchConversation = "conversation"
	matchNone         = "none"
	matchSeen         = "seen"
	matchIndex        = "index"
)

// Intake is the ticket side of the pipeline.
type Intake interface {
	Normalize(ctx context.Context, format string, payload map[string]any) (*intake.Request, error)
	Create(ctx context.Context, req *intake.Request) (*models.Ticket, error)
}

// Store is the conversation and user lookup the correlator needs.
type Store interface {
	repository.ConversationRepository
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// EmailProcessor correlates inbound email with existing conversations and opens tickets
// for the rest. Correlation uses header identities only.
type EmailProcessor struct {
	parser   *Parser
	intake   Intake
	store    Store
	seen     dedup.Index
	fallback bool
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type EmailProcessorOption func(*EmailProcessor)

func WithParser(p *Parser) EmailProcessorOption {
	return func(ep *EmailProcessor) {
		if p != nil {
			ep.parser = p
		}
	}
}

// WithSeenIndex sets the advisory message id index consulted before any lookup.
func WithSeenIndex(idx dedup.Index) EmailProcessorOption {
	return func(ep *EmailProcessor) { ep.seen = idx }
}

// WithFallbackOnPostFailure controls whether a failed post to a matched thread falls through
// to the next stage. When off the failure is reported as unsupported.
func WithFallbackOnPostFailure(enabled bool) EmailProcessorOption {
	return func(ep *EmailProcessor) { ep.fallback = enabled }
}

func WithProcessorMetrics(m *metrics.Metrics) EmailProcessorOption {
	return func(ep *EmailProcessor) { ep.metrics = m }
}

func WithProcessorLogger(l *zap.Logger) EmailProcessorOption {
	return func(ep *EmailProcessor) {
		if l != nil {
			ep.logger = l
		}
	}
}

func NewEmailProcessor(in Intake, store Store, opts ...EmailProcessorOption) *EmailProcessor {
	ep := &EmailProcessor{
		parser:   NewParser(),
		intake:   in,
		store:    store,
		fallback: true,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ep)
		}
	}
	return ep
}

// Process implements Processor for fetched and piped messages.
func (ep *EmailProcessor) Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error) {
	if msg == nil {
		return Result{}, intake.Unsupported(416, "Request failed - retry again!")
	}
	if annotationBool(meta, filters.AnnotationIgnoreMessage) {
		ep.logger.Info("ignoring message due to annotation", zap.String("uid", msg.UID))
		return Result{Action: ActionIgnored}, nil
	}
	email, err := ep.parser.Parse(msg.Raw)
	if err != nil {
		return Result{}, &intake.Error{Kind: intake.KindStructural, Code: 400, Msg: intake.MsgInvalidData, Cause: err}
	}
	return ep.process(ctx, email, meta)
}

// ProcessEmail runs an already parsed email through the pipeline.
func (ep *EmailProcessor) ProcessEmail(ctx context.Context, email *models.InboundEmail) (Result, error) {
	return ep.process(ctx, email, nil)
}

func (ep *EmailProcessor) process(ctx context.Context, email *models.InboundEmail, meta *filters.MessageContext) (Result, error) {
	if email == nil {
		return Result{}, intake.Unsupported(416, "Request failed - retry again!")
	}
	if title := annotationString(meta, filters.AnnotationTitleOverride); title != "" {
		cp := *email
		cp.Subject = title
		email = &cp
	}
	if tt := annotationString(meta, filters.AnnotationThreadType); tt != "" {
		cp := *email
		cp.ThreadType = tt
		email = &cp
	}
	mid := models.NormalizeMessageID(email.MessageID)
	if res, ok := ep.seenBefore(ctx, mid, ep.logger.With(zap.String("mid", mid))); ok {
		return res, nil
	}

	payload := email.Payload()
	if topic := annotationInt(meta, filters.AnnotationTopicIDOverride); topic > 0 {
		payload["topicId"] = topic
	}
	if priority := annotationInt(meta, filters.AnnotationPriorityIDOverride); priority > 0 {
		payload["priorityId"] = priority
	}

	req, err := ep.intake.Normalize(ctx, intake.FormatEmail, payload)
	if err != nil {
		return Result{}, err
	}
	log := ep.logger.With(zap.String("mid", req.MessageID))

	res, handled, err := ep.postToEntryThread(ctx, req, log)
	if handled {
		return ep.finish(ctx, req, res, err)
	}
	res, handled, err = ep.postToConversation(ctx, req, log)
	if handled {
		return ep.finish(ctx, req, res, err)
	}

	ep.metrics.Correlation(matchNone)
	ticket, err := ep.intake.Create(ctx, req)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateMessageID) {
			res, err := ep.alreadyProcessed(ctx, req.MessageID, log)
			return ep.finish(ctx, req, res, err)
		}
		return Result{}, err
	}
	log.Info("created ticket from email", zap.String("number", ticket.Number))
	return ep.finish(ctx, req, Result{Object: ticket.Ref(), Ticket: ticket, Action: ActionNewTicket}, nil)
}

// seenBefore consults the advisory index. It runs before normalization so a redelivery
// stores no attachments.
func (ep *EmailProcessor) seenBefore(ctx context.Context, mid string, log *zap.Logger) (Result, bool) {
	if ep.seen == nil || mid == "" {
		return Result{}, false
	}
	ref, ok, err := ep.seen.Lookup(ctx, mid)
	if err != nil {
		log.Warn("seen index lookup failed", zap.Error(err))
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	ep.metrics.Correlation(matchIndex)
	log.Info("email already processed", zap.Stringer("object", ref))
	return Result{Object: ref, Action: ActionDuplicate}, true
}

// postToEntryThread matches the header identities against recorded entries. The email's own
// id matching means it was processed before.
func (ep *EmailProcessor) postToEntryThread(ctx context.Context, req *intake.Request, log *zap.Logger) (Result, bool, error) {
	for _, id := range req.HeaderIDs() {
		entry, err := ep.store.FindEntryByMessageID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, true, lookupError(err)
		}
		conv, err := ep.store.GetConversation(ctx, entry.ConversationID)
		if err != nil {
			return Result{}, true, lookupError(err)
		}
		if id == req.MessageID {
			ep.metrics.Correlation(matchSeen)
			log.Info("email already processed", zap.Stringer("object", conv.Object))
			return Result{Object: conv.Object, EntryID: entry.ID, Action: ActionDuplicate}, true, nil
		}
		ep.metrics.Correlation(matchEntry)
		res, err := ep.post(ctx, req, conv, log)
		if err == nil {
			return res, true, nil
		}
		if ep.fallThrough(err, log) {
			return Result{}, false, nil
		}
		return Result{}, true, postError(err)
	}
	return Result{}, false, nil
}

// postToConversation matches identities recorded on a conversation without an entry.
func (ep *EmailProcessor) postToConversation(ctx context.Context, req *intake.Request, log *zap.Logger) (Result, bool, error) {
	for _, id := range req.HeaderIDs() {
		conv, err := ep.store.FindConversationByReference(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, true, lookupError(err)
		}
		ep.metrics.Correlation(matchConversation)
		res, err := ep.post(ctx, req, conv, log)
		if err == nil {
			return res, true, nil
		}
		if ep.fallThrough(err, log) {
			return Result{}, false, nil
		}
		return Result{}, true, postError(err)
	}
	return Result{}, false, nil
}

func (ep *EmailProcessor) post(ctx context.Context, req *intake.Request, conv *models.Conversation, log *zap.Logger) (Result, error) {
	var userID int64
	if email := req.Email(); email != "" {
		if u, err := ep.store.FindUserByEmail(ctx, email); err == nil {
			userID = u.ID
		}
	}
	entry := req.Entry(userID)
	entry.ConversationID = conv.ID
	err := ep.store.AppendEntry(ctx, entry)
	switch {
	case err == nil:
		log.Info("appended email to conversation",
			zap.Int64("thread_id", conv.ID), zap.Stringer("object", conv.Object))
		return Result{Object: conv.Object, EntryID: entry.ID, Action: ActionFollowUp}, nil
	case errors.Is(err, repository.ErrDuplicateMessageID):
		return ep.alreadyProcessed(ctx, req.MessageID, log)
	default:
		return Result{}, err
	}
}

// fallThrough reports whether a post failure lets processing continue with the next stage.
func (ep *EmailProcessor) fallThrough(err error, log *zap.Logger) bool {
	if errors.Is(err, repository.ErrUnavailable) || errors.Is(err, intake.ErrUnavailable) ||
		errors.Is(err, repository.ErrValueTooLong) {
		return false
	}
	if !ep.fallback {
		return false
	}
	log.Warn("posting to matched thread failed, falling through", zap.Error(err))
	return true
}

// alreadyProcessed resolves a concurrent duplicate delivery through a fresh lookup.
func (ep *EmailProcessor) alreadyProcessed(ctx context.Context, mid string, log *zap.Logger) (Result, error) {
	entry, err := ep.store.FindEntryByMessageID(ctx, mid)
	if err != nil {
		return Result{}, lookupError(fmt.Errorf("resolve duplicate %s: %w", mid, err))
	}
	conv, err := ep.store.GetConversation(ctx, entry.ConversationID)
	if err != nil {
		return Result{}, lookupError(err)
	}
	ep.metrics.Correlation(matchSeen)
	log.Info("email processed concurrently", zap.Stringer("object", conv.Object))
	return Result{Object: conv.Object, EntryID: entry.ID, Action: ActionDuplicate}, nil
}

func (ep *EmailProcessor) finish(ctx context.Context, req *intake.Request, res Result, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if ep.seen != nil && req.MessageID != "" && !res.Object.IsZero() {
		if rerr := ep.seen.Remember(ctx, req.MessageID, res.Object); rerr != nil {
			ep.logger.Warn("seen index update failed", zap.String("mid", req.MessageID), zap.Error(rerr))
		}
	}
	return res, nil
}

// postError classifies a post failure that did not fall through.
func postError(err error) error {
	var ie *intake.Error
	if errors.As(err, &ie) {
		return err
	}
	if errors.Is(err, repository.ErrUnavailable) {
		return lookupError(err)
	}
	if errors.Is(err, repository.ErrValueTooLong) {
		return &intake.Error{Kind: intake.KindUnsupported, Code: 413, Msg: intake.MsgTooLong, Cause: err}
	}
	return &intake.Error{Kind: intake.KindUnsupported, Code: 417, Msg: "Unable to post to matched thread", Cause: err}
}

func lookupError(err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return &intake.Error{Kind: intake.KindUnavailable, Code: 503, Msg: "Service unavailable", Cause: err}
	}
	return &intake.Error{Kind: intake.KindUnknown, Code: 500, Msg: intake.MsgUnknown, Cause: err}
}

func (r Result) String() string {
	parts := []string{r.Action}
	if !r.Object.IsZero() {
		parts = append(parts, r.Object.String())
	}
	return strings.Join(parts, " ")
}
