// Package chat implements the confirmation protocol between a buyer and a
// seller: plain messages, meeting proposals, and the accept/decline
// transition that marks a listing sold and closes its other conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"campus-market/internal/apperr"
	"campus-market/internal/models"
	"campus-market/internal/observability"
	"campus-market/internal/payload"
	"campus-market/internal/repositories"
	"campus-market/internal/telemetry"
	"campus-market/internal/timeline"
)

// MaxTextRunes bounds the length of a plain message.
const MaxTextRunes = 4000

// Decision is the answer to a confirmation request.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// ParseDecision accepts "accept"/"decline" and the legacy "yes"/"no".
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accept", "yes":
		return DecisionAccept, nil
	case "decline", "no":
		return DecisionDecline, nil
	}
	return "", apperr.Validation("decision must be accept or decline")
}

// Notifier receives every message and conversation the engine writes.
type Notifier interface {
	MessageCreated(conv models.Conversation, msg models.Message)
	ConversationStarted(conv models.Conversation)
}

// EventEmitter publishes domain events. Emit must not block on broker
// failures.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, userID string, payload any)
}

// ProposalInput is the user supplied content of a confirmation request.
type ProposalInput struct {
	Date     string `json:"date"`
	Location string `json:"location"`
	Price    string `json:"price"`
}

// RespondResult describes the outcome of RespondToConfirmation.
type RespondResult struct {
	Decision  Decision       `json:"decision"`
	Response  models.Message `json:"message"`
	ListingID int64          `json:"listing_id"`

	// NotifiedConversations and FanoutFailures are set on acceptance.
	NotifiedConversations int `json:"notified_conversations"`
	FanoutFailures        int `json:"fanout_failures"`
}

type Options struct {
	Notifier Notifier
	Events   EventEmitter
	Logger   *slog.Logger
	// Locker extends the per-conversation lock across instances. Without it
	// writes are serialised within this process only.
	Locker Locker
}

// Locker serialises writers of one key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Service is the confirmation protocol engine.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	listings      repositories.ListingRepository

	notifier Notifier
	events   EventEmitter
	logger   *slog.Logger
	tracer   trace.Tracer
	locks    *keyedMutex
	locker   Locker
}

func NewService(conversations repositories.ConversationRepository, messages repositories.MessageRepository, listings repositories.ListingRepository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		conversations: conversations,
		messages:      messages,
		listings:      listings,
		notifier:      opts.Notifier,
		events:        opts.Events,
		logger:        logger,
		tracer:        observability.Tracer(),
		locks:         newKeyedMutex(),
		locker:        opts.Locker,
	}
}

// StartConversation returns the buyer's conversation about a listing,
// creating it on first contact.
func (s *Service) StartConversation(ctx context.Context, listingID int64, buyerID string) (conv models.Conversation, created bool, err error) {
	ctx, end := s.begin(ctx, "start_conversation", attribute.Int64("listing.id", listingID))
	defer func() { end(err) }()

	if listingID <= 0 {
		return models.Conversation{}, false, apperr.Validation("listing_id is required")
	}
	sellerID, err := s.listings.GetSellerID(ctx, listingID)
	if errors.Is(err, repositories.ErrListingNotFound) {
		return models.Conversation{}, false, apperr.NotFound("listing not found")
	}
	if err != nil {
		return models.Conversation{}, false, apperr.Storage(err)
	}
	if sellerID == buyerID {
		return models.Conversation{}, false, apperr.Validation("cannot start a conversation about your own listing")
	}

	conv, created, err = s.conversations.Upsert(ctx, listingID, buyerID, sellerID)
	if err != nil {
		return models.Conversation{}, false, apperr.Storage(err)
	}
	if created {
		if s.notifier != nil {
			s.notifier.ConversationStarted(conv)
		}
		s.emit(ctx, telemetry.EventConversationStarted, buyerID, map[string]any{
			"conversation_id": conv.ID,
			"listing_id":      conv.ListingID,
		})
	}
	return conv, created, nil
}

// Conversation loads a conversation the user takes part in.
func (s *Service) Conversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return models.Conversation{}, apperr.Connectivity(err)
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, apperr.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}

// Messages returns the conversation's messages in server order.
func (s *Service) Messages(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	if _, err := s.Conversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Connectivity(err)
	}
	return msgs, nil
}

// Timeline returns the rendered view of a conversation.
func (s *Service) Timeline(ctx context.Context, conversationID, userID string) (*timeline.View, error) {
	msgs, err := s.Messages(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return timeline.FromMessages(conversationID, msgs), nil
}

// SendPlainMessage appends a free-form message.
func (s *Service) SendPlainMessage(ctx context.Context, conversationID, senderID, text string) (msg models.Message, err error) {
	ctx = context.WithoutCancel(ctx)
	ctx, end := s.begin(ctx, "send_message", attribute.String("conversation.id", conversationID))
	defer func() { end(err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, apperr.Validation("message text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextRunes {
		return models.Message{}, apperr.Validation(fmt.Sprintf("message text exceeds %d characters", MaxTextRunes))
	}

	conv, err := s.Conversation(ctx, conversationID, senderID)
	if err != nil {
		return models.Message{}, err
	}
	unlock, err := s.lock(ctx, conv.ID)
	if err != nil {
		return models.Message{}, err
	}
	defer unlock()

	if err := s.ensureOpen(ctx, conv); err != nil {
		return models.Message{}, err
	}
	return s.append(ctx, conv, senderID, payload.Plain(text))
}

// ProposeConfirmation appends a confirmation request. Several requests may
// be pending in one conversation at the same time.
func (s *Service) ProposeConfirmation(ctx context.Context, conversationID, senderID string, in ProposalInput) (msg models.Message, err error) {
	ctx = context.WithoutCancel(ctx)
	ctx, end := s.begin(ctx, "propose_confirmation", attribute.String("conversation.id", conversationID))
	defer func() { end(err) }()

	date := strings.TrimSpace(in.Date)
	location := strings.TrimSpace(in.Location)
	if date == "" {
		return models.Message{}, apperr.Validation("date is required")
	}
	if location == "" {
		return models.Message{}, apperr.Validation("location is required")
	}
	cents, err := payload.ParsePriceCents(in.Price)
	if err != nil {
		return models.Message{}, apperr.Validation(err.Error())
	}

	conv, err := s.Conversation(ctx, conversationID, senderID)
	if err != nil {
		return models.Message{}, err
	}
	unlock, err := s.lock(ctx, conv.ID)
	if err != nil {
		return models.Message{}, err
	}
	defer unlock()

	if err := s.ensureOpen(ctx, conv); err != nil {
		return models.Message{}, err
	}
	p := payload.Proposal(date, location, payload.FormatCents(cents))
	msg, err = s.append(ctx, conv, senderID, p)
	if err != nil {
		return models.Message{}, err
	}
	s.emit(ctx, telemetry.EventConfirmationProposed, senderID, telemetry.ProposalPayload{
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		MessageID:      msg.ID,
		Date:           p.Date,
		Location:       p.Location,
		Price:          p.Price,
	})
	return msg, nil
}

// RespondToConfirmation accepts or declines a pending confirmation request.
//
// Accepting marks the listing sold, records the acceptance in this
// conversation and posts an item-sold notice to every other conversation on
// the listing. Only the first acceptance per listing wins; the rest get
// AlreadyResolved. Failures while notifying other conversations are counted
// in the result and never returned.
func (s *Service) RespondToConfirmation(ctx context.Context, conversationID, responderID string, proposalID int64, decision Decision) (res RespondResult, err error) {
	ctx = context.WithoutCancel(ctx)
	ctx, end := s.begin(ctx, "respond_confirmation",
		attribute.String("conversation.id", conversationID),
		attribute.Int64("proposal.id", proposalID),
		attribute.String("decision", string(decision)),
	)
	defer func() { end(err) }()

	if decision != DecisionAccept && decision != DecisionDecline {
		return RespondResult{}, apperr.Validation("decision must be accept or decline")
	}

	conv, err := s.Conversation(ctx, conversationID, responderID)
	if err != nil {
		return RespondResult{}, err
	}
	unlock, err := s.lock(ctx, conv.ID)
	if err != nil {
		return RespondResult{}, err
	}
	defer unlock()

	msgs, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return RespondResult{}, apperr.Storage(err)
	}
	view := timeline.FromMessages(conv.ID, msgs)
	proposal, ok := view.Item(proposalID)
	if !ok {
		return RespondResult{}, apperr.NotFound("confirmation request not found")
	}
	if proposal.Payload.Kind != payload.KindConfirmationProposal {
		return RespondResult{}, apperr.Validation("message is not a confirmation request")
	}
	if proposal.SenderID == responderID {
		return RespondResult{}, apperr.Validation("cannot respond to your own confirmation request")
	}
	if proposal.Resolution != timeline.Pending {
		return RespondResult{}, apperr.AlreadyResolved("confirmation request was already answered")
	}

	res = RespondResult{Decision: decision, ListingID: conv.ListingID}
	if decision == DecisionDecline {
		res.Response, err = s.append(ctx, conv, responderID, payload.Declined(proposalID))
		if err != nil {
			return RespondResult{}, err
		}
		s.emit(ctx, telemetry.EventConfirmationDeclined, responderID, telemetry.ResponsePayload{
			ConversationID: conv.ID,
			ListingID:      conv.ListingID,
			ProposalID:     proposalID,
			ResponseID:     res.Response.ID,
		})
		return res, nil
	}

	if view.Frozen() {
		return RespondResult{}, apperr.AlreadyResolved("listing has already been sold")
	}
	if err := s.listings.MarkSold(ctx, conv.ListingID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrListingNotActive):
			return RespondResult{}, apperr.AlreadyResolved("listing has already been sold")
		case errors.Is(err, repositories.ErrListingNotFound):
			return RespondResult{}, apperr.NotFound("listing not found")
		}
		return RespondResult{}, apperr.Storage(err)
	}

	p := proposal.Payload
	accepted := payload.Accepted(proposalID, p.Date, p.Location, p.Price)
	res.Response, err = s.messages.Create(ctx, conv.ID, responderID, payload.Encode(accepted))
	if err != nil {
		s.logger.Error("listing sold but acceptance not recorded",
			"listing_id", conv.ListingID, "conversation_id", conv.ID, "proposal_id", proposalID, "err", err)
		return RespondResult{}, apperr.PartialFailure("listing was marked sold but the acceptance could not be saved", err)
	}
	s.notify(conv, res.Response)

	res.NotifiedConversations, res.FanoutFailures = s.fanOutSold(ctx, conv)
	observability.AddFanout(res.NotifiedConversations, res.FanoutFailures)

	s.emit(ctx, telemetry.EventConfirmationAccepted, responderID, telemetry.ResponsePayload{
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		ProposalID:     proposalID,
		ResponseID:     res.Response.ID,
	})
	s.emit(ctx, telemetry.EventListingSold, responderID, telemetry.SalePayload{
		ListingID:             conv.ListingID,
		ConversationID:        conv.ID,
		BuyerID:               conv.BuyerID,
		SellerID:              conv.SellerID,
		Date:                  p.Date,
		Location:              p.Location,
		Price:                 p.Price,
		NotifiedConversations: res.NotifiedConversations,
		FanoutFailures:        res.FanoutFailures,
	})
	return res, nil
}

// fanOutSold posts one item-sold notice to every other conversation on the
// listing. A failed enumeration counts as a single failure.
func (s *Service) fanOutSold(ctx context.Context, winner models.Conversation) (written, failed int) {
	siblings, err := s.conversations.ListByListing(ctx, winner.ListingID, winner.ID)
	if err != nil {
		s.logger.Error("item sold fan-out: list conversations", "listing_id", winner.ListingID, "err", err)
		return 0, 1
	}
	text := payload.Encode(payload.ItemSold())
	for _, sib := range siblings {
		msg, err := s.messages.Create(ctx, sib.ID, models.SystemSenderID, text)
		if err != nil {
			failed++
			s.logger.Error("item sold fan-out: write notice", "listing_id", winner.ListingID, "conversation_id", sib.ID, "err", err)
			continue
		}
		written++
		s.notify(sib, msg)
	}
	return written, failed
}

// ensureOpen rejects writes to a frozen conversation. The listing status is
// consulted too, so a conversation whose item-sold notice failed to land is
// still closed.
func (s *Service) ensureOpen(ctx context.Context, conv models.Conversation) error {
	msgs, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return apperr.Storage(err)
	}
	if timeline.FromMessages(conv.ID, msgs).Frozen() {
		return apperr.Validation("conversation is closed: the item has been sold")
	}
	listing, err := s.listings.Get(ctx, conv.ListingID)
	if errors.Is(err, repositories.ErrListingNotFound) {
		return apperr.NotFound("listing not found")
	}
	if err != nil {
		return apperr.Storage(err)
	}
	if listing.Status == models.ListingSold {
		return apperr.Validation("conversation is closed: the item has been sold")
	}
	return nil
}

func (s *Service) append(ctx context.Context, conv models.Conversation, senderID string, p payload.Payload) (models.Message, error) {
	msg, err := s.messages.Create(ctx, conv.ID, senderID, payload.Encode(p))
	if err != nil {
		return models.Message{}, apperr.Storage(err)
	}
	s.notify(conv, msg)
	return msg, nil
}

func (s *Service) notify(conv models.Conversation, msg models.Message) {
	if s.notifier != nil {
		s.notifier.MessageCreated(conv, msg)
	}
}

func (s *Service) emit(ctx context.Context, eventType, userID string, body any) {
	if s.events != nil {
		s.events.Emit(ctx, eventType, userID, body)
	}
}

// lock takes the in-process lock for a conversation, then the shared one.
func (s *Service) lock(ctx context.Context, conversationID string) (func(), error) {
	local := s.locks.Lock(conversationID)
	if s.locker == nil {
		return local, nil
	}
	shared, err := s.locker.Lock(ctx, "conversation:"+conversationID)
	if err != nil {
		local()
		return nil, apperr.Storage(err)
	}
	return func() {
		shared()
		local()
	}, nil
}

// begin starts a span for one operation; the returned func records the
// outcome on the span and in metrics.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "chat."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.MessageOf(err))
			if apperr.CodeOf(err) == apperr.CodeStorage || apperr.CodeOf(err) == apperr.CodePartialFailure {
				s.logger.Error("chat operation failed", "op", op, "err", err)
			}
		}
		observability.ObserveOperation(op, outcome, time.Since(start))
		span.End()
	}
}
