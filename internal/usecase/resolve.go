package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"connect-messaging/internal/domain"
	"connect-messaging/internal/repository"
)

const (
	paramInstanceID    = "/connect/instance_id"
	paramContactFlowID = "/connect/contact_flow_id"
	paramStreamingARN  = "/connect/streaming_endpoint_arn"

	attrCustomerNumber = "customerNumber"
	attrFirstMessage   = "isFirstMessage"
	attrChannel        = "channel"
	channelSMS         = "SMS"
)

type SessionStatus string

const (
	StatusResumed SessionStatus = "Resumed"
	StatusCreated SessionStatus = "Created"
)

type SessionStore interface {
	GetSession(ctx context.Context, number string) (domain.SessionState, error)
	PutSession(ctx context.Context, rec domain.SessionRecord, expected domain.SessionState) error
}

type ContactCenter interface {
	StartChat(ctx context.Context, req domain.ChatRequest) (domain.ChatContact, error)
	StartStreaming(ctx context.Context, instanceID, contactID, endpointARN string) error
	StopContact(ctx context.Context, instanceID, contactID string) error
}

type Participants interface {
	CreateConnection(ctx context.Context, participantToken string) (string, error)
	SendMessage(ctx context.Context, connectionToken, text string) (string, error)
}

type ResolveConfig struct {
	ParamPrefix         string
	SessionTTL          time.Duration
	ChatDurationMinutes int32
}

type ResolveInput struct {
	OriginatingNumber string
	MessageContent    string
	IsFirstMessage    bool
}

type ResolveOutput struct {
	Status    SessionStatus
	ContactID string
	// MessageID is empty when no message was sent.
	MessageID string
}

// ResolveService routes an inbound customer message into a live chat
// contact, reusing the stored participant connection when it still works.
type ResolveService struct {
	sessions     SessionStore
	contacts     ContactCenter
	participants Participants
	log          logrus.FieldLogger
	settings     *paramCache
	sessionTTL   time.Duration
	chatDuration int32
}

func NewResolveService(p ParamGetter, sessions SessionStore, contacts ContactCenter, participants Participants, log logrus.FieldLogger, cfg ResolveConfig) (*ResolveService, error) {
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if contacts == nil {
		return nil, errors.New("usecase: contact center must not be nil")
	}
	if participants == nil {
		return nil, errors.New("usecase: participants must not be nil")
	}
	if log == nil {
		return nil, errors.New("usecase: logger must not be nil")
	}
	settings, err := newParamCache(p, cfg.ParamPrefix, paramInstanceID, paramContactFlowID, paramStreamingARN)
	if err != nil {
		return nil, err
	}
	return &ResolveService{
		sessions:     sessions,
		contacts:     contacts,
		participants: participants,
		log:          log,
		settings:     settings,
		sessionTTL:   cfg.SessionTTL,
		chatDuration: cfg.ChatDurationMinutes,
	}, nil
}

func (s *ResolveService) ResolveSession(ctx context.Context, in ResolveInput) (ResolveOutput, error) {
	number := strings.TrimSpace(in.OriginatingNumber)
	if number == "" {
		return ResolveOutput{}, newError(ErrorInvalidInput, "missing_originating_number", nil)
	}
	if in.MessageContent == "" && !in.IsFirstMessage {
		return ResolveOutput{}, newError(ErrorInvalidInput, "missing_message_content", nil)
	}
	log := s.log.WithFields(logrus.Fields{
		"operation": "ResolveSession",
		"customer":  maskNumber(number),
	})

	state, err := s.sessions.GetSession(ctx, number)
	if err != nil {
		return ResolveOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}

	if active, ok := state.(domain.Active); ok && active.ConnectionToken != "" && in.MessageContent != "" {
		msgID, sendErr := s.participants.SendMessage(ctx, active.ConnectionToken, in.MessageContent)
		if sendErr == nil {
			log.WithField("contactId", active.ContactID).Debug("message delivered on existing connection")
			return ResolveOutput{Status: StatusResumed, ContactID: active.ContactID, MessageID: msgID}, nil
		}
		if ctx.Err() != nil {
			return ResolveOutput{}, newError(ErrorUpstream, "participant_send_canceled", sendErr)
		}
		log.WithError(sendErr).WithField("contactId", active.ContactID).Info("stored connection rejected message, starting rehydrated contact")
	}

	return s.createSession(ctx, log, number, in, state)
}

func (s *ResolveService) createSession(ctx context.Context, log logrus.FieldLogger, number string, in ResolveInput, prior domain.SessionState) (ResolveOutput, error) {
	cfg, err := s.settings.load(ctx)
	if err != nil {
		return ResolveOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	instanceID := cfg[paramInstanceID]

	contact, err := s.startChat(ctx, log, cfg, number, in.IsFirstMessage, domain.PriorContactID(prior))
	if err != nil {
		return ResolveOutput{}, newError(ErrorUpstream, "connect_start_chat_error", err)
	}
	log = log.WithField("contactId", contact.ContactID)

	if err := s.contacts.StartStreaming(ctx, instanceID, contact.ContactID, cfg[paramStreamingARN]); err != nil {
		s.stopOrphan(ctx, log, instanceID, contact.ContactID)
		return ResolveOutput{}, newError(ErrorUpstream, "connect_streaming_error", err)
	}

	connectionToken, err := s.participants.CreateConnection(ctx, contact.ParticipantToken)
	if err != nil {
		s.stopOrphan(ctx, log, instanceID, contact.ContactID)
		return ResolveOutput{}, newError(ErrorUpstream, "participant_connection_error", err)
	}

	deliver := in.IsFirstMessage && in.MessageContent != ""
	var msgID string
	if deliver {
		msgID, err = s.participants.SendMessage(ctx, connectionToken, in.MessageContent)
		if err != nil {
			s.stopOrphan(ctx, log, instanceID, contact.ContactID)
			return ResolveOutput{}, newError(ErrorUpstream, "participant_send_error", err)
		}
	}

	rec := repository.NewSessionRecord(number, contact.ContactID, connectionToken, s.sessionTTL)
	if err := s.sessions.PutSession(ctx, rec, prior); err != nil {
		s.stopOrphan(ctx, log, instanceID, contact.ContactID)
		if errors.Is(err, domain.ErrSessionConflict) {
			return s.yieldToWinner(ctx, log, number, in, deliver)
		}
		return ResolveOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	log.WithField("rehydratedFrom", domain.PriorContactID(prior)).Info("chat contact created")
	return ResolveOutput{Status: StatusCreated, ContactID: contact.ContactID, MessageID: msgID}, nil
}

// startChat starts the contact, rehydrating from priorContactID when set. If
// the service refuses the rehydration source the chat is started fresh.
func (s *ResolveService) startChat(ctx context.Context, log logrus.FieldLogger, cfg map[string]string, number string, first bool, priorContactID string) (domain.ChatContact, error) {
	req := domain.ChatRequest{
		InstanceID:    cfg[paramInstanceID],
		ContactFlowID: cfg[paramContactFlowID],
		DisplayName:   number,
		Attributes: map[string]string{
			attrCustomerNumber: number,
			attrFirstMessage:   strconv.FormatBool(first),
			attrChannel:        channelSMS,
		},
		ChatDurationMinutes: s.chatDuration,
		RehydrateFrom:       priorContactID,
	}

	contact, err := s.contacts.StartChat(ctx, req)
	if err == nil || req.RehydrateFrom == "" || !rehydrationRejected(err) {
		return contact, err
	}

	log.WithError(err).WithField("priorContactId", priorContactID).Warn("rehydration source refused, starting chat without history")
	req.RehydrateFrom = ""
	return s.contacts.StartChat(ctx, req)
}

// yieldToWinner runs after a concurrent invocation stored a newer contact for
// the same number. The message goes through the winner's connection.
func (s *ResolveService) yieldToWinner(ctx context.Context, log logrus.FieldLogger, number string, in ResolveInput, deliver bool) (ResolveOutput, error) {
	log.Warn("session changed concurrently, yielding to the stored contact")

	state, err := s.sessions.GetSession(ctx, number)
	if err != nil {
		return ResolveOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	winner, ok := state.(domain.Active)
	if !ok || winner.ConnectionToken == "" {
		return ResolveOutput{}, newError(ErrorInternal, "session_conflict_unresolved", domain.ErrSessionConflict)
	}

	out := ResolveOutput{Status: StatusResumed, ContactID: winner.ContactID}
	if deliver {
		msgID, err := s.participants.SendMessage(ctx, winner.ConnectionToken, in.MessageContent)
		if err != nil {
			return ResolveOutput{}, newError(ErrorUpstream, "participant_send_error", err)
		}
		out.MessageID = msgID
	}
	return out, nil
}

// stopOrphan ends a contact that will not be recorded. Failures are logged
// only; the caller is already returning its own outcome.
func (s *ResolveService) stopOrphan(ctx context.Context, log logrus.FieldLogger, instanceID, contactID string) {
	if err := s.contacts.StopContact(context.WithoutCancel(ctx), instanceID, contactID); err != nil {
		log.WithError(err).Error("failed to stop orphaned contact")
		return
	}
	log.Info("stopped orphaned contact")
}

func rehydrationRejected(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidRequestException", "ResourceNotFoundException":
		return true
	default:
		return false
	}
}

// maskNumber keeps the last four digits for log correlation.
func maskNumber(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
