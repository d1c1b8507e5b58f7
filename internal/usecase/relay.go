package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"connect-messaging/internal/domain"
)

const (
	paramSenderID = "/sms/sender_id"

	// recordGrace bounds how long a message may wait for its contact to become
	// resolvable before it is dropped.
	recordGrace = 2 * time.Minute
)

type RelayStatus string

const (
	RelaySent    RelayStatus = "Sent"
	RelaySkipped RelayStatus = "Skipped"
)

type ContactAttributeReader interface {
	ContactAttributes(ctx context.Context, instanceID, contactID string) (map[string]string, error)
}

type SessionFinder interface {
	FindByContactID(ctx context.Context, contactID string) (domain.SessionRecord, bool, error)
}

type SMSSender interface {
	Send(ctx context.Context, msg domain.SMS) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type RelayOutput struct {
	Status    RelayStatus
	MessageID string
	Reason    string
}

// RelayService forwards agent and bot chat messages to the customer's phone.
type RelayService struct {
	contacts ContactAttributeReader
	sessions SessionFinder
	sms      SMSSender
	log      logrus.FieldLogger
	settings *paramCache
	now      func() time.Time
}

func NewRelayService(p ParamGetter, contacts ContactAttributeReader, sessions SessionFinder, sms SMSSender, log logrus.FieldLogger, paramPrefix string) (*RelayService, error) {
	if contacts == nil {
		return nil, errors.New("usecase: contact attribute reader must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session finder must not be nil")
	}
	if sms == nil {
		return nil, errors.New("usecase: sms sender must not be nil")
	}
	if log == nil {
		return nil, errors.New("usecase: logger must not be nil")
	}
	settings, err := newParamCache(p, paramPrefix, paramInstanceID, paramSenderID)
	if err != nil {
		return nil, err
	}
	return &RelayService{
		contacts: contacts,
		sessions: sessions,
		sms:      sms,
		log:      log,
		settings: settings,
		now:      time.Now,
	}, nil
}

func (s *RelayService) Relay(ctx context.Context, msg domain.StreamMessage) (RelayOutput, error) {
	if reason := skipReason(msg); reason != "" {
		return RelayOutput{Status: RelaySkipped, Reason: reason}, nil
	}
	log := s.log.WithFields(logrus.Fields{
		"operation": "Relay",
		"contactId": msg.ContactID,
		"messageId": msg.ID,
	})

	cfg, err := s.settings.load(ctx)
	if err != nil {
		return RelayOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	number, err := s.recipient(ctx, log, cfg[paramInstanceID], msg)
	if err != nil {
		return RelayOutput{}, newError(ErrorInternal, "dynamodb_lookup_error", err)
	}
	if number == "" {
		if s.recent(msg) {
			// The session write may not be visible yet; let SNS redeliver.
			return RelayOutput{}, newError(ErrorUpstream, "recipient_not_ready", nil)
		}
		log.Warn("no customer number for contact, dropping message")
		return RelayOutput{Status: RelaySkipped, Reason: "unknown_contact"}, nil
	}

	id, err := s.sms.Send(ctx, domain.SMS{
		To:   number,
		From: cfg[paramSenderID],
		Body: msg.Content,
	})
	if err != nil {
		return RelayOutput{}, classifyGatewayError(err)
	}
	log.WithField("customer", maskNumber(number)).Info("relayed chat message as SMS")
	return RelayOutput{Status: RelaySent, MessageID: id}, nil
}

// recipient resolves the customer's number from the contact attributes set
// when the chat was started, falling back to the session index. An empty
// number with a nil error means neither source knows the contact yet.
func (s *RelayService) recipient(ctx context.Context, log logrus.FieldLogger, instanceID string, msg domain.StreamMessage) (string, error) {
	initial := msg.InitialContactID
	if initial == "" {
		initial = msg.ContactID
	}
	attrs, err := s.contacts.ContactAttributes(ctx, instanceID, initial)
	if err != nil {
		log.WithError(err).Warn("contact attributes unavailable, falling back to session index")
	} else if n := strings.TrimSpace(attrs[attrCustomerNumber]); n != "" {
		return n, nil
	}

	rec, found, err := s.sessions.FindByContactID(ctx, msg.ContactID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return rec.OriginatingNumber, nil
}

// recent reports whether msg is young enough that its contact may still be
// unresolvable. Messages without a parseable timestamp count as recent.
func (s *RelayService) recent(msg domain.StreamMessage) bool {
	sent, err := time.Parse(time.RFC3339Nano, msg.AbsoluteTime)
	if err != nil {
		return true
	}
	return s.now().Sub(sent) < recordGrace
}

// skipReason returns why msg is not relayed, or "" if it should be.
func skipReason(msg domain.StreamMessage) string {
	switch {
	case msg.Type != domain.StreamTypeMessage:
		return "not_a_message"
	case msg.ContentType != domain.ContentTypeText:
		return "unsupported_content_type"
	case msg.ParticipantRole != domain.RoleAgent && msg.ParticipantRole != domain.RoleSystem:
		return "customer_message"
	case strings.TrimSpace(msg.Content) == "":
		return "empty_content"
	case msg.ContactID == "":
		return "missing_contact_id"
	default:
		return ""
	}
}

func classifyGatewayError(err error) *Error {
	status, ok := upstreamStatusCode(err)
	switch {
	case !ok:
		return newError(ErrorUpstream, "sms_gateway_error", err)
	case status == http.StatusTooManyRequests:
		return newError(ErrorRateLimited, "sms_gateway_rate_limited", err)
	case status >= 400 && status < 500:
		return newError(ErrorRejected, "sms_gateway_rejected", err)
	default:
		return newError(ErrorUpstream, "sms_gateway_error", err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
