package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"connect-messaging/internal/domain"
)

type mockAttributes struct {
	byContact map[string]map[string]string
	err       error
	asked     []string
}

func (m *mockAttributes) ContactAttributes(_ context.Context, instance, contactID string) (map[string]string, error) {
	if instance != instanceID {
		return nil, fmt.Errorf("unexpected instance %s", instance)
	}
	m.asked = append(m.asked, contactID)
	if m.err != nil {
		return nil, m.err
	}
	if attrs, ok := m.byContact[contactID]; ok {
		return attrs, nil
	}
	return map[string]string{}, nil
}

type mockFinder struct {
	records map[string]domain.SessionRecord
	err     error
	calls   int
}

func (m *mockFinder) FindByContactID(_ context.Context, contactID string) (domain.SessionRecord, bool, error) {
	m.calls++
	if m.err != nil {
		return domain.SessionRecord{}, false, m.err
	}
	rec, ok := m.records[contactID]
	return rec, ok, nil
}

type mockSMS struct {
	err  error
	sent []domain.SMS
}

func (m *mockSMS) Send(_ context.Context, msg domain.SMS) (string, error) {
	m.sent = append(m.sent, msg)
	if m.err != nil {
		return "", m.err
	}
	return "sms-1", nil
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type relayFixture struct {
	svc    *RelayService
	attrs  *mockAttributes
	finder *mockFinder
	sms    *mockSMS
	params *mockParams
	hook   *test.Hook
}

var relayNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	f := &relayFixture{
		attrs: &mockAttributes{byContact: map[string]map[string]string{
			"contact-1": {"customerNumber": number, "channel": "SMS"},
		}},
		finder: &mockFinder{records: map[string]domain.SessionRecord{
			"contact-1": {OriginatingNumber: number, ContactID: "contact-1", ConnectionToken: "conn-1"},
		}},
		sms:    &mockSMS{},
		params: defaultParams(),
		hook:   hook,
	}
	svc, err := NewRelayService(f.params, f.attrs, f.finder, f.sms, logger, prefix)
	require.NoError(t, err)
	svc.now = func() time.Time { return relayNow }
	f.svc = svc
	return f
}

func agentMessage() domain.StreamMessage {
	return domain.StreamMessage{
		ID:              "m-1",
		Type:            domain.StreamTypeMessage,
		ContentType:     domain.ContentTypeText,
		Content:         "Your order has shipped",
		ParticipantRole: domain.RoleAgent,
		ContactID:       "contact-1",
		AbsoluteTime:    relayNow.Add(-5 * time.Second).Format(time.RFC3339Nano),
	}
}

func TestRelay_SendsAgentMessage(t *testing.T) {
	f := newRelayFixture(t)

	out, err := f.svc.Relay(context.Background(), agentMessage())
	require.NoError(t, err)
	require.Equal(t, RelaySent, out.Status)
	require.Equal(t, "sms-1", out.MessageID)
	require.Equal(t, []domain.SMS{{To: number, From: "ACME", Body: "Your order has shipped"}}, f.sms.sent)

	msg := agentMessage()
	msg.ParticipantRole = domain.RoleSystem
	_, err = f.svc.Relay(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, f.sms.sent, 2)
	require.Equal(t, 1, f.params.calls)
	require.Zero(t, f.finder.calls, "contact attributes resolve the number without the index")
}

func TestRelay_SkipsIrrelevantEvents(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m *domain.StreamMessage)
		reason string
	}{
		{name: "event", mutate: func(m *domain.StreamMessage) { m.Type = "EVENT" }, reason: "not_a_message"},
		{name: "attachment", mutate: func(m *domain.StreamMessage) { m.ContentType = "application/json" }, reason: "unsupported_content_type"},
		{name: "customer echo", mutate: func(m *domain.StreamMessage) { m.ParticipantRole = domain.RoleCustomer }, reason: "customer_message"},
		{name: "blank", mutate: func(m *domain.StreamMessage) { m.Content = "  " }, reason: "empty_content"},
		{name: "no contact", mutate: func(m *domain.StreamMessage) { m.ContactID = "" }, reason: "missing_contact_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRelayFixture(t)
			msg := agentMessage()
			tc.mutate(&msg)

			out, err := f.svc.Relay(context.Background(), msg)
			require.NoError(t, err)
			require.Equal(t, RelaySkipped, out.Status)
			require.Equal(t, tc.reason, out.Reason)
			require.Empty(t, f.attrs.asked)
			require.Zero(t, f.finder.calls)
			require.Empty(t, f.sms.sent)
		})
	}
}

func TestRelay_MessageBeforeSessionRecordIsDelivered(t *testing.T) {
	f := newRelayFixture(t)
	f.attrs.byContact["contact-new"] = map[string]string{"customerNumber": "+640000009"}
	msg := agentMessage()
	msg.ContactID = "contact-new"
	msg.Content = "Hi, how can we help?"

	out, err := f.svc.Relay(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, RelaySent, out.Status)
	require.Equal(t, []domain.SMS{{To: "+640000009", From: "ACME", Body: "Hi, how can we help?"}}, f.sms.sent)
	require.Zero(t, f.finder.calls)
}

func TestRelay_UsesInitialContactForAttributes(t *testing.T) {
	f := newRelayFixture(t)
	f.attrs.byContact = map[string]map[string]string{"contact-0": {"customerNumber": "+640000007"}}
	msg := agentMessage()
	msg.ContactID = "contact-transferred"
	msg.InitialContactID = "contact-0"

	_, err := f.svc.Relay(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, []string{"contact-0"}, f.attrs.asked)
	require.Equal(t, "+640000007", f.sms.sent[0].To)
}

func TestRelay_AttributesUnavailable_FallsBackToIndex(t *testing.T) {
	f := newRelayFixture(t)
	f.attrs.err = errors.New("ThrottlingException")

	out, err := f.svc.Relay(context.Background(), agentMessage())
	require.NoError(t, err)
	require.Equal(t, RelaySent, out.Status)
	require.Equal(t, number, f.sms.sent[0].To)
	require.Equal(t, 1, f.finder.calls)
}

func TestRelay_UnresolvedRecentMessageIsRetried(t *testing.T) {
	f := newRelayFixture(t)
	msg := agentMessage()
	msg.ContactID = "contact-unknown"

	_, err := f.svc.Relay(context.Background(), msg)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ErrorUpstream, ue.Code)
	require.Equal(t, "recipient_not_ready", ue.Reason)
	require.True(t, ue.Retryable())
	require.Empty(t, f.sms.sent)

	msg.AbsoluteTime = ""
	_, err = f.svc.Relay(context.Background(), msg)
	requireUsecaseError(t, err, ErrorUpstream, "recipient_not_ready")
}

func TestRelay_UnresolvedOldMessageIsSkipped(t *testing.T) {
	f := newRelayFixture(t)
	msg := agentMessage()
	msg.ContactID = "contact-unknown"
	msg.AbsoluteTime = relayNow.Add(-10 * time.Minute).Format(time.RFC3339Nano)

	out, err := f.svc.Relay(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, RelaySkipped, out.Status)
	require.Equal(t, "unknown_contact", out.Reason)
	require.Empty(t, f.sms.sent)
	require.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
}

func TestRelay_LookupError(t *testing.T) {
	f := newRelayFixture(t)
	f.attrs.byContact = nil
	f.finder.err = errors.New("query failed")

	_, err := f.svc.Relay(context.Background(), agentMessage())
	requireUsecaseError(t, err, ErrorInternal, "dynamodb_lookup_error")
}

func TestRelay_SettingsError(t *testing.T) {
	f := newRelayFixture(t)
	f.params.err = errors.New("ssm unavailable")

	_, err := f.svc.Relay(context.Background(), agentMessage())
	requireUsecaseError(t, err, ErrorInternal, "ssm_load_error")
	require.Empty(t, f.attrs.asked)
	require.Empty(t, f.sms.sent)
}

func TestRelay_GatewayErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{name: "network", err: errors.New("connection reset"), code: ErrorUpstream, retryable: true},
		{name: "bad number", err: fmt.Errorf("send: %w", &statusErr{code: http.StatusBadRequest}), code: ErrorRejected},
		{name: "throttled", err: &statusErr{code: http.StatusTooManyRequests}, code: ErrorRateLimited, retryable: true},
		{name: "server", err: &statusErr{code: http.StatusBadGateway}, code: ErrorUpstream, retryable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRelayFixture(t)
			f.sms.err = tc.err

			_, err := f.svc.Relay(context.Background(), agentMessage())
			var ue *Error
			require.ErrorAs(t, err, &ue)
			require.Equal(t, tc.code, ue.Code)
			require.Equal(t, tc.retryable, ue.Retryable())
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestNewRelayService_ValidatesDependencies(t *testing.T) {
	logger, _ := test.NewNullLogger()
	attrs, finder, sms := &mockAttributes{}, &mockFinder{}, &mockSMS{}

	_, err := NewRelayService(defaultParams(), nil, finder, sms, logger, prefix)
	require.Error(t, err)
	_, err = NewRelayService(defaultParams(), attrs, nil, sms, logger, prefix)
	require.Error(t, err)
	_, err = NewRelayService(defaultParams(), attrs, finder, nil, logger, prefix)
	require.Error(t, err)
	_, err = NewRelayService(defaultParams(), attrs, finder, sms, nil, prefix)
	require.Error(t, err)
	_, err = NewRelayService(nil, attrs, finder, sms, logger, prefix)
	require.Error(t, err)
	_, err = NewRelayService(defaultParams(), attrs, finder, sms, logger, "")
	require.Error(t, err)
}
