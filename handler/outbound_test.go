package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"connect-messaging/internal/domain"
	"connect-messaging/internal/usecase"
)

type stubRelayer struct {
	errs map[string]error
	got  []domain.StreamMessage
}

func (s *stubRelayer) Relay(_ context.Context, msg domain.StreamMessage) (usecase.RelayOutput, error) {
	s.got = append(s.got, msg)
	if err := s.errs[msg.ID]; err != nil {
		return usecase.RelayOutput{}, err
	}
	return usecase.RelayOutput{Status: usecase.RelaySent, MessageID: "sms-" + msg.ID}, nil
}

func snsRecord(id, message string) events.SNSEventRecord {
	return events.SNSEventRecord{SNS: events.SNSEntity{MessageID: id, Message: message}}
}

func TestNewOutboundHandler_ValidatesDependencies(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewOutboundHandler(nil, logger)
	require.Error(t, err)
	_, err = NewOutboundHandler(&stubRelayer{}, nil)
	require.Error(t, err)
}

func TestOutboundHandle_DecodesAndRelays(t *testing.T) {
	r := &stubRelayer{}
	logger, _ := test.NewNullLogger()
	h, err := NewOutboundHandler(r, logger)
	require.NoError(t, err)

	err = h.Handle(context.Background(), events.SNSEvent{Records: []events.SNSEventRecord{
		snsRecord("sns-1", `{"Id":"m-1","Type":"MESSAGE","ContentType":"text/plain","Content":"Hello","ParticipantRole":"AGENT","ContactId":"contact-1"}`),
	}})
	require.NoError(t, err)
	require.Len(t, r.got, 1)
	require.Equal(t, domain.StreamMessage{
		ID:              "m-1",
		Type:            domain.StreamTypeMessage,
		ContentType:     domain.ContentTypeText,
		Content:         "Hello",
		ParticipantRole: domain.RoleAgent,
		ContactID:       "contact-1",
	}, r.got[0])
}

func TestOutboundHandle_DropsPermanentFailuresAndReturnsRetryable(t *testing.T) {
	retryable := &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "sms_gateway_rate_limited"}
	r := &stubRelayer{errs: map[string]error{
		"m-2": &usecase.Error{Code: usecase.ErrorRejected, Reason: "sms_gateway_rejected"},
		"m-3": retryable,
	}}
	logger, hook := test.NewNullLogger()
	h, err := NewOutboundHandler(r, logger)
	require.NoError(t, err)

	err = h.Handle(context.Background(), events.SNSEvent{Records: []events.SNSEventRecord{
		snsRecord("sns-0", `{broken`),
		snsRecord("sns-1", `{"Id":"m-1","ContactId":"contact-1"}`),
		snsRecord("sns-2", `{"Id":"m-2","ContactId":"contact-1"}`),
		snsRecord("sns-3", `{"Id":"m-3","ContactId":"contact-1"}`),
	}})
	require.Error(t, err)
	require.ErrorIs(t, err, retryable)
	require.ErrorContains(t, err, "sns-3")
	require.NotContains(t, err.Error(), "sns-2")
	require.Len(t, r.got, 3)

	var dropped int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			dropped++
		}
	}
	require.Equal(t, 2, dropped)
}

func TestOutboundHandle_UntypedErrorIsRetried(t *testing.T) {
	r := &stubRelayer{errs: map[string]error{"m-1": errors.New("boom")}}
	logger, _ := test.NewNullLogger()
	h, err := NewOutboundHandler(r, logger)
	require.NoError(t, err)

	err = h.Handle(context.Background(), events.SNSEvent{Records: []events.SNSEventRecord{
		snsRecord("sns-1", `{"Id":"m-1"}`),
	}})
	require.ErrorContains(t, err, "boom")
}
