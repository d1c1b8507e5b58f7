package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"connect-messaging/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Resolver interface {
	ResolveSession(ctx context.Context, in usecase.ResolveInput) (usecase.ResolveOutput, error)
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

type inboundRequest struct {
	OriginatingNumber string   `json:"originatingNumber"`
	MessageContent    string   `json:"messageContent"`
	IsFirstMessage    flexBool `json:"isFirstMessage"`
}

type resolveResponse struct {
	Status    string `json:"status"`
	ContactID string `json:"contactId"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// flexBool accepts both JSON booleans and the string form contact flows emit.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*b = false
			return nil
		}
		v, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*b = flexBool(v)
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

// InboundHandler serves both API Gateway proxy events and direct invocations
// carrying the inbound message payload.
type InboundHandler struct {
	resolver Resolver
	log      logrus.FieldLogger
	newID    func() string
}

func NewInboundHandler(resolver Resolver, log logrus.FieldLogger) (*InboundHandler, error) {
	if resolver == nil {
		return nil, errors.New("handler: resolver must not be nil")
	}
	if log == nil {
		return nil, errors.New("handler: logger must not be nil")
	}
	return &InboundHandler{resolver: resolver, log: log, newID: uuid.NewString}, nil
}

func (h *InboundHandler) Handle(ctx context.Context, raw json.RawMessage) (Response, error) {
	payload, headers, err := unwrapEvent(raw)
	correlationID := headerValue(headers, correlationHeader)
	if correlationID == "" {
		correlationID = h.newID()
	}
	log := h.log.WithFields(logrus.Fields{
		"operation":     "HandleInbound",
		"correlationId": correlationID,
	})
	if err != nil {
		log.WithError(err).Warn("rejecting malformed event")
		return errorResult(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_event"), nil
	}

	var req inboundRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		log.WithError(err).Warn("rejecting malformed body")
		return errorResult(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body"), nil
	}

	out, err := h.resolver.ResolveSession(ctx, usecase.ResolveInput{
		OriginatingNumber: req.OriginatingNumber,
		MessageContent:    req.MessageContent,
		IsFirstMessage:    bool(req.IsFirstMessage),
	})
	if err != nil {
		code := usecase.ErrorInternal
		var ue *usecase.Error
		if errors.As(err, &ue) {
			code = ue.Code
		}
		status := statusFor(code)
		entry := log.WithError(err).WithField("code", code)
		if status >= http.StatusInternalServerError {
			entry.Error("resolve session failed")
		} else {
			entry.Warn("resolve session rejected input")
		}
		return errorResult(correlationID, status, code, err.Error()), nil
	}

	log.WithFields(logrus.Fields{
		"status":    out.Status,
		"contactId": out.ContactID,
	}).Info("inbound message routed")
	return jsonResult(correlationID, http.StatusOK, resolveResponse{
		Status:    string(out.Status),
		ContactID: out.ContactID,
	}), nil
}

// unwrapEvent returns the inbound payload and any request headers. Events
// that look like API Gateway proxy requests have their body extracted.
func unwrapEvent(raw json.RawMessage) ([]byte, map[string]string, error) {
	var probe struct {
		HTTPMethod     *string         `json:"httpMethod"`
		RequestContext json.RawMessage `json:"requestContext"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	if probe.HTTPMethod == nil && len(probe.RequestContext) == 0 {
		return raw, nil, nil
	}

	var proxy events.APIGatewayProxyRequest
	if err := json.Unmarshal(raw, &proxy); err != nil {
		return nil, nil, err
	}
	body := []byte(proxy.Body)
	if proxy.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(proxy.Body)
		if err != nil {
			return nil, proxy.Headers, err
		}
		body = decoded
	}
	return body, proxy.Headers, nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func statusFor(code usecase.ErrorCode) int {
	if code == usecase.ErrorInvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorResult(correlationID string, status int, code usecase.ErrorCode, msg string) Response {
	return jsonResult(correlationID, status, errorResponse{Error: msg, Code: string(code)})
}

func jsonResult(correlationID string, status int, body any) Response {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"encode_error","code":"INTERNAL_ERROR"}`)
	}
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}
