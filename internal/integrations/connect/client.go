package connect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconnect "github.com/aws/aws-sdk-go-v2/service/connect"
	"github.com/aws/aws-sdk-go-v2/service/connect/types"
	"github.com/google/uuid"

	"connect-messaging/internal/domain"
)

const defaultDisplayName = "Customer"

// connectAPI is the subset of *connect.Client used here.
type connectAPI interface {
	StartChatContact(ctx context.Context, in *awsconnect.StartChatContactInput, optFns ...func(*awsconnect.Options)) (*awsconnect.StartChatContactOutput, error)
	StartContactStreaming(ctx context.Context, in *awsconnect.StartContactStreamingInput, optFns ...func(*awsconnect.Options)) (*awsconnect.StartContactStreamingOutput, error)
	StopContact(ctx context.Context, in *awsconnect.StopContactInput, optFns ...func(*awsconnect.Options)) (*awsconnect.StopContactOutput, error)
	GetContactAttributes(ctx context.Context, in *awsconnect.GetContactAttributesInput, optFns ...func(*awsconnect.Options)) (*awsconnect.GetContactAttributesOutput, error)
}

// Client starts, streams, inspects and stops Amazon Connect chat contacts.
type Client struct {
	api      connectAPI
	newToken func() string
}

func New(api connectAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("connect: api must not be nil")
	}
	return &Client{api: api, newToken: uuid.NewString}, nil
}

// StartChat creates a chat contact. When req.RehydrateFrom is set the new
// contact continues the prior contact's transcript from its last segment.
func (c *Client) StartChat(ctx context.Context, req domain.ChatRequest) (domain.ChatContact, error) {
	if strings.TrimSpace(req.InstanceID) == "" || strings.TrimSpace(req.ContactFlowID) == "" {
		return domain.ChatContact{}, errors.New("connect: instance id and contact flow id are required")
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = defaultDisplayName
	}

	in := &awsconnect.StartChatContactInput{
		InstanceId:         aws.String(req.InstanceID),
		ContactFlowId:      aws.String(req.ContactFlowID),
		ParticipantDetails: &types.ParticipantDetails{DisplayName: aws.String(name)},
		Attributes:         req.Attributes,
		ClientToken:        aws.String(c.newToken()),
	}
	if req.ChatDurationMinutes > 0 {
		in.ChatDurationInMinutes = aws.Int32(req.ChatDurationMinutes)
	}
	if req.RehydrateFrom != "" {
		in.PersistentChat = &types.PersistentChat{
			RehydrationType: types.RehydrationTypeFromSegment,
			SourceContactId: aws.String(req.RehydrateFrom),
		}
	}

	out, err := c.api.StartChatContact(ctx, in)
	if err != nil {
		return domain.ChatContact{}, fmt.Errorf("connect: start chat contact: %w", err)
	}
	if out == nil || aws.ToString(out.ContactId) == "" || aws.ToString(out.ParticipantToken) == "" {
		return domain.ChatContact{}, errors.New("connect: start chat contact: response missing contact id or participant token")
	}
	return domain.ChatContact{
		ContactID:        aws.ToString(out.ContactId),
		ParticipantID:    aws.ToString(out.ParticipantId),
		ParticipantToken: aws.ToString(out.ParticipantToken),
	}, nil
}

// StartStreaming publishes the contact's chat events to endpointARN.
func (c *Client) StartStreaming(ctx context.Context, instanceID, contactID, endpointARN string) error {
	if endpointARN == "" {
		return errors.New("connect: streaming endpoint arn is required")
	}
	_, err := c.api.StartContactStreaming(ctx, &awsconnect.StartContactStreamingInput{
		InstanceId: aws.String(instanceID),
		ContactId:  aws.String(contactID),
		ChatStreamingConfiguration: &types.ChatStreamingConfiguration{
			StreamingEndpointArn: aws.String(endpointARN),
		},
		ClientToken: aws.String(c.newToken()),
	})
	if err != nil {
		return fmt.Errorf("connect: start contact streaming: %w", err)
	}
	return nil
}

func (c *Client) StopContact(ctx context.Context, instanceID, contactID string) error {
	_, err := c.api.StopContact(ctx, &awsconnect.StopContactInput{
		InstanceId: aws.String(instanceID),
		ContactId:  aws.String(contactID),
	})
	if err != nil {
		return fmt.Errorf("connect: stop contact: %w", err)
	}
	return nil
}

// ContactAttributes returns the user-defined attributes of a contact. The
// map is empty, not nil, when the contact has none.
func (c *Client) ContactAttributes(ctx context.Context, instanceID, contactID string) (map[string]string, error) {
	if instanceID == "" || contactID == "" {
		return nil, errors.New("connect: instance id and contact id are required")
	}
	out, err := c.api.GetContactAttributes(ctx, &awsconnect.GetContactAttributesInput{
		InstanceId:       aws.String(instanceID),
		InitialContactId: aws.String(contactID),
	})
	if err != nil {
		return nil, fmt.Errorf("connect: get contact attributes: %w", err)
	}
	if out == nil || out.Attributes == nil {
		return map[string]string{}, nil
	}
	return out.Attributes, nil
}
