package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/connectparticipant"
	"github.com/aws/aws-sdk-go-v2/service/connectparticipant/types"
	"github.com/google/uuid"
)

const contentTypeText = "text/plain"

// participantAPI is the subset of *connectparticipant.Client used here.
type participantAPI interface {
	CreateParticipantConnection(ctx context.Context, in *connectparticipant.CreateParticipantConnectionInput, optFns ...func(*connectparticipant.Options)) (*connectparticipant.CreateParticipantConnectionOutput, error)
	SendMessage(ctx context.Context, in *connectparticipant.SendMessageInput, optFns ...func(*connectparticipant.Options)) (*connectparticipant.SendMessageOutput, error)
}

// Client opens customer participant connections and sends messages through
// them.
type Client struct {
	api      participantAPI
	newToken func() string
}

func New(api participantAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("participant: api must not be nil")
	}
	return &Client{api: api, newToken: uuid.NewString}, nil
}

// CreateConnection exchanges a participant token for a connection token and
// marks the customer as connected.
func (c *Client) CreateConnection(ctx context.Context, participantToken string) (string, error) {
	if participantToken == "" {
		return "", errors.New("participant: participant token is required")
	}
	out, err := c.api.CreateParticipantConnection(ctx, &connectparticipant.CreateParticipantConnectionInput{
		ParticipantToken:   aws.String(participantToken),
		Type:               []types.ConnectionType{types.ConnectionTypeConnectionCredentials},
		ConnectParticipant: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("participant: create participant connection: %w", err)
	}
	if out == nil || out.ConnectionCredentials == nil || aws.ToString(out.ConnectionCredentials.ConnectionToken) == "" {
		return "", errors.New("participant: create participant connection: response missing connection token")
	}
	return aws.ToString(out.ConnectionCredentials.ConnectionToken), nil
}

// SendMessage posts a plain-text message. A stale or revoked connection
// token surfaces as an AccessDeniedException from the service.
func (c *Client) SendMessage(ctx context.Context, connectionToken, text string) (string, error) {
	if connectionToken == "" {
		return "", errors.New("participant: connection token is required")
	}
	out, err := c.api.SendMessage(ctx, &connectparticipant.SendMessageInput{
		ConnectionToken: aws.String(connectionToken),
		ContentType:     aws.String(contentTypeText),
		Content:         aws.String(text),
		ClientToken:     aws.String(c.newToken()),
	})
	if err != nil {
		return "", fmt.Errorf("participant: send message: %w", err)
	}
	if out == nil {
		return "", nil
	}
	return aws.ToString(out.Id), nil
}
