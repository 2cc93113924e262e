package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint/types"
)

// Pinpoint sends transactional SMS through an AWS Pinpoint application.
type Pinpoint struct {
	client *pinpoint.Client
	appID  string
}

func NewPinpoint(client *pinpoint.Client, appID string) *Pinpoint {
	return &Pinpoint{client: client, appID: appID}
}

func OpenPinpoint(ctx context.Context, region, appID string) (*Pinpoint, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, fmt.Errorf("PINPOINT_APP_ID is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewPinpoint(pinpoint.NewFromConfig(cfg), appID), nil
}

func (p *Pinpoint) Send(ctx context.Context, destination, text, origin string) error {
	_, err := p.client.SendMessages(ctx, &pinpoint.SendMessagesInput{
		ApplicationId: aws.String(p.appID),
		MessageRequest: &types.MessageRequest{
			Addresses: map[string]types.AddressConfiguration{
				destination: {ChannelType: types.ChannelTypeSms},
			},
			MessageConfiguration: &types.DirectMessageConfiguration{
				SMSMessage: &types.SMSMessage{
					Body:              aws.String(text),
					MessageType:       types.MessageTypeTransactional,
					OriginationNumber: aws.String(origin),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("pinpoint send to %s: %w", destination, err)
	}
	return nil
}

var _ Notifier = (*Pinpoint)(nil)
