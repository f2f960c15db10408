// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
)

// SQSAPI is the part of the SQS client the sink uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS is a sink which sends notifications to an SQS queue
type SQS struct {
	client   SQSAPI
	queueURL string
}

// NewSQS returns an SQS sink for the queue, with the default AWS configuration
// of the environment
func NewSQS(ctx context.Context, region, queueURL string) (*SQS, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs: queue URL is missing")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewSQSWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSWithClient returns an SQS sink using client
func NewSQSWithClient(client SQSAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

// Name implements Sink
func (s *SQS) Name() string { return "sqs" }

// Send implements Sink
func (s *SQS) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"resource":  {DataType: aws.String("String"), StringValue: aws.String(n.Resource)},
			"operation": {DataType: aws.String("String"), StringValue: aws.String(string(n.Operation))},
		},
	})
	return err
}
