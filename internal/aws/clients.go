package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/imrishuroy/cloudcart-orderflow/internal/config"
)

// AWSClients bundles the DynamoDB, SQS and CloudWatch clients the binaries use.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewAWSClients builds every client from the region and endpoint override in
// cfg. Clients are built once per process and reused across invocations.
func NewAWSClients(ctx context.Context, cfg *config.Config) (*AWSClients, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.Region, cfg.EndpointOverride)
	if err != nil {
		return nil, err
	}

	return &AWSClients{
		DynamoDB:   dynamodb.NewFromConfig(awsCfg),
		SQS:        sqs.NewFromConfig(awsCfg),
		CloudWatch: cloudwatch.NewFromConfig(awsCfg),
	}, nil
}
