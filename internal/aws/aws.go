package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"tallybot.io/tally-social/pkg/log"
)

var (
	Client *Clients
)

type Clients struct {
	sqsClient *sqs.Client
}

func Init(region string) {
	if region == "" {
		log.Fatalf("aws region not present")
	}
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	Client = &Clients{
		sqsClient: sqs.NewFromConfig(cfg),
	}
}
