package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	awsconnect "github.com/aws/aws-sdk-go-v2/service/connect"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"connect-messaging/handler"
	"connect-messaging/internal/config"
	"connect-messaging/internal/integrations/connect"
	"connect-messaging/internal/integrations/paramstore"
	"connect-messaging/internal/integrations/smsgateway"
	"connect-messaging/internal/repository"
	"connect-messaging/internal/usecase"
)

func main() {
	ctx := context.Background()
	log := config.NewLogger("info")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	config.SetLogLevel(log, cfg.LogLevel)
	if cfg.SMSGatewayURL == "" {
		log.Fatal("SMS_GATEWAY_URL is required for the outbound relay")
	}

	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to load AWS config")
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.WithError(err).Fatal("failed to create SSM client")
	}
	sessions, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.SessionTable, repository.WithContactIndex(cfg.ContactIndex))
	if err != nil {
		log.WithError(err).Fatal("failed to create session store")
	}
	contacts, err := connect.New(awsconnect.NewFromConfig(awsCfg))
	if err != nil {
		log.WithError(err).Fatal("failed to create Connect client")
	}
	gateway, err := smsgateway.NewClient(cfg.SMSGatewayURL, ssmClient, cfg.ParamPrefix)
	if err != nil {
		log.WithError(err).Fatal("failed to create SMS gateway client")
	}

	relay, err := usecase.NewRelayService(ssmClient, contacts, sessions, gateway, log, cfg.ParamPrefix)
	if err != nil {
		log.WithError(err).Fatal("failed to create relay service")
	}

	h, err := handler.NewOutboundHandler(relay, log.WithField("lambda", "outbound"))
	if err != nil {
		log.WithError(err).Fatal("failed to create handler")
	}

	lambda.Start(h.Handle)
}
