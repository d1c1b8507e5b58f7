package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	awsconnect "github.com/aws/aws-sdk-go-v2/service/connect"
	awsparticipant "github.com/aws/aws-sdk-go-v2/service/connectparticipant"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"connect-messaging/handler"
	"connect-messaging/internal/config"
	"connect-messaging/internal/integrations/connect"
	"connect-messaging/internal/integrations/paramstore"
	"connect-messaging/internal/integrations/participant"
	"connect-messaging/internal/repository"
	"connect-messaging/internal/usecase"
)

func main() {
	ctx := context.Background()
	log := config.NewLogger("info")

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	config.SetLogLevel(log, cfg.LogLevel)

	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to load AWS config")
	}

	// ---- Clients ----
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
	participants, err := participant.New(awsparticipant.NewFromConfig(awsCfg))
	if err != nil {
		log.WithError(err).Fatal("failed to create participant client")
	}

	// ---- Handler ----
	resolver, err := usecase.NewResolveService(ssmClient, sessions, contacts, participants, log, usecase.ResolveConfig{
		ParamPrefix:         cfg.ParamPrefix,
		SessionTTL:          cfg.SessionTTL,
		ChatDurationMinutes: cfg.ChatDurationMinutes,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create resolve service")
	}

	h, err := handler.NewInboundHandler(resolver, log.WithField("lambda", "inbound"))
	if err != nil {
		log.WithError(err).Fatal("failed to create handler")
	}

	lambda.Start(h.Handle)
}
