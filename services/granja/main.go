// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/granja/api"
	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/audit"
	"github.com/relabs-tech/granja/core/client"
	"github.com/relabs-tech/granja/core/csql"
	"github.com/relabs-tech/granja/core/kss"
	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/memstore"
	"github.com/relabs-tech/granja/core/notify"
	"github.com/relabs-tech/granja/farm"
)

// Service holds the configuration for this service
//
// use GRANJA_REMOTE_URL="https://records.example.com" for a remote record store. Without it
// the service runs with an in-process store, which forgets everything on exit.
type Service struct {
	Mode           string        `env:"GRANJA_MODE,default=server" description:"server or lambda"`
	Port           int           `env:"PORT,default=3000" description:"the port of the http server"`
	LogLevel       string        `env:"LOG_LEVEL,default=info" description:"the log level, one of debug, info, warn, error"`
	RemoteURL      string        `env:"GRANJA_REMOTE_URL" description:"the base address of the record store"`
	RemoteTimeout  time.Duration `env:"GRANJA_REMOTE_TIMEOUT,default=20s" description:"the timeout of calls to the record store"`
	JwtSecret      string        `env:"GRANJA_JWT_SECRET" description:"the HS256 secret of the record store's auth tokens. If empty, tokens are only decoded"`
	AllowedOrigins []string      `env:"GRANJA_ALLOWED_ORIGINS,default=*" description:"the CORS origins, separated by ;"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" description:"the Kafka brokers for record notifications, separated by ;"`
	KafkaTopic       string   `env:"KAFKA_TOPIC,default=record_notification" description:"the Kafka topic for record notifications"`
	SQSQueueURL      string   `env:"SQS_QUEUE_URL" description:"the SQS queue for record notifications"`
	AWSRegion        string   `env:"AWS_REGION,default=eu-central-1" description:"the AWS region of SQS and S3"`
	Postgres         string   `env:"POSTGRES" description:"the connection string for the audit database without password"`
	PostgresPassword string   `env:"POSTGRES_PASSWORD" description:"password to the audit database"`
	PostgresSchema   string   `env:"POSTGRES_SCHEMA,default=granja" description:"the schema of the audit table"`

	KSSDriver    string `env:"KSS_DRIVER" description:"the archive for uploaded files: Local, AWSS3 or empty for none"`
	KSSLocalPath string `env:"KSS_LOCAL_PATH,default=./kss" description:"the folder of the Local archive"`
	KSSBucket    string `env:"KSS_S3_BUCKET" description:"the bucket of the AWSS3 archive"`
	KSSPrefix    string `env:"KSS_S3_PREFIX" description:"the key prefix in the bucket of the AWSS3 archive"`
	KSSEndpoint  string `env:"KSS_S3_ENDPOINT" description:"an S3 compatible endpoint for the AWSS3 archive"`
	kss.S3Credentials
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		panic(err)
	}
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	ctx := context.Background()
	router := mux.NewRouter()

	var records *client.Records
	if service.RemoteURL == "" {
		rlog.Warnln("no GRANJA_REMOTE_URL, using the in-process record store")
		storeRouter := mux.NewRouter()
		memstore.New(storeRouter)
		records = client.NewRecords(client.NewWithRouter(storeRouter))
		router.PathPrefix("/api/files/").Handler(storeRouter)
	} else {
		records = client.NewRecords(client.NewWithURL(service.RemoteURL, service.RemoteTimeout))
	}

	notifier, closers := service.notifier(ctx)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	driver, err := kss.New(ctx, service.kssConfiguration())
	if err != nil {
		panic(err)
	}
	builder := &farm.Builder{Remote: records, Notifier: notifier}
	if driver != nil {
		builder.Archive = kss.NewArchive(driver)
	}

	a := api.New(&api.Builder{
		Router:         router,
		Store:          farm.MustNew(builder),
		Accounts:       records,
		Jwt:            access.JwtMiddlewareBuilder{Secret: service.JwtSecret},
		AllowedOrigins: service.AllowedOrigins,
	})

	switch service.Mode {
	case "lambda":
		rlog.Infoln("starting lambda handler")
		lambda.Start(newLambdaHandler(a.Handler()))
	case "server":
		serve(a.Handler(), service.Port)
	default:
		rlog.Fatalf("unknown GRANJA_MODE '%s'", service.Mode)
	}
}

// notifier returns the fanout to all configured sinks, together with the functions
// which close them
func (s *Service) notifier(ctx context.Context) (*notify.Fanout, []func()) {
	rlog := logger.Default()
	sinks := []notify.Sink{notify.Log{}}
	var closers []func()

	if len(s.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(s.KafkaBrokers, s.KafkaTopic)
		if err != nil {
			panic(err)
		}
		sinks = append(sinks, k)
		closers = append(closers, func() { k.Close() })
	}
	if s.SQSQueueURL != "" {
		q, err := notify.NewSQS(ctx, s.AWSRegion, s.SQSQueueURL)
		if err != nil {
			panic(err)
		}
		sinks = append(sinks, q)
	}
	if s.Postgres != "" {
		db := csql.MustOpenWithSchema(ctx, s.Postgres, s.PostgresPassword, s.PostgresSchema)
		trail, err := audit.New(ctx, db)
		if err != nil {
			panic(err)
		}
		sinks = append(sinks, trail)
		closers = append(closers, func() { db.Close() })
	}

	f := notify.NewFanout(sinks...)
	rlog.Infoln("notification sinks:", f.Sinks())
	return f, closers
}

func (s *Service) kssConfiguration() kss.Configuration {
	return kss.Configuration{
		DriverType:         kss.DriverType(s.KSSDriver),
		LocalConfiguration: &kss.LocalConfiguration{BasePath: s.KSSLocalPath},
		S3Configuration: &kss.S3Configuration{
			AccessID:      s.AccessID,
			AccessKey:     s.AccessKey,
			AWSBucketName: s.KSSBucket,
			AWSRegion:     s.AWSRegion,
			KeyPrefix:     s.KSSPrefix,
			Endpoint:      s.KSSEndpoint,
		},
	}
}

func serve(handler http.Handler, port int) {
	rlog := logger.Default()
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		rlog.Infoln("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			rlog.WithError(err).Errorln("Error 7001: shutdown")
		}
	}()

	rlog.Infoln("listen on port", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		rlog.WithError(err).Fatalln("Error 7002: listen")
	}
}
