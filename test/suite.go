// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package test runs the API against real notification sinks in containers. The
// suites only run with GRANJA_INTEGRATION set, they need docker.
package test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/granja/api"
	"github.com/relabs-tech/granja/core/access"
	"github.com/relabs-tech/granja/core/audit"
	"github.com/relabs-tech/granja/core/client"
	"github.com/relabs-tech/granja/core/csql"
	"github.com/relabs-tech/granja/core/memstore"
	"github.com/relabs-tech/granja/core/notify"
	"github.com/relabs-tech/granja/farm"
)

// JwtSecret signs the tokens of the test users
const JwtSecret = "integration-secret"

// NotificationTopic is the Kafka topic of the suite
const NotificationTopic = "record_notification"

type IntegrationTestSuite struct {
	suite.Suite

	handler http.Handler
	store   *memstore.Store
	trail   *audit.Trail
	kafka   *notify.Kafka

	dbConn            *csql.DB
	network           testcontainers.Network
	zookeeper         testcontainers.Container
	kafkaContainer    testcontainers.Container
	postgresContainer testcontainers.Container
	kafkaConn         *kafka.Conn
	kafkaAddr         string
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}

	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (s *IntegrationTestSuite) SetupSuite() {
	if os.Getenv("GRANJA_INTEGRATION") == "" {
		s.T().Skip("integration tests require GRANJA_INTEGRATION and docker")
	}
	ctx := context.Background()

	// Create a shared Docker network for Kafka and Zookeeper
	networkName := "test-kafka-network_" + fmt.Sprintf("%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"postgres"}},
			WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	zooC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.zookeeper = zooC

	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"9092:9092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,INTERNAL://0.0.0.0:9093",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,INTERNAL://kafka:9093",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,INTERNAL:PLAINTEXT",
				"KAFKA_INTER_BROKER_LISTENER_NAME":       "INTERNAL",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	s.Require().NoError(s.createTopic(NotificationTopic, 1), "Failed to create notification topic")

	s.dbConn, err = csql.OpenWithSchema(ctx, fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresDB), postgresPassword, "granja_integration")
	s.Require().NoError(err)
	s.trail, err = audit.New(ctx, s.dbConn)
	s.Require().NoError(err)
	s.kafka, err = notify.NewKafka([]string{s.kafkaAddr}, NotificationTopic)
	s.Require().NoError(err)

	remote := mux.NewRouter()
	s.store = memstore.New(remote)
	records := client.NewRecords(client.NewWithRouter(remote))
	a := api.New(&api.Builder{
		Router: mux.NewRouter(),
		Store: farm.MustNew(&farm.Builder{
			Remote:   records,
			Notifier: notify.NewFanout(s.kafka, s.trail, notify.Log{}).WithTimeout(30 * time.Second),
		}),
		Accounts: records,
		Jwt:      access.JwtMiddlewareBuilder{Secret: JwtSecret},
	})
	s.handler = a.Handler()
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.kafka != nil {
		s.kafka.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	if s.dbConn != nil {
		s.dbConn.Close()
	}
	for _, c := range []testcontainers.Container{s.kafkaContainer, s.zookeeper, s.postgresContainer} {
		if c != nil {
			s.Require().NoError(c.Terminate(ctx))
		}
	}
	if s.network != nil {
		s.network.Remove(ctx)
	}
}
