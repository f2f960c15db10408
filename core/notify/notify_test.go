package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/notify"
)

type recorder struct {
	name string
	err  error
	got  []notify.Notification
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Send(ctx context.Context, n notify.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestFanout(t *testing.T) {
	failing := &recorder{name: "failing", err: errors.New("broker down")}
	ok := &recorder{name: "ok"}
	f := notify.NewFanout(failing, ok, notify.Log{})
	assert.Equal(t, []string{"failing", "ok", "log"}, f.Sinks())

	ctx, _ := logger.ContextWithLoggerIdentity(context.Background(), "U1")
	f.Notify(ctx, "piglet-entries", core.OperationCreate, []byte(`{"id":"abc","nro_animales":10}`))

	require.Len(t, failing.got, 1)
	require.Len(t, ok.got, 1)
	n := ok.got[0]
	assert.Equal(t, "piglet-entries", n.Resource)
	assert.Equal(t, core.OperationCreate, n.Operation)
	assert.Equal(t, "abc", n.RecordID)
	assert.Equal(t, "U1", n.Identity)
	assert.NotEmpty(t, n.RequestID)
	assert.JSONEq(t, `{"id":"abc","nro_animales":10}`, string(n.Payload))
	assert.False(t, n.CreatedAt.IsZero())
}

func TestFanoutOutlivesCanceledRequest(t *testing.T) {
	var deadlineErr error
	sink := &funcSink{send: func(ctx context.Context, n notify.Notification) error {
		deadlineErr = ctx.Err()
		return nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	notify.NewFanout(sink).Notify(ctx, "farms", core.OperationDelete, []byte(`{"id":"f1"}`))
	assert.NoError(t, deadlineErr)
}

type funcSink struct {
	send func(ctx context.Context, n notify.Notification) error
}

func (f *funcSink) Name() string { return "func" }

func (f *funcSink) Send(ctx context.Context, n notify.Notification) error {
	return f.send(ctx, n)
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func TestSQS(t *testing.T) {
	fake := &fakeSQS{}
	s := notify.NewSQSWithClient(fake, "https://sqs.eu-central-1.amazonaws.com/1/granja")
	notify.NewFanout(s).Notify(context.Background(), "hazardous-waste", core.OperationUpdate, []byte(`{"id":"w1"}`))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "https://sqs.eu-central-1.amazonaws.com/1/granja", aws.ToString(in.QueueUrl))
	assert.Equal(t, "hazardous-waste", aws.ToString(in.MessageAttributes["resource"].StringValue))
	assert.Equal(t, "update", aws.ToString(in.MessageAttributes["operation"].StringValue))

	var n notify.Notification
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &n))
	assert.Equal(t, "w1", n.RecordID)
}

func TestKafkaNeedsBrokers(t *testing.T) {
	_, err := notify.NewKafka(nil, "")
	assert.Error(t, err)

	k, err := notify.NewKafka([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, "kafka", k.Name())
	assert.NoError(t, k.Close())
}
