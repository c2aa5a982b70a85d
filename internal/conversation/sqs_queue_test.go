package conversation

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received []types.Message
	deleted  []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.received}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue_FIFOGroupsByThread(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.us-east-1.amazonaws.com/123/leads.fifo")
	pub := NewPublisher(q, nil)

	require.NoError(t, pub.EnqueueMessage(context.Background(), "evt-9", MessageRequest{Message: "hi", ContactID: "c1"}))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "contact_c1_conversation", aws.ToString(api.sent[0].MessageGroupId))
	assert.Equal(t, "evt-9", aws.ToString(api.sent[0].MessageDeduplicationId))

	payload, err := decodePayload(aws.ToString(api.sent[0].MessageBody))
	require.NoError(t, err)
	assert.Equal(t, eventInboundMessage, payload.Kind)
	assert.Equal(t, "hi", payload.Message.Message)
}

func TestSQSQueue_StandardQueueOmitsGroup(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.us-east-1.amazonaws.com/123/leads")

	require.NoError(t, q.Send(context.Background(), outgoingMessage{GroupID: "t1", DeduplicationID: "d1", Body: "{}"}))
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Nil(t, api.sent[0].MessageDeduplicationId)
}

func TestSQSQueue_ReceiveAndDelete(t *testing.T) {
	api := &fakeSQS{received: []types.Message{{MessageId: aws.String("1"), Body: aws.String("body"), ReceiptHandle: aws.String("rh")}}}
	q := NewSQSQueue(api, "url")

	msgs, err := q.Receive(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, queueMessage{ID: "1", Body: "body", ReceiptHandle: "rh"}, msgs[0])

	require.NoError(t, q.Delete(context.Background(), "rh"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh"}, api.deleted)
}
