package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJSONProducer struct {
	mock.Mock
}

func (m *MockJSONProducer) ProduceJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	args := m.Called(ctx, topic, key, data, headers)
	return args.Error(0)
}

func TestKafkaDLQPublisher_Topic(t *testing.T) {
	p := NewKafkaDLQPublisher(&MockJSONProducer{}, "claim-intake", "")
	assert.Equal(t, "payment-claims.dlq", p.Topic("payment-claims"))
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	producer := &MockJSONProducer{}
	producer.On("ProduceJSON", mock.Anything, "payment-claims.dlq", "TXN-1", mock.Anything,
		mock.MatchedBy(func(h map[string]string) bool {
			return h["original_topic"] == "payment-claims" && h["original_source"] == "gateway" && h["attempts"] == "3"
		})).Return(nil)

	p := NewKafkaDLQPublisher(producer, "claim-intake", "")
	err := p.PublishToDLQ(context.Background(), &DLQMessage{
		OriginalTopic: "payment-claims",
		OriginalKey:   "TXN-1",
		Payload:       json.RawMessage(`{"reference":"TXN-1"}`),
		Headers:       map[string]string{"source": "gateway"},
		Error:         "boom",
		Attempts:      3,
	})

	require.NoError(t, err)
	producer.AssertExpectations(t)
}

func TestKafkaDLQPublisher_NilMessage(t *testing.T) {
	p := NewKafkaDLQPublisher(&MockJSONProducer{}, "x", "")
	assert.Error(t, p.PublishToDLQ(context.Background(), nil))
}

type recordingDLQ struct {
	msgs []*DLQMessage
	err  error
}

func (r *recordingDLQ) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestDLQHandler_SuccessSkipsDLQ(t *testing.T) {
	dlq := &recordingDLQ{}
	h := NewDLQHandler(dlq, fastConfig(2))

	err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "t"}, func(ctx context.Context) error {
		return nil
	})

	assert.NoError(t, err)
	assert.Empty(t, dlq.msgs)
}

func TestDLQHandler_PermanentGoesStraightToDLQ(t *testing.T) {
	dlq := &recordingDLQ{}
	h := NewDLQHandler(dlq, fastConfig(5))
	bad := errors.New("malformed claim")

	calls := 0
	err := h.ProcessWithDLQ(context.Background(), &MessageContext{ID: "m1", Topic: "payment-claims", Key: "TXN-9"},
		func(ctx context.Context) error {
			calls++
			return Permanent(bad)
		})

	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "malformed claim", dlq.msgs[0].Error)
	assert.Equal(t, "TXN-9", dlq.msgs[0].OriginalKey)
}

func TestDLQHandler_PublishFailureIsReported(t *testing.T) {
	dlq := &recordingDLQ{err: errors.New("broker down")}
	h := NewDLQHandler(dlq, fastConfig(1))

	err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "t"}, func(ctx context.Context) error {
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDLQPublish)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, dlq.msgs, 1)
}
