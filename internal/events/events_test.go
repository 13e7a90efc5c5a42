package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"payfast-reconciler/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() models.PayFastEvent {
	return models.PayFastEvent{
		Type: "PAYMENT_SUCCESS",
		ID:   "T1",
		Data: models.PayFastEventData{Object: &models.PayFastS2SResponse{Success: true, Code: "PAYMENT_SUCCESS"}},
	}
}

func TestKafkaSink_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got models.PayFastEvent
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.ID != "T1" || got.Type != "PAYMENT_SUCCESS" {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	sink := NewKafkaSink(producer, "", nil)

	require.NoError(t, sink.Publish(context.Background(), testEvent()))
	require.NoError(t, sink.Close())
}

func TestKafkaSink_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "payments", nil)

	err := sink.Publish(context.Background(), testEvent())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestPubNubSink_Publish(t *testing.T) {
	var gotChannel string
	var gotMessage any
	sink := newPubNubSink("", func(channel string, message any) error {
		gotChannel = channel
		gotMessage = message
		return nil
	}, nil)

	require.NoError(t, sink.Publish(context.Background(), testEvent()))

	assert.Equal(t, "payment-T1", gotChannel)
	msg, ok := gotMessage.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PAYMENT_SUCCESS", msg["type"])
	assert.Equal(t, "T1", msg["id"])
}

func TestPubNubSink_CanceledContext(t *testing.T) {
	called := false
	sink := newPubNubSink("orders", func(string, any) error {
		called = true
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sink.Publish(ctx, testEvent()), context.Canceled)
	assert.False(t, called)
}

type recordingSink struct {
	published []models.PayFastEvent
	err       error
	closed    bool
}

func (r *recordingSink) Publish(_ context.Context, e models.PayFastEvent) error {
	r.published = append(r.published, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	f := Fanout{failing, ok, Nop{}}

	err := f.Publish(context.Background(), testEvent())

	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, failing.published, 1)
	assert.Len(t, ok.published, 1)

	require.NoError(t, f.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestVerifiedOnly_DropsForgedEvents(t *testing.T) {
	var channels []string
	pubnub := newPubNubSink("", func(channel string, _ any) error {
		channels = append(channels, channel)
		return nil
	}, nil)
	kafka := &recordingSink{}
	f := Fanout{VerifiedOnly{Sink: pubnub}, kafka}

	forged := models.PayFastEvent{
		Type: "PAYMENT_ERROR",
		ID:   "T1",
		Data: models.PayFastEventData{Object: &models.PaymentProcessorError{Message: "Webhook validation error"}},
	}
	declined := models.PayFastEvent{
		Type: "PAYMENT_ERROR",
		ID:   "T2",
		Data: models.PayFastEventData{Object: &models.PayFastS2SResponse{Code: "PAYMENT_ERROR"}},
	}

	require.NoError(t, f.Publish(context.Background(), forged))
	require.NoError(t, f.Publish(context.Background(), declined))

	assert.Equal(t, []string{"payment-T2"}, channels)
	assert.Len(t, kafka.published, 2)
}
