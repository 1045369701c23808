package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

type fakeClient struct {
	records    []*kgo.Record
	produceErr error
	topicCode  int16
	requestErr error
	requests   int
	flushed    bool
	closed     bool
}

func (f *fakeClient) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.records = append(f.records, r)
	promise(r, f.produceErr)
}

func (f *fakeClient) Request(_ context.Context, req kmsg.Request) (kmsg.Response, error) {
	f.requests++
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	create := req.(*kmsg.CreateTopicsRequest)
	resp := kmsg.NewPtrCreateTopicsResponse()
	for _, t := range create.Topics {
		tr := kmsg.NewCreateTopicsResponseTopic()
		tr.Topic = t.Topic
		tr.ErrorCode = f.topicCode
		resp.Topics = append(resp.Topics, tr)
	}
	return resp, nil
}

func (f *fakeClient) Flush(context.Context) error { f.flushed = true; return nil }
func (f *fakeClient) Close()                   { f.closed = true }

func TestEnsureTopic(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, ensureTopic(ctx, &fakeClient{}, "turns", 3, 1))
	assert.NoError(t, ensureTopic(ctx, &fakeClient{topicCode: errTopicAlreadyExists}, "turns", 3, 1))

	err := ensureTopic(ctx, &fakeClient{topicCode: 29}, "turns", 3, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 29")

	assert.Error(t, ensureTopic(ctx, &fakeClient{requestErr: errors.New("dial tcp")}, "turns", 3, 1))
	assert.Error(t, ensureTopic(ctx, &fakeClient{}, "", 3, 1))
	assert.Error(t, ensureTopic(ctx, &fakeClient{}, "turns", 0, 1))
	assert.Error(t, ensureTopic(ctx, &fakeClient{}, "turns", 3, 0))
}

func TestPublishTurn_RecordShape(t *testing.T) {
	fc := &fakeClient{}
	p := newPublisher(context.Background(), fc, "turns")
	assert.Equal(t, 1, fc.requests)

	ev := domain.TurnEvent{
		ConversationID: "conv-1",
		Mode:           domain.ModeMCQ,
		Category:       domain.CategoryMCQExplanations,
		Fingerprint:    "abc",
		Usage:          domain.Usage{TotalUnits: 42},
		Latency:        1500 * time.Millisecond,
		Attempts:       2,
		OccurredAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishTurn(context.Background(), ev))
	require.Len(t, fc.records, 1)
	r := fc.records[0]
	assert.Equal(t, "turns", r.Topic)
	assert.Equal(t, []byte("conv-1"), r.Key)

	var got domain.TurnEvent
	require.NoError(t, json.Unmarshal(r.Value, &got))
	assert.Equal(t, ev, got)

	headers := map[string]string{}
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"mode": "mcq", "category": "mcq_explanations", "fallback": "false"}, headers)
}

func TestPublishTurn_DeliveryFailureIsNotReturned(t *testing.T) {
	fc := &fakeClient{produceErr: errors.New("not leader")}
	p := newPublisher(context.Background(), fc, "turns")
	assert.NoError(t, p.PublishTurn(context.Background(), domain.TurnEvent{ConversationID: "c"}))
}

func TestPublisher_TopicSetupFailureIsTolerated(t *testing.T) {
	fc := &fakeClient{requestErr: errors.New("unreachable")}
	p := newPublisher(context.Background(), fc, "turns")
	require.NotNil(t, p)
	require.NoError(t, p.Close(context.Background()))
	assert.True(t, fc.flushed)
	assert.True(t, fc.closed)
}

func TestNewPublisher_NoBrokers(t *testing.T) {
	_, err := NewPublisher(context.Background(), nil, "turns")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no seed brokers")
}
