package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// errTopicAlreadyExists is Kafka's TOPIC_ALREADY_EXISTS error code.
const errTopicAlreadyExists = 36

type requester interface {
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
}

// ensureTopic creates topic when it does not exist. An existing topic is not
// an error.
func ensureTopic(ctx context.Context, client requester, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("op=redpanda.ensureTopic: topic name cannot be empty")
	}
	if partitions <= 0 {
		return fmt.Errorf("op=redpanda.ensureTopic: partitions must be greater than 0")
	}
	if replicationFactor <= 0 {
		return fmt.Errorf("op=redpanda.ensureTopic: replication factor must be greater than 0")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=redpanda.ensureTopic: %w", err)
	}
	created, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=redpanda.ensureTopic: unexpected response type: %T", resp)
	}
	for _, tr := range created.Topics {
		if tr.ErrorCode == errTopicAlreadyExists {
			slog.Debug("topic already exists", slog.String("topic", tr.Topic))
			continue
		}
		if tr.ErrorCode != 0 {
			msg := ""
			if tr.ErrorMessage != nil {
				msg = *tr.ErrorMessage
			}
			return fmt.Errorf("op=redpanda.ensureTopic: create topic %s: %s (code %d)", tr.Topic, msg, tr.ErrorCode)
		}
		slog.Info("topic created",
			slog.String("topic", tr.Topic),
			slog.Int("partitions", int(partitions)),
			slog.Int("replication_factor", int(replicationFactor)))
	}
	return nil
}
