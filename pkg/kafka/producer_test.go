package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerValidates(t *testing.T) {
	cases := map[string][]ProducerOption{
		"no brokers":  nil,
		"bad acks":    {WithBrokers([]string{"b:9092"}), WithRequiredAcks(2)},
		"bad codec":   {WithBrokers([]string{"b:9092"}), WithCompression("brotli")},
		"zero batch":  {WithBrokers([]string{"b:9092"}), WithBatchSize(0)},
		"no attempts": {WithBrokers([]string{"b:9092"}), WithMaxAttempts(0)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewProducer(opts...)
			assert.Error(t, err)
		})
	}
}

func TestNewProducerBuildsWriter(t *testing.T) {
	p, err := NewProducer(
		WithBrokers([]string{"b1:9092", "b2:9092"}),
		WithClientID("swingctl"),
		WithCompression("none"),
		WithHashByKey(true),
		WithAutoCreateTopics(true),
	)
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, kafka.Compression(0), p.writer.Compression)
	assert.True(t, p.writer.AllowAutoTopicCreation)
	tr, ok := p.writer.Transport.(*kafka.Transport)
	require.True(t, ok)
	assert.Equal(t, "swingctl", tr.ClientID)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Snappy, parseCompression("snappy"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Compression(0), parseCompression("none"))
}
