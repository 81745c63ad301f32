package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceHook(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "bars", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceIDFrom(ctx))
	_, ok := StartTimeFrom(ctx)
	assert.True(t, ok)

	ctx, _, _, err = TraceHook().BeforeHandle(context.Background(), "bars", kafka.Message{}, nil)
	require.NoError(t, err)
	assert.Empty(t, TraceIDFrom(ctx))
}

func TestHeadersForCarriesTrace(t *testing.T) {
	hs := headersFor(WithTraceID(context.Background(), "t-1"))
	require.Len(t, hs, 2)
	assert.Equal(t, "message_id", hs[0].Key)
	assert.NotEmpty(t, hs[0].Value)
	assert.Equal(t, "t-1", ExtractTraceID(kafka.Message{Headers: hs}))

	minted := ExtractTraceID(kafka.Message{Headers: headersFor(context.Background())})
	assert.NotEmpty(t, minted)
}

func TestHookChainOrderAndPanics(t *testing.T) {
	var order []string
	rec := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, km, append(data, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				order = append(order, "after:"+name)
			},
		}
	}
	chain := NewHookChain(rec("a"), nil, rec("b"))

	_, _, data, err := chain.BeforeHandle(context.Background(), "bars", kafka.Message{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
	chain.AfterHandle(context.Background(), "bars", kafka.Message{}, data, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)

	panicky := HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("bad hook")
		},
	}
	_, _, _, err = NewHookChain(panicky).BeforeHandle(context.Background(), "bars", kafka.Message{}, nil)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
}
