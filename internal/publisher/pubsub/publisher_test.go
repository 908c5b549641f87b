package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/leetdaily/internal/solves"
)

func newFakePubSub(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "leetdaily-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishSendsJSONPayload(t *testing.T) {
	t.Parallel()

	srv, client := newFakePubSub(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "daily-problems-saved")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	event := solves.SavedEvent{
		RunID:     "run-1",
		Username:  "alice",
		Day:       "2024-01-02",
		Problems:  []string{"Two Sum"},
		FetchedAt: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		Policy:    "upsert_merge",
	}
	id, err := pub.Publish(ctx, "daily-problems-saved", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got solves.SavedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, event.Problems, got.Problems)
	require.Equal(t, "alice", got.Username)
}

func TestPublishMissingTopicFails(t *testing.T) {
	t.Parallel()

	_, client := newFakePubSub(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := pub.Publish(ctx, "does-not-exist", map[string]string{"k": "v"})
	require.Error(t, err)
}

func TestPublishValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "topic", nil)
	require.Error(t, err)

	_, client := newFakePubSub(t)
	_, err = New(client).Publish(context.Background(), "", nil)
	require.Error(t, err)

	_, err = Dial(context.Background(), "")
	require.Error(t, err)
}

func TestPubsubCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
