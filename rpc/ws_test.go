package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"p2plend/core/events"
	"p2plend/native/lending"
)

func TestEventFilter(t *testing.T) {
	require.True(t, parseEventFilter("").match("token.transfer"))
	filter := parseEventFilter(" lending., token.mint ")
	require.True(t, filter.match(lending.EventTypeOfferCreated))
	require.True(t, filter.match(events.TypeTokenMint))
	require.False(t, filter.match(events.TypeTokenTransfer))
}

func TestEventStreamForwardsCommittedEvents(t *testing.T) {
	f := newRPCFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/events?types=lending."
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	status, _ := f.post("lend_create_offer", f.sign(f.lender, "lend_create_offer", offerParams()), "")
	require.Equal(t, 200, status)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var rec events.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, lending.EventTypeOfferCreated, rec.Event.Type)
	require.NotZero(t, rec.Sequence)
}
