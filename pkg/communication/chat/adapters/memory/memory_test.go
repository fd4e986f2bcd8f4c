package memory_test

import (
	"context"
	"testing"

	"github.com/arrakis-platform/gateway-proxy/pkg/communication/chat"
	"github.com/arrakis-platform/gateway-proxy/pkg/communication/chat/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestSenderRecordsSentMessages(t *testing.T) {
	sender := memory.New()
	defer sender.Close()

	msg := &chat.Message{ChannelID: "general", Text: "hello"}
	require.NoError(t, sender.Send(context.Background(), msg))

	sent := sender.SentMessages()
	require.Len(t, sent, 1)
	require.Equal(t, msg, sent[0])
}
