package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	"hookrelay/internal/transport"
	logx "hookrelay/pkg/logx"
)

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestRecipient(t *testing.T) {
	t.Parallel()

	if got, ok := recipient("-1001234567890").(tele.ChatID); !ok || int64(got) != -1001234567890 {
		t.Fatalf("numeric recipient = %#v", got)
	}
	if got := recipient("@mychannel").Recipient(); got != "@mychannel" {
		t.Fatalf("username recipient = %q", got)
	}
}

func TestChunkItems(t *testing.T) {
	t.Parallel()

	items := make([]transport.ForwardItem, 23)
	chunks := chunkItems(items, albumLimit)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 3 {
		t.Fatalf("chunk sizes = %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	single := chunkItems(make([]transport.ForwardItem, 4), albumLimit)
	if len(single) != 1 || len(single[0]) != 4 {
		t.Fatalf("small package chunking = %v", single)
	}
}
