package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/transports"
)

func drain(tr *Transport, n int) {
	for i := 0; i < n; i++ {
		<-tr.Recv()
	}
}

func TestMockSendLifecycle(t *testing.T) {
	tr := New()
	if _, err := tr.SendAudio(context.Background(), "a", nil); !errors.Is(err, transports.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	tr.Push(frames.NewOpenedFrame("a", 0, "mock"))
	if _, err := tr.SendAudio(context.Background(), "a", nil); !errors.Is(err, transports.ErrHandshakeIncomplete) {
		t.Fatalf("expected ErrHandshakeIncomplete, got %v", err)
	}
	tr.Push(frames.NewHandshakeFrame("a", 0, uuid.New()))
	drain(tr, 2)

	first, err := tr.SendAudio(context.Background(), "a", []byte{1})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, _ := tr.SendAudio(context.Background(), "a", []byte{2})
	if err := <-first; !errors.Is(err, transports.ErrSendCanceled) {
		t.Fatalf("expected superseded send canceled, got %v", err)
	}
	<-tr.Sent()
	rec := <-tr.Sent()
	rec.Complete(nil)
	if err := <-second; err != nil {
		t.Fatalf("expected nil completion, got %v", err)
	}
}

func TestMockCloseResolvesActiveSend(t *testing.T) {
	tr := New()
	tr.Open("b", uuid.New())
	drain(tr, 2)
	done, _ := tr.SendAudio(context.Background(), "b", []byte{1})
	tr.Push(frames.NewClosedFrame("b", 0, frames.CloseRemote, nil))

	select {
	case err := <-done:
		if !errors.Is(err, transports.ErrSessionClosedDuringSend) {
			t.Fatalf("expected ErrSessionClosedDuringSend, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("send never resolved")
	}
}

func TestMockContextCancel(t *testing.T) {
	tr := New()
	tr.Open("c", uuid.New())
	drain(tr, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done, _ := tr.SendAudio(ctx, "c", []byte{1})
	cancel()
	if err := <-done; !errors.Is(err, transports.ErrSendCanceled) {
		t.Fatalf("expected ErrSendCanceled, got %v", err)
	}
}
