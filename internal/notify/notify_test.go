package notify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/podolabs/signaged/internal/db"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type ackRecorder struct {
	acks []Message
	err  error
}

func (a *ackRecorder) PostAck(_ context.Context, event, uuid string) error {
	a.acks = append(a.acks, Message{Event: event, UUID: uuid})
	return a.err
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Connect(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close(database) }) //nolint:errcheck
	return database
}

func TestDispatch_HandlesAndAcksFreshMessage(t *testing.T) {
	acker := &ackRecorder{}
	var handled []Message
	dispatcher := NewDispatcher(testDB(t), acker, func(_ context.Context, msg Message) {
		handled = append(handled, msg)
	}, zerolog.Nop())

	dispatcher.Dispatch(context.Background(), Message{Event: "refresh", UUID: "u-1"})

	if len(handled) != 1 || handled[0].UUID != "u-1" {
		t.Fatalf("handled: %+v", handled)
	}
	if len(acker.acks) != 1 || acker.acks[0].Event != "refresh" {
		t.Fatalf("acks: %+v", acker.acks)
	}
}

func TestDispatch_DuplicateIsDropped(t *testing.T) {
	acker := &ackRecorder{}
	count := 0
	dispatcher := NewDispatcher(testDB(t), acker, func(context.Context, Message) {
		count++
	}, zerolog.Nop())

	msg := Message{Event: "refresh", UUID: "u-1"}
	dispatcher.Dispatch(context.Background(), msg)
	dispatcher.Dispatch(context.Background(), msg)

	if count != 1 {
		t.Fatalf("handler ran %d times", count)
	}
	if len(acker.acks) != 1 {
		t.Fatalf("acks: %+v", acker.acks)
	}
}

func TestDispatch_SameEventNewUUIDIsFresh(t *testing.T) {
	count := 0
	dispatcher := NewDispatcher(testDB(t), &ackRecorder{}, func(context.Context, Message) {
		count++
	}, zerolog.Nop())

	dispatcher.Dispatch(context.Background(), Message{Event: "refresh", UUID: "u-1"})
	dispatcher.Dispatch(context.Background(), Message{Event: "refresh", UUID: "u-2"})

	if count != 2 {
		t.Fatalf("handler ran %d times", count)
	}
}

func TestDispatch_MalformedMessageIgnored(t *testing.T) {
	count := 0
	dispatcher := NewDispatcher(testDB(t), &ackRecorder{}, func(context.Context, Message) {
		count++
	}, zerolog.Nop())

	dispatcher.Dispatch(context.Background(), Message{Event: "", UUID: "u-1"})
	dispatcher.Dispatch(context.Background(), Message{Event: "refresh", UUID: ""})

	if count != 0 {
		t.Fatalf("handler ran %d times", count)
	}
}

func TestDispatch_AckFailureStillHandles(t *testing.T) {
	count := 0
	dispatcher := NewDispatcher(testDB(t), &ackRecorder{err: context.DeadlineExceeded}, func(context.Context, Message) {
		count++
	}, zerolog.Nop())

	dispatcher.Dispatch(context.Background(), Message{Event: "refresh", UUID: "u-1"})
	if count != 1 {
		t.Fatalf("handler ran %d times", count)
	}
}
