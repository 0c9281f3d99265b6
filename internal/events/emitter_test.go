package events

import (
	"testing"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

func TestSubscribeAndReceive(t *testing.T) {
	e := NewEmitter(config.EventConfig{BufferSize: 4})
	ch, cancel := e.Subscribe("")
	defer cancel()

	e.Publish(models.ScanEvent{ScanID: "s1", Type: models.EventScanStart})

	ev := <-ch
	if ev.Type != models.EventScanStart || ev.ScanID != "s1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.TS.IsZero() {
		t.Errorf("timestamp not stamped")
	}
}

func TestScanIDFiltering(t *testing.T) {
	e := NewEmitter(config.EventConfig{BufferSize: 4})
	ch, cancel := e.Subscribe("s1")
	defer cancel()

	e.Publish(models.ScanEvent{ScanID: "other", Type: models.EventLog})
	e.Publish(models.ScanEvent{ScanID: "s1", Type: models.EventScanComplete})

	ev := <-ch
	if ev.ScanID != "s1" {
		t.Errorf("filtered subscriber received %+v", ev)
	}
	if len(ch) != 0 {
		t.Errorf("unexpected queued events: %d", len(ch))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	e := NewEmitter(config.EventConfig{BufferSize: 1, DropSlowSubs: false})
	_, cancel := e.Subscribe("")
	defer cancel()

	// Nobody drains; buffer fills after one event. Further publishes must
	// return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Publish(models.ScanEvent{ScanID: "s1", Type: models.EventProgress})
		}
		close(done)
	}()
	<-done
}

func TestSlowSubscriberDropped(t *testing.T) {
	e := NewEmitter(config.EventConfig{BufferSize: 1, DropSlowSubs: true})
	ch, cancel := e.Subscribe("")
	defer cancel()

	e.Publish(models.ScanEvent{ScanID: "s1"})
	e.Publish(models.ScanEvent{ScanID: "s1"}) // overruns the buffer

	if e.SubscriberCount() != 0 {
		t.Errorf("slow subscriber not dropped")
	}
	// Channel is closed after draining the buffered event.
	<-ch
	if _, open := <-ch; open {
		t.Errorf("channel left open after drop")
	}
}

func TestCancelIdempotent(t *testing.T) {
	e := NewEmitter(config.EventConfig{BufferSize: 2})
	_, cancel := e.Subscribe("")
	cancel()
	cancel() // second cancel must not panic

	if e.SubscriberCount() != 0 {
		t.Errorf("subscriber still attached")
	}
}
