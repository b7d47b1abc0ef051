package live

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/Jingik/S.F.D/internal/domain/detection"
)

func newTestRegistry(buffer int) *Registry {
	return NewRegistry(buffer, zerolog.Nop())
}

func testRecord() detection.Record {
	return detection.Record{
		ObjectURL:    "http://minio/sfd/obj-1.jpg",
		DetectedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SerialNumber: 1,
		Defective:    true,
		DefectType:   detection.ClassRusting,
		Confidence:   0.97,
	}
}

func TestSubscribeReplacesPrevious(t *testing.T) {
	r := newTestRegistry(4)

	first := r.Subscribe(42)
	second := r.Subscribe(42)

	assert.Equal(t, 1, r.Len())
	assert.True(t, first.Terminal())
	assert.False(t, second.Terminal())

	// the replacement, not the terminated one, receives events
	assert.True(t, r.SendTo(42, testRecord()))
	select {
	case <-second.Events():
	default:
		t.Fatal("replacement connection did not receive the event")
	}
	select {
	case <-first.Events():
		t.Fatal("terminated connection received the event")
	default:
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	r := newTestRegistry(4)
	c := r.Subscribe(7)

	r.Unsubscribe(7)
	assert.Equal(t, 0, r.Len())
	assert.True(t, c.Terminal())

	// second call is a no-op, not an error
	r.Unsubscribe(7)
	assert.Equal(t, 0, r.Len())
}

func TestBroadcastAllDeliversToSnapshot(t *testing.T) {
	r := newTestRegistry(4)
	conns := make([]*Connection, 0, 5)
	for id := int64(1); id <= 5; id++ {
		conns = append(conns, r.Subscribe(id))
	}

	delivered := r.BroadcastAll(testRecord())
	assert.Equal(t, 5, delivered)

	for _, c := range conns {
		select {
		case rec := <-c.Events():
			assert.Equal(t, detection.ClassRusting, rec.DefectType)
		default:
			t.Fatalf("user %d missed the broadcast", c.UserID)
		}
	}
}

func TestBroadcastPrunesOnlyFailingConnection(t *testing.T) {
	r := newTestRegistry(1)
	dead := r.Subscribe(1)
	healthy := r.Subscribe(2)

	// fill dead's buffer so the next delivery to it fails
	assert.True(t, r.SendTo(1, testRecord()))

	delivered := r.BroadcastAll(testRecord())
	assert.Equal(t, 1, delivered)

	assert.Equal(t, 1, r.Len())
	assert.True(t, dead.Terminal())
	assert.False(t, healthy.Terminal())

	select {
	case <-healthy.Events():
	default:
		t.Fatal("healthy connection missed the broadcast")
	}
}

func TestSendToUnknownUser(t *testing.T) {
	r := newTestRegistry(4)
	assert.False(t, r.SendTo(99, testRecord()))
}

func TestSendToFailureUnregisters(t *testing.T) {
	r := newTestRegistry(1)
	c := r.Subscribe(1)

	assert.True(t, r.SendTo(1, testRecord()))
	assert.False(t, r.SendTo(1, testRecord())) // buffer full

	assert.Equal(t, 0, r.Len())
	assert.True(t, c.Terminal())
}

func TestUnsubscribeAll(t *testing.T) {
	r := newTestRegistry(4)
	a := r.Subscribe(1)
	b := r.Subscribe(2)

	assert.Equal(t, 2, r.UnsubscribeAll())
	assert.Equal(t, 0, r.Len())
	assert.True(t, a.Terminal())
	assert.True(t, b.Terminal())
	assert.Equal(t, 0, r.UnsubscribeAll())
}

func TestDropSparesReplacement(t *testing.T) {
	r := newTestRegistry(4)
	old := r.Subscribe(1)
	repl := r.Subscribe(1)

	// the old transport releasing its handle must not evict the replacement
	assert.False(t, r.Drop(old))
	assert.Equal(t, 1, r.Len())
	assert.False(t, repl.Terminal())

	assert.True(t, r.Drop(repl))
	assert.Equal(t, 0, r.Len())
	assert.True(t, repl.Terminal())
}

func TestConcurrentBroadcastAndChurn(t *testing.T) {
	r := newTestRegistry(64)
	for id := int64(1); id <= 20; id++ {
		r.Subscribe(id)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				r.BroadcastAll(testRecord())
			}
		}()
	}
	for id := int64(1); id <= 20; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				r.Subscribe(id)
				r.Unsubscribe(id)
			}
		}(id)
	}
	wg.Wait()

	// churn goroutines end on Unsubscribe, so the registry drains to empty
	assert.Equal(t, 0, r.Len())
}
