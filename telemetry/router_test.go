package telemetry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cellcycler-go/model"
)

// collectSink gathers every line the Router forwards.
type collectSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *collectSink) TrySend(line []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, string(line))
	return true
}

func (s *collectSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *collectSink) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := s.snapshot(); len(lines) >= n {
			return lines
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d forwarded lines, have %d", n, len(s.snapshot()))
	return nil
}

func sampleAt(tUs int64) model.SampleRecord {
	return model.SampleRecord{Channel: 0, TUs: tUs, VMV: 3700}
}

func TestRouterDropsOldestSampleWhenFull(t *testing.T) {
	r := NewRouter(&collectSink{}, 1)
	ctx := context.Background()

	// No drain goroutine running: fill the sample queue past its cap.
	for i := 0; i < sampleQueueCap+2; i++ {
		r.Offer(ctx, 0, model.KindSample, sampleAt(int64(i)))
	}

	q := r.queues[0].sample
	if len(q) != sampleQueueCap {
		t.Fatalf("sample queue length = %d, want %d", len(q), sampleQueueCap)
	}
	first := (<-q).Payload.(model.SampleRecord)
	if first.TUs != 2 {
		t.Fatalf("oldest queued sample t = %d, want 2 (0 and 1 dropped oldest-first)", first.TUs)
	}
}

func TestRouterNeverDropsPriorityRecords(t *testing.T) {
	sink := &collectSink{}
	r := NewRouter(sink, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	const n = 3 * priorityQueueCap
	for i := 0; i < n; i++ {
		r.Offer(ctx, 0, model.KindFault, model.FaultRecord{
			Channel: 0, TUs: int64(i), Kind: model.FaultSampler, Detail: "x",
		})
	}

	lines := sink.waitFor(t, n)
	for i, line := range lines[:n] {
		if !strings.HasPrefix(line, "fault ") {
			t.Fatalf("line %d = %q, want a fault record", i, line)
		}
	}
}

func TestRouterOfferUnknownChannelIsNoop(t *testing.T) {
	r := NewRouter(&collectSink{}, 1)
	// Must not panic or block.
	r.Offer(context.Background(), 7, model.KindSample, sampleAt(1))
	r.Offer(context.Background(), 7, model.KindFault, model.FaultRecord{Channel: 7})
}

func TestRouterPriorityOfferHonoursCancel(t *testing.T) {
	r := NewRouter(&collectSink{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < priorityQueueCap; i++ {
		r.Offer(ctx, 0, model.KindFault, model.FaultRecord{Channel: 0, TUs: int64(i)})
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.Offer(ctx, 0, model.KindFault, model.FaultRecord{Channel: 0, TUs: 99})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Offer blocked past context cancellation")
	}
}

func TestRouterForwardsTransitionsInOrder(t *testing.T) {
	sink := &collectSink{}
	r := NewRouter(sink, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	states := []model.BCState{model.BCNoBat, model.BCBatNoID, model.BCGetID, model.BCBatID}
	for i := 1; i < len(states); i++ {
		r.Offer(ctx, 1, model.KindBCTransition, model.BCTransitionRecord{
			Channel: 1, TUs: int64(i), From: states[i-1], To: states[i],
		})
	}

	lines := sink.waitFor(t, len(states)-1)
	for i := 1; i < len(states); i++ {
		if !strings.Contains(lines[i-1], `to="`+string(states[i])+`"`) {
			t.Fatalf("line %d = %q, want transition to %s", i-1, lines[i-1], states[i])
		}
	}
}
