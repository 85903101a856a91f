package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/pkg/types"
)

func newTestBroker() *Broker { return New(zerolog.Nop()) }

func ev(model string, pct float64) types.DownloadEvent {
	return types.DownloadEvent{Model: model, State: types.DownloadInProgress, Progress: pct}
}

func TestPublishNoObserversIsNoop(t *testing.T) {
	b := newTestBroker()
	// must not panic or block
	b.Publish("m1", ev("m1", 10))
}

func TestDeliveryOrderPerObserver(t *testing.T) {
	b := newTestBroker()
	sub := b.Subscribe("m1")
	for i := 0; i < 5; i++ {
		b.Publish("m1", ev("m1", float64(i*10)))
	}
	for i := 0; i < 5; i++ {
		select {
		case got := <-sub.C:
			if got.Progress != float64(i*10) {
				t.Fatalf("out of order: want %d got %v", i*10, got.Progress)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestConcurrentSubscribesSameTopic(t *testing.T) {
	b := newTestBroker()
	var wg sync.WaitGroup
	subs := make([]*Subscription, 16)
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subs[i] = b.Subscribe("m1")
		}(i)
	}
	wg.Wait()
	if n := b.ObserverCount("m1"); n != 16 {
		t.Fatalf("expected 16 observers, got %d", n)
	}
	b.Publish("m1", ev("m1", 50))
	for i, s := range subs {
		select {
		case got := <-s.C:
			if got.Progress != 50 {
				t.Fatalf("sub %d got %v", i, got.Progress)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d missed event", i)
		}
	}
}

func TestStalledObserverDropped(t *testing.T) {
	b := newTestBroker()
	stalled := b.Subscribe("m1")
	healthy := b.Subscribe("m1")

	received := make(chan types.DownloadEvent, 64)
	go func() {
		for e := range healthy.C {
			received <- e
		}
	}()

	// Fill the stalled observer's buffer and then one more; the overflow
	// publish must drop it within that same publish cycle.
	for i := 0; i <= observerBuf; i++ {
		b.Publish("m1", ev("m1", float64(i)))
	}
	if n := b.ObserverCount("m1"); n != 1 {
		t.Fatalf("expected stalled observer removed, have %d", n)
	}
	// Its channel is closed once dropped.
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, ok := <-stalled.C:
			open = ok
		case <-deadline:
			t.Fatalf("stalled channel never closed")
		}
	}
	// A subsequent publish reaches only the healthy observer.
	b.Publish("m1", ev("m1", 99))
	for {
		select {
		case got := <-received:
			if got.Progress == 99 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("healthy observer starved")
		}
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := newTestBroker()
	sub := b.Subscribe("m1")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second call is a no-op
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	if n := b.ObserverCount("m1"); n != 0 {
		t.Fatalf("expected 0 observers, got %d", n)
	}
	// publish after unsubscribe must not attempt delivery
	b.Publish("m1", ev("m1", 10))
}

func TestTopicAllSeesEveryTopic(t *testing.T) {
	b := newTestBroker()
	all := b.Subscribe(TopicAll)
	b.Publish("m1", ev("m1", 1))
	b.Publish("m2", ev("m2", 2))
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case got := <-all.C:
			seen[got.Model] = true
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	if !seen["m1"] || !seen["m2"] {
		t.Fatalf("wildcard observer missed topics: %v", seen)
	}
}

func TestSubscribeRacingCloseAlwaysClosesChannel(t *testing.T) {
	// Every subscription taken while Close runs must end with a closed
	// channel, whether it landed before the sweep or after the broker
	// closed. An observer stranded on a swept-out topic entry would leave
	// its channel open forever.
	for i := 0; i < 200; i++ {
		b := newTestBroker()
		start := make(chan struct{})
		subs := make([]*Subscription, 4)
		var wg sync.WaitGroup
		for j := range subs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				<-start
				subs[j] = b.Subscribe("m1")
			}(j)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			b.Close()
		}()
		close(start)
		wg.Wait()
		for j, s := range subs {
			select {
			case _, ok := <-s.C:
				if ok {
					t.Fatalf("iter %d sub %d received an event, want close", i, j)
				}
			case <-time.After(time.Second):
				t.Fatalf("iter %d sub %d channel never closed", i, j)
			}
		}
	}
}

func TestCloseShutsDownObservers(t *testing.T) {
	b := newTestBroker()
	s1 := b.Subscribe("m1")
	s2 := b.Subscribe("m2")
	b.Close()
	if _, ok := <-s1.C; ok {
		t.Fatalf("s1 not closed")
	}
	if _, ok := <-s2.C; ok {
		t.Fatalf("s2 not closed")
	}
	// subscribe after close returns a closed channel
	s3 := b.Subscribe("m3")
	if _, ok := <-s3.C; ok {
		t.Fatalf("post-close subscription not closed")
	}
	b.Publish("m1", ev("m1", 1)) // dropped, no panic
}
