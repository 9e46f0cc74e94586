package broadcast_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hands/mjpeg-streamer/internal/broadcast"
)

func TestWaitNextReturnsCurrentFrame(t *testing.T) {
	b := broadcast.New()
	b.Publish([]byte("A"))

	f, err := b.WaitNext(context.Background(), 0)
	if err != nil {
		t.Fatalf("WaitNext() error = %v", err)
	}
	if f.Seq != 1 || string(f.Data) != "A" {
		t.Fatalf("WaitNext() = seq %d data %q, want seq 1 data %q", f.Seq, f.Data, "A")
	}
}

func TestWaitNextBlocksUntilPublish(t *testing.T) {
	b := broadcast.New()
	b.Publish([]byte("A"))

	got := make(chan broadcast.Frame, 1)
	go func() {
		f, err := b.WaitNext(context.Background(), 1)
		if err == nil {
			got <- f
		}
	}()

	select {
	case f := <-got:
		t.Fatalf("WaitNext(1) returned early with seq %d", f.Seq)
	case <-time.After(20 * time.Millisecond):
	}

	b.Publish([]byte("B"))

	select {
	case f := <-got:
		if f.Seq != 2 || string(f.Data) != "B" {
			t.Fatalf("WaitNext(1) = seq %d data %q", f.Seq, f.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitNext(1) did not wake after Publish")
	}
}

func TestSlowConsumerSkipsToLatest(t *testing.T) {
	b := broadcast.New()
	for i := 0; i < 10; i++ {
		b.Publish([]byte{byte(i)})
	}

	f, err := b.WaitNext(context.Background(), 3)
	if err != nil {
		t.Fatalf("WaitNext() error = %v", err)
	}
	if f.Seq != 10 || !bytes.Equal(f.Data, []byte{9}) {
		t.Fatalf("WaitNext(3) = seq %d data %v, want latest frame", f.Seq, f.Data)
	}
}

func TestMonotonicVisibility(t *testing.T) {
	const n = 2000
	b := broadcast.New()

	published := make([][]byte, n+1)
	for i := 1; i <= n; i++ {
		published[i] = []byte(fmt.Sprintf("frame-%d", i))
	}

	errc := make(chan error, 1)
	go func() {
		var last uint64
		for last < n {
			f, err := b.WaitNext(context.Background(), last)
			if err != nil {
				errc <- err
				return
			}
			if f.Seq <= last {
				errc <- fmt.Errorf("seq went from %d to %d", last, f.Seq)
				return
			}
			if !bytes.Equal(f.Data, published[f.Seq]) {
				errc <- fmt.Errorf("seq %d carried %q, want %q", f.Seq, f.Data, published[f.Seq])
				return
			}
			last = f.Seq
		}
		errc <- nil
	}()

	for i := 1; i <= n; i++ {
		b.Publish(published[i])
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not reach the final frame")
	}
}

func TestNoMissedWakeup(t *testing.T) {
	const rounds = 5000
	b := broadcast.New()

	for i := uint64(0); i < rounds; i++ {
		done := make(chan error, 1)
		go func(seen uint64) {
			_, err := b.WaitNext(context.Background(), seen)
			done <- err
		}(i)

		b.Publish([]byte{byte(i)})

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("round %d: WaitNext() error = %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("round %d: WaitNext(%d) missed the publish", i, i)
		}
	}
}

func TestStalledConsumersDoNotBlockOthers(t *testing.T) {
	b := broadcast.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stalled consumers: take one frame then never ask again.
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = b.WaitNext(ctx, 0)
			<-ctx.Done()
		}()
	}

	recv := make(chan uint64)
	go func() {
		var last uint64
		for {
			f, err := b.WaitNext(ctx, last)
			if err != nil {
				return
			}
			last = f.Seq
			recv <- last
		}
	}()

	for i := uint64(1); i <= 50; i++ {
		start := time.Now()
		b.Publish([]byte{byte(i)})
		if d := time.Since(start); d > 50*time.Millisecond {
			t.Fatalf("Publish %d took %v", i, d)
		}
		select {
		case seq := <-recv:
			if seq != i {
				t.Fatalf("active consumer got seq %d, want %d", seq, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("active consumer did not receive seq %d", i)
		}
	}
}

func TestCloseWakesAllWaiters(t *testing.T) {
	b := broadcast.New()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.WaitNext(context.Background(), 0)
			errs <- err
		}()
	}

	deadline := time.Now().Add(time.Second)
	for b.Stats().Waiting < 16 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d consumers waiting", b.Stats().Waiting)
		}
		time.Sleep(time.Millisecond)
	}

	b.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, broadcast.ErrClosed) {
			t.Fatalf("WaitNext() after Close = %v, want ErrClosed", err)
		}
	}
	if st := b.Stats(); st.Waiting != 0 || !st.Closed {
		t.Fatalf("Stats() after Close = %+v", st)
	}
}

func TestCloseDeliversUnseenFrame(t *testing.T) {
	b := broadcast.New()
	b.Publish([]byte("last"))
	b.Close()
	b.Publish([]byte("ignored"))

	f, err := b.WaitNext(context.Background(), 0)
	if err != nil || string(f.Data) != "last" {
		t.Fatalf("WaitNext(0) = %q, %v", f.Data, err)
	}
	if _, err := b.WaitNext(context.Background(), f.Seq); !errors.Is(err, broadcast.ErrClosed) {
		t.Fatalf("WaitNext(%d) = %v, want ErrClosed", f.Seq, err)
	}
}

func TestWaitNextHonoursContext(t *testing.T) {
	b := broadcast.New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.WaitNext(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitNext() = %v, want deadline exceeded", err)
	}
	if w := b.Stats().Waiting; w != 0 {
		t.Fatalf("Waiting = %d after cancelled wait", w)
	}
}
