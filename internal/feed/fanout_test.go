package feed

import (
	"context"
	"testing"
	"time"

	"novatrading/internal/model"
)

func TestFanOutBroadcastsToAll(t *testing.T) {
	fo := NewFanOut(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Bar, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- replayBar("SBIN", 15)

	for i, out := range []<-chan model.Bar{out1, out2} {
		select {
		case b := <-out:
			if b.Symbol != "SBIN" {
				t.Errorf("out%d: expected symbol SBIN, got %s", i+1, b.Symbol)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for bar", i+1)
		}
	}
}

func TestFanOutDropsForSlowConsumer(t *testing.T) {
	fo := NewFanOut(1)
	fast := fo.Subscribe()
	fo.Subscribe() // never read: fills after one bar

	var dropped []int
	done := make(chan struct{})
	fo.OnDrop = func(idx int) {
		dropped = append(dropped, idx)
		close(done)
	}

	input := make(chan model.Bar, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- replayBar("SBIN", 15)
	input <- replayBar("SBIN", 30)

	<-fast
	<-fast

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop callback")
	}
	if len(dropped) == 0 || dropped[0] != 1 {
		t.Errorf("dropped = %v, want slow subscriber index 1", dropped)
	}
}

func TestFanOutClosesOutputsWhenInputCloses(t *testing.T) {
	fo := NewFanOut(4)
	out := fo.Subscribe()

	input := make(chan model.Bar)
	go fo.Run(context.Background(), input)
	close(input)

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed channel, got bar")
		}
	case <-time.After(time.Second):
		t.Fatal("output channel never closed")
	}
}
