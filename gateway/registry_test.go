package main

import (
	"net"
	"sync"
	"testing"
	"time"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if !r.Add(a) {
		t.Fatal("Add on a running registry must succeed")
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	r.Remove(a)
	if got := r.Len(); got != 0 {
		t.Fatalf("Len after Remove = %d, want 0", got)
	}
	// Removing twice is harmless.
	r.Remove(a)
}

func TestRegistryShutdownUnblocksReads(t *testing.T) {
	r := NewRegistry()
	server, client := net.Pipe()
	defer client.Close()
	r.Add(server)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := server.Read(buf)
		done <- err
	}()

	r.Shutdown()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected the blocked read to fail after Shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read was not unblocked by Shutdown")
	}
	if r.Running() {
		t.Fatal("registry still running after Shutdown")
	}
}

func TestRegistryRejectsAddAfterShutdown(t *testing.T) {
	r := NewRegistry()
	r.Shutdown()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if r.Add(a) {
		t.Fatal("Add after Shutdown must be refused")
	}
}

func TestRegistryConcurrentChurnDuringShutdown(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := net.Pipe()
			defer b.Close()
			if r.Add(a) {
				r.Remove(a)
				a.Close()
			} else {
				a.Close()
			}
		}()
	}

	// Shutdown races against the churn above; the test passes by not
	// deadlocking and not panicking.
	r.Shutdown()
	wg.Wait()
}
