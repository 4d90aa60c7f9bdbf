package rcluster

import (
	"sync"
	"testing"
)

func TestPoolFetchSingletonPerNode(t *testing.T) {
	adapter := newScriptedAdapter()
	p := newPool(adapter, nil)
	node := Node{Host: "a", Port: 6379, Name: "a:6379"}

	var wg sync.WaitGroup
	const n = 20
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.fetch(node)
			if err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	wg.Wait()

	adapter.mu.Lock()
	opens := len(adapter.opens)
	adapter.mu.Unlock()
	if opens != 1 {
		t.Errorf("expected exactly 1 dial for a node fetched concurrently by %d callers, got %d", n, opens)
	}
}

func TestPoolEvictMissing(t *testing.T) {
	adapter := newScriptedAdapter()
	p := newPool(adapter, nil)

	a := Node{Host: "a", Port: 6379, Name: "a:6379"}
	b := Node{Host: "b", Port: 6379, Name: "b:6379"}
	if _, err := p.fetch(a); err != nil {
		t.Fatal(err)
	}
	if _, err := p.fetch(b); err != nil {
		t.Fatal(err)
	}

	p.evictMissing(map[string]struct{}{"a:6379": {}})

	stats := p.stats()
	if _, ok := stats["a:6379"]; !ok {
		t.Error("a:6379 should survive eviction")
	}
	if _, ok := stats["b:6379"]; ok {
		t.Error("b:6379 should have been evicted")
	}
}

func TestPoolCloseAllIdempotent(t *testing.T) {
	adapter := newScriptedAdapter()
	p := newPool(adapter, nil)
	if _, err := p.fetch(Node{Host: "a", Port: 6379, Name: "a:6379"}); err != nil {
		t.Fatal(err)
	}

	p.closeAll()
	if len(p.stats()) != 0 {
		t.Error("closeAll must drain every connection")
	}
	p.closeAll() // must not panic on an already-empty pool
}

func TestPoolFetchPropagatesOpenError(t *testing.T) {
	adapter := newScriptedAdapter()
	adapter.openErrors["a:6379"] = 1
	p := newPool(adapter, nil)

	if _, err := p.fetch(Node{Host: "a", Port: 6379, Name: "a:6379"}); err == nil {
		t.Fatal("expected the dial error to propagate")
	}
	if len(p.stats()) != 0 {
		t.Error("a failed dial must not leave an entry in the pool")
	}

	// the node is not marked permanently bad: a later fetch dials again
	// and succeeds once the scripted error is exhausted.
	if _, err := p.fetch(Node{Host: "a", Port: 6379, Name: "a:6379"}); err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
}
