package rcluster

import (
	"errors"
	"testing"
)

func TestSlotForBatchSingleSlot(t *testing.T) {
	cmds := []Command{
		{Name: "SET", Args: []interface{}{"{tag}a", "1"}},
		{Name: "SET", Args: []interface{}{"{tag}b", "2"}},
	}
	slot, err := slotForBatch(redisAdapter{}, cmds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot != Slot("{tag}a") {
		t.Errorf("got slot %d, want %d", slot, Slot("{tag}a"))
	}
}

func TestSlotForBatchMultiSlotRejected(t *testing.T) {
	cmds := []Command{
		{Name: "SET", Args: []interface{}{"a", "1"}},
		{Name: "SET", Args: []interface{}{"b", "2"}},
	}
	_, err := slotForBatch(redisAdapter{}, cmds)
	if !errors.Is(err, errNoWayToDispatch) {
		t.Fatalf("expected errNoWayToDispatch, got %v", err)
	}
}

func TestSlotForBatchNoKeysRejected(t *testing.T) {
	cmds := []Command{{Name: "PING"}}
	_, err := slotForBatch(redisAdapter{}, cmds)
	if !errors.Is(err, errNoWayToDispatch) {
		t.Fatalf("expected errNoWayToDispatch, got %v", err)
	}
}

func TestPipelineCommandAccumulates(t *testing.T) {
	p := newPipeline()
	defer p.release()

	p.Command("SET", "a", "1")
	p.Command("GET", "a")

	if len(p.cmds) != 2 {
		t.Fatalf("expected 2 accumulated commands, got %d", len(p.cmds))
	}
	if p.summary() == "" {
		t.Error("summary should describe the accumulated batch")
	}
}
