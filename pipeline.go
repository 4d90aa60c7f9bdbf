package rcluster

import (
	"fmt"

	"github.com/valyala/bytebufferpool"
)

// Pipeline is the disposable accumulator handed to a Pipelined or Multi
// scope. It mimics the client's command surface but, instead of
// dispatching immediately, appends each call to an ordered batch that
// the router later sends as a single unit.
type Pipeline struct {
	cmds []Command
	// trace is a pooled scratch buffer used only to build the Debugf
	// summary of the accumulated batch; it never leaves this Pipeline.
	trace *bytebufferpool.ByteBuffer
}

func newPipeline() *Pipeline {
	return &Pipeline{trace: bytebufferpool.Get()}
}

func (p *Pipeline) release() {
	bytebufferpool.Put(p.trace)
	p.trace = nil
}

// Command appends name(args...) to the batch. It never dispatches
// anything by itself.
func (p *Pipeline) Command(name string, args ...interface{}) {
	p.cmds = append(p.cmds, Command{Name: name, Args: args})
	fmt.Fprintf(p.trace, "%s %v; ", name, args)
}

func (p *Pipeline) summary() string {
	return p.trace.String()
}

// slotForBatch derives the single slot every command in cmds must route
// to: it collects every key across every command via the adapter,
// deduplicates, maps each to a slot, and deduplicates again. The batch
// is routable iff exactly one distinct slot remains; an empty key set is
// rejected the same way a multi-slot batch is.
func slotForBatch(adapter Adapter, cmds []Command) (int, error) {
	seenKeys := make(map[string]struct{})
	seenSlots := make(map[int]struct{})

	for _, cmd := range cmds {
		for _, k := range adapter.KeysOf(cmd) {
			if _, ok := seenKeys[k]; ok {
				continue
			}
			seenKeys[k] = struct{}{}
			seenSlots[Slot(k)] = struct{}{}
		}
	}

	if len(seenSlots) != 1 {
		return 0, errNoWayToDispatch
	}
	for slot := range seenSlots {
		return slot, nil
	}
	panic("unreachable")
}
