package coordinator

import (
	"sync"

	"github.com/deskclaw/deskclaw/pkg/agent"
)

const (
	// relayChannelCap bounds the delta channel between the runtime and
	// the relay for one streaming turn.
	relayChannelCap = 64

	// textChunkSize is the character chunk used when retranslating a
	// complete final response, purely for perceived responsiveness.
	textChunkSize = 20
)

// relay consumes deltas from ch until it closes, translating each into
// zero or one UI event in strict arrival order. done is closed when the
// channel has been fully drained.
func relay(ch <-chan agent.Delta, sink EventSink, done chan<- struct{}) {
	defer close(done)

	clearSeen := false
	for d := range ch {
		switch d.Kind {
		case agent.DeltaClear:
			// Accumulated progress is obsolete; the final answer follows.
			clearSeen = true
		case agent.DeltaThinking:
			sink(thinkingEvent())
		case agent.DeltaToolStart:
			sink(toolStartEvent(d.Name, d.Args))
		case agent.DeltaToolResult:
			sink(toolEndEvent(d.Name, d.Output, d.OK))
		case agent.DeltaToolStatus, agent.DeltaToolCount:
			// Status-only and count markers are swallowed; the
			// authoritative outcome arrives as a tool result.
		case agent.DeltaText:
			if d.Text == "" {
				continue
			}
			if clearSeen {
				for _, chunk := range chunkText(d.Text, textChunkSize) {
					sink(textEvent(chunk))
				}
				clearSeen = false
			} else {
				sink(textEvent(d.Text))
			}
		}
	}
}

// chunkText splits s into fixed-size character chunks.
func chunkText(s string, size int) []string {
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// gatedSink forwards events to an underlying sink until closed. Closing
// the gate makes later emissions no-ops, so a forcibly-abandoned relay
// can never deliver events after the turn's terminal event.
type gatedSink struct {
	mu     sync.Mutex
	sink   EventSink
	closed bool
}

func newGatedSink(sink EventSink) *gatedSink {
	return &gatedSink{sink: sink}
}

func (g *gatedSink) emit(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.sink(ev)
}

// emitTerminal delivers ev and closes the gate in one step.
func (g *gatedSink) emitTerminal(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.sink(ev)
	g.closed = true
}
