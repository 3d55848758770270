package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to a writer, either as human-readable text or as
// one JSON object per line (JSONL).
//
// Text mode:
//
//	[node_end] conv=c-81f2 turn=MSG123 stage=greeting node=greeting
//
// JSON mode:
//
//	{"conversation_id":"c-81f2","turn_id":"MSG123","stage":"greeting","node":"greeting","msg":"node_end","meta":null}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer.
// A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes the event in the configured format.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		ConversationID string                 `json:"conversation_id"`
		TurnID         string                 `json:"turn_id"`
		Stage          string                 `json:"stage"`
		Node           string                 `json:"node"`
		Msg            string                 `json:"msg"`
		Meta           map[string]interface{} `json:"meta"`
	}{
		ConversationID: event.ConversationID,
		TurnID:         event.TurnID,
		Stage:          event.Stage,
		Node:           event.Node,
		Msg:            event.Msg,
		Meta:           event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] conv=%s turn=%s stage=%s node=%s",
		event.Msg, event.ConversationID, event.TurnID, event.Stage, event.Node)
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
