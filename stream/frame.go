package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// GlobalTopic is the reserved topic receiving a copy of every broadcast
	GlobalTopic = "global"
	// EventDashboard is the event name signaling dashboard aggregates changed
	EventDashboard = "dashboard"
	// EventHeartbeat is the event name of the liveness frame
	EventHeartbeat = "heartbeat"
	// ScopeField is the field annotating frames delivered through the global topic
	ScopeField = "scope"
	// ScopeGlobal is the value of ScopeField on the global topic
	ScopeGlobal = "global"
	// GroupIDField is the field identifying the group whose data changed
	GroupIDField = "groupId"
)

// openFrame is the comment frame written on subscribe to flush intermediary buffering
var openFrame = []byte(":ok\n\n")

// Event is one invalidation signal
type Event struct {
	// Name is the SSE event name
	Name string `json:"name" validate:"required"`
	// Data is the JSON body of the event
	Data map[string]interface{} `json:"data,omitempty"`
}

// NewDashboardEvent define a dashboard invalidation event for a group
func NewDashboardEvent(groupID int64, extra map[string]interface{}) Event {
	data := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		data[k] = v
	}
	data[GroupIDField] = groupID
	return Event{Name: EventDashboard, Data: data}
}

// String toString for Event
func (e Event) String() string {
	return fmt.Sprintf("EVENT[%s](%d fields)", e.Name, len(e.Data))
}

// globalCopy returns a copy of the event annotated with the global scope
func (e Event) globalCopy() Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[ScopeField] = ScopeGlobal
	return Event{Name: e.Name, Data: data}
}

// encode serialize the event as one SSE frame
func (e Event) encode() ([]byte, error) {
	if e.Data == nil {
		return FormatFrame(e.Name, []byte("{}")), nil
	}
	body, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return FormatFrame(e.Name, body), nil
}

// FormatFrame builds "event: <name>\ndata: <data>\n\n". Multi-line data is split
// across several data lines, as required by the event stream format.
func FormatFrame(name string, data []byte) []byte {
	var buf bytes.Buffer
	if name != "" {
		buf.WriteString("event: ")
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	normalized := strings.ReplaceAll(string(data), "\r\n", "\n")
	for _, line := range strings.Split(normalized, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// heartbeatFrame builds the liveness frame carrying a unix millisecond timestamp
func heartbeatFrame(ts time.Time) []byte {
	return FormatFrame(EventHeartbeat, []byte(strconv.FormatInt(ts.UnixMilli(), 10)))
}
