package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatFrame(t *testing.T) {
	assert := assert.New(t)

	// Case 0: single line
	assert.Equal("event: dashboard\ndata: {\"groupId\":1}\n\n", string(FormatFrame(
		"dashboard", []byte(`{"groupId":1}`),
	)))

	// Case 1: multi-line data
	assert.Equal("event: note\ndata: a\ndata: b\ndata: c\n\n", string(FormatFrame(
		"note", []byte("a\nb\r\nc"),
	)))

	// Case 2: no event name
	assert.Equal("data: x\n\n", string(FormatFrame("", []byte("x"))))

	// Case 3: heartbeat
	ts := time.UnixMilli(1700000000123)
	assert.Equal("event: heartbeat\ndata: 1700000000123\n\n", string(heartbeatFrame(ts)))
}

func TestEventEncoding(t *testing.T) {
	assert := assert.New(t)

	// Case 0: dashboard event
	{
		event := NewDashboardEvent(42, map[string]interface{}{"kind": "update"})
		assert.Equal(EventDashboard, event.Name)
		frame, err := event.encode()
		assert.Nil(err)
		name, body := parseFrame(t, string(frame))
		assert.Equal(EventDashboard, name)
		var data map[string]interface{}
		assert.Nil(json.Unmarshal([]byte(body), &data))
		assert.EqualValues(map[string]interface{}{"groupId": 42.0, "kind": "update"}, data)
	}

	// Case 1: global copy does not alter the original
	{
		event := NewDashboardEvent(7, nil)
		global := event.globalCopy()
		assert.Equal(ScopeGlobal, global.Data[ScopeField])
		_, ok := event.Data[ScopeField]
		assert.False(ok)
	}

	// Case 2: nil data
	{
		frame, err := Event{Name: "ping"}.encode()
		assert.Nil(err)
		assert.Equal("event: ping\ndata: {}\n\n", string(frame))
	}

	// Case 3: unserializable data
	{
		_, err := Event{Name: "bad", Data: map[string]interface{}{"ch": make(chan int)}}.encode()
		assert.NotNil(err)
	}
}
