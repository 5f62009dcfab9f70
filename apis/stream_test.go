package apis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/fundstream/stream"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

// openStream start an event stream request against a live test server
func openStream(
	t *testing.T, ctxt context.Context, url string, cookies ...*http.Cookie,
) *http.Response {
	req, err := http.NewRequestWithContext(ctxt, "GET", url, nil)
	assert.Nil(t, err)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := http.DefaultClient.Do(req)
	assert.Nil(t, err)
	return resp
}

// readFrame read one blank line terminated frame
func readFrame(t *testing.T, reader *bufio.Reader) string {
	var frame strings.Builder
	for {
		line, err := reader.ReadString('\n')
		assert.Nil(t, err)
		if err != nil {
			return frame.String()
		}
		frame.WriteString(line)
		if line == "\n" {
			return frame.String()
		}
	}
}

func TestStreamSubscribe(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	th := defineTestHarness(t)
	defer th.stop()
	server := httptest.NewServer(th.router)
	defer server.Close()

	issued := th.login(t, "student@test.com")

	// Case 0: group topic
	{
		ctxt, cancel := context.WithCancel(context.Background())
		resp := openStream(t, ctxt, server.URL+"/stream/42", th.accessCookie(issued))
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.Equal("text/event-stream", resp.Header.Get("Content-Type"))
		assert.Equal("no-cache", resp.Header.Get("Cache-Control"))
		reader := bufio.NewReader(resp.Body)
		assert.Equal(":ok\n\n", readFrame(t, reader))
		assert.Eventually(func() bool {
			return th.registry.SubscriberCount("42") == 1
		}, time.Second, time.Millisecond*10)

		th.registry.Broadcast("7", stream.NewDashboardEvent(7, nil))
		th.registry.Broadcast("42", stream.NewDashboardEvent(42, map[string]interface{}{
			"kind": "update",
		}))
		assert.Equal(
			"event: dashboard\ndata: {\"groupId\":42,\"kind\":\"update\"}\n\n", readFrame(t, reader),
		)

		// Client leaves
		cancel()
		resp.Body.Close()
		assert.Eventually(func() bool {
			return th.registry.SubscriberCount("42") == 0
		}, time.Second, time.Millisecond*10)
	}

	// Case 1: global topic
	{
		ctxt, cancel := context.WithCancel(context.Background())
		resp := openStream(t, ctxt, server.URL+"/stream/global", th.accessCookie(issued))
		assert.Equal(http.StatusOK, resp.StatusCode)
		reader := bufio.NewReader(resp.Body)
		assert.Equal(":ok\n\n", readFrame(t, reader))
		assert.Eventually(func() bool {
			return th.registry.SubscriberCount(stream.GlobalTopic) == 1
		}, time.Second, time.Millisecond*10)

		th.registry.Broadcast("7", stream.NewDashboardEvent(7, nil))
		frame := readFrame(t, reader)
		assert.True(strings.HasPrefix(frame, "event: dashboard\ndata: "), frame)
		var body map[string]interface{}
		assert.Nil(json.Unmarshal(
			[]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "event: dashboard\ndata: "), "\n\n")),
			&body,
		))
		assert.EqualValues(map[string]interface{}{"groupId": 7.0, "scope": "global"}, body)

		cancel()
		resp.Body.Close()
		assert.Eventually(func() bool {
			return th.registry.SubscriberCount(stream.GlobalTopic) == 0
		}, time.Second, time.Millisecond*10)
	}

	// Case 2: invalid topic
	{
		resp := openStream(
			t, context.Background(), server.URL+"/stream/not-a-topic", th.accessCookie(issued),
		)
		assert.Equal(http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
		assert.Empty(th.registry.Topics())
	}

	// Case 3: registry no longer accepting subscriptions
	{
		th.registry.Close()
		req, err := http.NewRequest("GET", "/stream/42", nil)
		assert.Nil(err)
		req.AddCookie(th.accessCookie(issued))
		req.Header.Set(testRequestIDHeader, "stream-closed")
		respRecorder := httptest.NewRecorder()
		th.router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusServiceUnavailable, respRecorder.Code)
		assert.Equal("application/json", respRecorder.Header().Get("Content-Type"))
		var body ErrorResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &body))
		assert.Equal("stream unavailable", body.Error)
		assert.Equal("stream-closed", body.RequestID)
		assert.Empty(th.registry.Topics())
	}
}

func TestStreamAdmission(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	th := defineTestHarness(t)
	defer th.stop()

	subscribe := func(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
		req, err := http.NewRequest("GET", path, nil)
		assert.Nil(err)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		respRecorder := httptest.NewRecorder()
		th.router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	issued := th.login(t, "x@test.com")

	// Case 0: no session
	{
		for _, path := range []string{"/stream/7", "/stream/global"} {
			resp := subscribe(path)
			assert.Equal(http.StatusUnauthorized, resp.Code, path)
			var body ErrorResponse
			assert.Nil(json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Equal("unauthenticated", body.Error)
			assert.NotEqual("text/event-stream", resp.Header().Get("Content-Type"))
		}
	}

	// Case 1: expired access token with a valid refresh token
	{
		th.clock.Advance(time.Minute * 16)
		for _, path := range []string{"/stream/7", "/stream/global"} {
			resp := subscribe(path, th.accessCookie(issued), th.refreshCookie(issued))
			assert.Equal(http.StatusUnauthorized, resp.Code, path)
			assert.Empty(resp.Result().Cookies())
		}
		assert.Empty(th.registry.Topics())
	}
}

func TestStreamNotify(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	th := defineTestHarness(t)
	defer th.stop()

	listener := newListener()
	_, err := th.registry.Subscribe("7", listener)
	assert.Nil(err)

	notify := func(path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
		req, err := http.NewRequest("POST", path, bytes.NewBufferString(body))
		assert.Nil(err)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		respRecorder := httptest.NewRecorder()
		th.router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	mentor := th.login(t, "mentor@test.com")
	student := th.login(t, "student@test.com")

	// Case 0: role gating
	{
		resp := notify("/stream/7/notify", `{}`, nil)
		assert.Equal(http.StatusUnauthorized, resp.Code)
		resp = notify("/stream/7/notify", `{}`, th.accessCookie(student))
		assert.Equal(http.StatusForbidden, resp.Code)
		assert.Empty(listener.dashboardFrames())
	}

	// Case 1: mentor broadcast, scope cannot be forged
	{
		resp := notify(
			"/stream/7/notify", `{"kind":"update","scope":"global","groupId":99}`,
			th.accessCookie(mentor),
		)
		assert.Equal(http.StatusOK, resp.Code)
		frames := listener.dashboardFrames()
		assert.Len(frames, 1)
		assert.Equal("event: dashboard\ndata: {\"groupId\":7,\"kind\":\"update\"}\n\n", frames[0])
	}

	// Case 2: empty body
	{
		resp := notify("/stream/7/notify", ``, th.accessCookie(mentor))
		assert.Equal(http.StatusOK, resp.Code)
		assert.Len(listener.dashboardFrames(), 2)
	}

	// Case 3: bad parameters
	{
		resp := notify("/stream/abc/notify", `{}`, th.accessCookie(mentor))
		assert.Equal(http.StatusBadRequest, resp.Code)
		resp = notify("/stream/global/notify", `{}`, th.accessCookie(mentor))
		assert.Equal(http.StatusBadRequest, resp.Code)
		resp = notify("/stream/7/notify", `[1, 2`, th.accessCookie(mentor))
		assert.Equal(http.StatusBadRequest, resp.Code)
		assert.Len(listener.dashboardFrames(), 2)
	}

	// Case 4: leading zeros name the same group
	{
		resp := notify("/stream/007/notify", `{}`, th.accessCookie(mentor))
		assert.Equal(http.StatusOK, resp.Code)
		frames := listener.dashboardFrames()
		assert.Len(frames, 3)
		assert.Equal("event: dashboard\ndata: {\"groupId\":7}\n\n", frames[2])
		assert.Equal(0, th.registry.SubscriberCount("007"))
		assert.NotContains(th.registry.Topics(), "007")
	}
}

// listener is an in memory stream.Connection
type listener struct {
	lock      sync.Mutex
	frames    []string
	done      chan struct{}
	closeOnce sync.Once
}

func newListener() *listener {
	return &listener{done: make(chan struct{})}
}

func (l *listener) WriteFrame(frame []byte) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.frames = append(l.frames, string(frame))
	return nil
}

func (l *listener) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *listener) Done() <-chan struct{} {
	return l.done
}

// dashboardFrames the dashboard frames written so far
func (l *listener) dashboardFrames() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	result := []string{}
	for _, frame := range l.frames {
		if strings.HasPrefix(frame, "event: dashboard") {
			result = append(result, frame)
		}
	}
	return result
}
