package stream

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/fundstream/core"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLocalPublisher(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	registry, wg, cancel := defineTestRegistry(t, time.Hour)
	defer wg.Wait()
	defer cancel()
	defer registry.Close()

	uut, err := GetLocalPublisher(registry, "unit-test")
	assert.Nil(err)

	conn := newRecordingConn(-1)
	_, err = registry.Subscribe("21", conn)
	assert.Nil(err)

	// Case 0: invalid broadcast
	{
		assert.NotNil(uut.Publish(context.Background(), "", NewDashboardEvent(21, nil)))
		assert.NotNil(uut.Publish(context.Background(), "21", Event{}))
		assert.Empty(conn.receivedEvents(t, EventDashboard))
	}

	// Case 1: delivered straight to the registry
	{
		assert.Nil(uut.Publish(context.Background(), "21", NewDashboardEvent(21, nil)))
		events := conn.receivedEvents(t, EventDashboard)
		assert.Len(events, 1)
		assert.EqualValues(map[string]interface{}{"groupId": 21.0}, decodeBody(t, events[0]))
	}
}

func TestNATSRelay(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	natsURI := os.Getenv("UNITTEST_NATS_URI")
	if natsURI == "" {
		t.Skip("UNITTEST_NATS_URI not set")
	}

	natsClient, err := core.GetNATSClient(core.NATSConnectParams{
		ServerURI:           natsURI,
		ConnectTimeout:      time.Second * 2,
		MaxReconnectAttempt: 0,
		ReconnectWait:       time.Second,
	})
	assert.Nil(err)
	defer natsClient.Close()

	subject := fmt.Sprintf("ut.relay.%s", uuid.New().String())

	// Instance A only publishes, instance B relays into its registry
	registryB, wgB, cancelB := defineTestRegistry(t, time.Hour)
	defer wgB.Wait()
	defer cancelB()
	defer registryB.Close()

	rxCtxt, rxCancel := context.WithCancel(context.Background())
	receiverB, err := GetRelayReceiver(rxCtxt, natsClient, subject, registryB)
	assert.Nil(err)
	rxWG := sync.WaitGroup{}
	defer rxWG.Wait()
	defer rxCancel()
	assert.Nil(receiverB.Start(&rxWG))
	assert.NotNil(receiverB.Start(&rxWG))

	connB := newRecordingConn(-1)
	_, err = registryB.Subscribe("31", connB)
	assert.Nil(err)
	globalB := newRecordingConn(-1)
	_, err = registryB.Subscribe(GlobalTopic, globalB)
	assert.Nil(err)

	uut, err := GetNATSPublisher(natsClient, subject, "instance-a")
	assert.Nil(err)

	// Case 0: invalid broadcast is never sent
	{
		assert.NotNil(uut.Publish(context.Background(), "31", Event{}))
	}

	// Case 1: broadcast reaches the other instance's subscribers
	{
		assert.Nil(uut.Publish(context.Background(), "31", NewDashboardEvent(31, nil)))
		assert.Nil(natsClient.NATs().Flush())
		assert.Eventually(func() bool {
			return len(connB.receivedEvents(t, EventDashboard)) == 1 &&
				len(globalB.receivedEvents(t, EventDashboard)) == 1
		}, time.Second*2, time.Millisecond*20)
		events := globalB.receivedEvents(t, EventDashboard)
		assert.EqualValues(
			map[string]interface{}{"groupId": 31.0, "scope": "global"}, decodeBody(t, events[0]),
		)
	}
}

func TestPublisherParameters(t *testing.T) {
	assert := assert.New(t)

	_, err := GetNATSPublisher(nil, "", "unit-test")
	assert.NotNil(err)
	_, err = GetRelayReceiver(context.Background(), nil, "", nil)
	assert.NotNil(err)
}
