package apis

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/fundstream/metrics"
	"github.com/alwitt/fundstream/mocks"
	"github.com/alwitt/fundstream/session"
	"github.com/alwitt/fundstream/stream"
	"github.com/alwitt/fundstream/users"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const testRequestIDHeader = "Fundstream-Request-ID"

// testClock is a manually advanced clock
type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

var testPrincipals = map[string]users.Principal{
	"x@test.com": {
		ID: "u-1", Username: "alice", Email: "x@test.com", DisplayName: "Alice",
		Role: "admin", SecretHash: "right",
	},
	"mentor@test.com": {
		ID: "u-2", Username: "bob", Email: "mentor@test.com", Role: "mentor", SecretHash: "right",
	},
	"student@test.com": {
		ID: "u-3", Username: "carol", Email: "student@test.com", Role: "", SecretHash: "right",
	},
}

// testHarness is the API under test with its collaborators
type testHarness struct {
	clock     *testClock
	store     *mocks.PrincipalStore
	authority *session.Authority
	registry  stream.Registry
	router    *mux.Router
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
}

func (th *testHarness) stop() {
	th.registry.Close()
	th.cancel()
	th.wg.Wait()
}

// login open a session directly through the authority
func (th *testHarness) login(t *testing.T, email string) session.Issued {
	_, issued, err := th.authority.Login(context.Background(), session.LoginRequest{
		Method: users.MethodEmail, Identifier: email, Secret: "right",
	})
	assert.Nil(t, err)
	return issued
}

func (th *testHarness) accessCookie(issued session.Issued) *http.Cookie {
	return &http.Cookie{Name: th.authority.AccessCookieName(), Value: issued.Access.Value}
}

func (th *testHarness) refreshCookie(issued session.Issued) *http.Cookie {
	return &http.Cookie{Name: th.authority.RefreshCookieName(), Value: issued.Refresh.Value}
}

// defineTestHarness wire the handlers onto a router the same way the server does
func defineTestHarness(t *testing.T) *testHarness {
	clock := &testClock{now: time.Now().Truncate(time.Second)}
	store := new(mocks.PrincipalStore)
	for email, principal := range testPrincipals {
		store.On("FindByIdentifier", mock.Anything, users.MethodEmail, email).Return(principal, nil)
	}
	store.On("FindByIdentifier", mock.Anything, mock.Anything, mock.Anything).
		Return(users.Principal{}, users.ErrNotFound)

	collector := metrics.NewCollector()
	authority, err := session.NewAuthority(session.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute * 15,
		RefreshTTL:    time.Hour * 24 * 7,
		AccessCookie:  "accessToken",
		RefreshCookie: "refreshToken",
		Clock:         clock.Now,
	}, store, collector)
	assert.Nil(t, err)

	wg := &sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	registry, err := stream.GetRegistry(ctxt, "unit-test", time.Hour, collector, wg)
	assert.Nil(t, err)
	publisher, err := stream.GetLocalPublisher(registry, "unit-test")
	assert.Nil(t, err)

	httpConfig := &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: testRequestIDHeader,
			DoNotLogHeaders: []string{"Cookie"},
		},
	}
	sessionHandler, err := GetAPIRestSessionHandler(authority, store, httpConfig)
	assert.Nil(t, err)
	streamHandler, err := GetAPIRestStreamHandler(ctxt, registry, publisher, httpConfig)
	assert.Nil(t, err)

	router := mux.NewRouter()
	DefineRoutes(router, "/", sessionHandler, streamHandler)
	router.Use(sessionHandler.TrackRequest)

	return &testHarness{
		clock:     clock,
		store:     store,
		authority: authority,
		registry:  registry,
		router:    router,
		cancel:    cancel,
		wg:        wg,
	}
}
