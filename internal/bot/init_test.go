package bot

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_RequiresToken(t *testing.T) {
	_, err := Init("", time.Second, zap.NewNop())
	assert.Error(t, err)
}

func TestInit_HungAPIHonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	api, err := initWithEndpoint("123:abc", srv.URL+"/bot%s/%s", 100*time.Millisecond, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, api)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPollClientTimeoutExceedsLongPoll(t *testing.T) {
	assert.Greater(t, PollClientTimeout, longPollSeconds*time.Second)
}
