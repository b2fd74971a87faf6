package mcstatus_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/spacewake/internal/adapter/driven/mcstatus"
	"github.com/ericfisherdev/spacewake/internal/domain/model"
)

func newChecker(t *testing.T, handler http.HandlerFunc) *mcstatus.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return mcstatus.NewClient(srv.Client(), srv.URL+"/v2")
}

func TestCheck_Online(t *testing.T) {
	var path string
	c := newChecker(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, `{
			"online": true,
			"host": "play.example",
			"port": 25565,
			"players": {"online": 3, "max": 20},
			"version": {"name_clean": "1.21.1"},
			"motd": {"clean": "Welcome"},
			"icon": "data:image/png;base64,AAAA"
		}`)
	})

	got, err := c.Check(context.Background(), "play.example")
	require.NoError(t, err)

	assert.Equal(t, "/v2/status/java/play.example:25565", path, "default port appended")

	want := &model.GameServerStatus{
		Address:       "play.example:25565",
		Online:        true,
		PlayersOnline: 3,
		PlayersMax:    20,
		Version:       "1.21.1",
		MOTD:          "Welcome",
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.GameServerStatus{}, "LatencyMS", "IconURL")); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, got.IconURL, "/v2/icon/play.example:25565")
}

func TestCheck_Offline(t *testing.T) {
	c := newChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"online": false, "host": "play.example", "port": 25566}`)
	})

	got, err := c.Check(context.Background(), "play.example:25566")

	require.NoError(t, err)
	assert.False(t, got.Online)
	assert.Equal(t, "play.example:25566", got.Address)
	assert.Zero(t, got.PlayersMax)
}

func TestCheck_UpstreamError(t *testing.T) {
	c := newChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Check(context.Background(), "play.example")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
