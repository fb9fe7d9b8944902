//go:build acceptance

package web_test

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/fundme/migrator/migratortest"
	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/roster/store/pgxstore"
	"github.com/screwyprof/fundme/web"
	"github.com/screwyprof/fundme/web/api"
	"github.com/screwyprof/fundme/web/testcfg"
)

// TestWarmStartAcceptance serves an archived roster before any handle is bound
func TestWarmStartAcceptance(t *testing.T) {
	t.Parallel()

	t.Run("it serves the archived roster while no contract is bound", func(t *testing.T) {
		t.Parallel()

		// Arrange
		archived := roster.Snapshot{
			Contract:     contractAddr,
			Contributors: []roster.Contributor{{Address: funderA, Amount: big.NewInt(25e16)}},
			FetchedAt:    fetchedAt,
		}
		db := migratortest.CreateSeededTestDatabase(t, archived)
		store, closer := pgxstore.New(db)
		t.Cleanup(closer)

		svc := roster.NewService(func() (roster.Reader, bool) { return nil, false },
			roster.WithArchive(store, contractAddr),
			roster.WithPollInterval(time.Hour),
		)
		server := startArchivedServer(t, svc)

		// Act
		var got api.FundersResponse
		require.Eventually(t, func() bool {
			resp := doRequest(t, http.MethodGet, server.URL+"/funders", "")
			got = parseJSONResponse[api.FundersResponse](t, resp)
			return got.Error != ""
		}, 5*time.Second, 20*time.Millisecond)

		// Assert
		assert.True(t, got.Restored)
		assert.Equal(t, contractAddr.Hex(), got.Contract)
		require.Len(t, got.Data, 1)
		assert.Equal(t, "0.25", got.Data[0].Ether)
		assert.Equal(t, roster.ErrNoContract.Error(), got.Error)
	})
}

func startArchivedServer(t *testing.T, svc *roster.Service) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	events, done := svc.Start(ctx)
	closer := roster.NewSubscriber(events)
	t.Cleanup(func() {
		cancel()
		<-done
		closer()
	})

	h := web.NewHandler(testcfg.New().Logger(), web.Deps{
		Session: &fakeSession{},
		Roster:  svc,
		Actions: &fakeTracker{},
		Notices: &fakeNotices{},
	})
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return server
}
