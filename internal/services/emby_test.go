package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/embysync/internal/shared"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *EmbyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewEmbyClient(EmbyOptions{Name: "test", URL: srv.URL, APIKey: "k3y", Timeout: 5 * time.Second})
}

func TestEmbyClientUsers(t *testing.T) {
	t.Run("Should send api key and decode users", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/Users", r.URL.Path)
			assert.Equal(t, "k3y", r.URL.Query().Get("api_key"))
			io.WriteString(w, `[{"Id":"u1","Name":"alice","ConnectUserName":"alice@example.com","Policy":{"IsAdministrator":true}}]`)
		})

		users, err := client.Users(context.Background())

		require.NoError(t, err)
		require.Len(t, users, 1)
		info := users[0].Info()
		assert.Equal(t, "u1", info.ID)
		assert.Equal(t, "alice@example.com", info.ConnectID)
		assert.True(t, info.IsAdmin)
	})

	t.Run("Should wrap server errors with status and body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, "Access token is invalid or expired.")
		})

		_, err := client.Users(context.Background())

		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrServerResponse))
		assert.Contains(t, err.Error(), "Error from Server: 401")
		assert.Contains(t, err.Error(), "Access token is invalid or expired.")
	})

	t.Run("Should wrap malformed bodies", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"not": "a list"`)
		})

		_, err := client.Users(context.Background())

		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInvalidResponse))
		assert.Contains(t, err.Error(), "Invalid Response from Server: ")
		assert.Contains(t, err.Error(), `- {"not": "a list"`)
	})

	t.Run("Should report connection failures", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		client := NewEmbyClient(EmbyOptions{URL: url, Timeout: time.Second})
		err := client.TestServer(context.Background())

		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrAPIRequest))
	})
}

func TestEmbyClientItems(t *testing.T) {
	t.Run("Should request played items with filters", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "/Users/u1/Items", r.URL.Path)
			assert.Equal(t, "IsPlayed", q.Get("Filters"))
			assert.Equal(t, "Movie,Episode", q.Get("IncludeItemTypes"))
			assert.Equal(t, "SortName", q.Get("SortBy"))
			assert.Equal(t, "Ascending", q.Get("SortOrder"))
			assert.Equal(t, "True", q.Get("Recursive"))
			io.WriteString(w, `{"Items":[{"Id":"i1","Name":"Movie X","Type":"Movie","ProviderIds":{"Imdb":"tt1"},
				"UserData":{"Played":true,"PlaybackPositionTicks":50000,"LastPlayedDate":"2024-01-01T00:00:00.0000000Z"}}],"TotalRecordCount":1}`)
		})

		items, err := client.PlayedItems(context.Background(), "u1", ItemQuery{IncludeItemTypes: "Movie,Episode"})

		require.NoError(t, err)
		require.Len(t, items, 1)
		state := items[0].State()
		assert.True(t, state.Played)
		assert.Equal(t, uint64(50000), state.PlaybackPositionTicks)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), state.LastPlayed)
		assert.Equal(t, "tt1", items[0].ProviderIDs["Imdb"])
	})

	t.Run("Should load a single item", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/Users/u1/Items/i9", r.URL.Path)
			io.WriteString(w, `{"Id":"i9","Name":"Pilot","Type":"Episode","SeriesName":"Show","SeasonName":"Season 1","IndexNumber":1,
				"ExternalUrls":[{"Name":"IMDb","Url":"https://imdb.com/title/tt2"}]}`)
		})

		item, err := client.Item(context.Background(), "u1", "i9")

		require.NoError(t, err)
		assert.Equal(t, "Pilot", item.Name)
		assert.Equal(t, "Show", item.Fields().SeriesName)
		require.Len(t, item.ExternalURLs, 1)
		assert.Equal(t, "https://imdb.com/title/tt2", item.ExternalURLs[0].URL)
		assert.False(t, item.State().Played)
	})

	t.Run("Should search by provider IDs", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/Items", r.URL.Path)
			assert.Equal(t, "imdb.tt1,tmdb.42", r.URL.Query().Get("AnyProviderIdEquals"))
			assert.Empty(t, r.URL.Query().Get("Filters"))
			io.WriteString(w, `{"Items":[{"Id":"r7"},{"Id":"r8"}]}`)
		})

		items, err := client.FindByProviderIDs(context.Background(), "imdb.tt1,tmdb.42", ItemQuery{})

		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "r7", items[0].ID)
	})
}

func TestEmbyClientWrites(t *testing.T) {
	t.Run("Should post user data", func(t *testing.T) {
		var got map[string]any
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/Users/u1/Items/i1/UserData", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		})

		err := client.UpdateUserData(context.Background(), "u1", "i1", []byte(`{"Played":true,"LastPlayedDate":null}`))

		require.NoError(t, err)
		assert.Equal(t, true, got["Played"])
		assert.Contains(t, got, "LastPlayedDate")
	})

	t.Run("Should toggle favorites by method", func(t *testing.T) {
		var methods []string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/Users/u1/FavoriteItems/i1", r.URL.Path)
			methods = append(methods, r.Method)
		})

		require.NoError(t, client.SetFavorite(context.Background(), "u1", "i1", true))
		require.NoError(t, client.SetFavorite(context.Background(), "u1", "i1", false))

		assert.Equal(t, []string{http.MethodPost, http.MethodDelete}, methods)
	})

	t.Run("Should create collections", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/Collections", r.URL.Path)
			assert.Equal(t, "Favourites", r.URL.Query().Get("Name"))
			assert.Equal(t, "a,b,c", r.URL.Query().Get("Ids"))
			io.WriteString(w, `{"Id":"col1"}`)
		})

		id, err := client.CreateCollection(context.Background(), "Favourites", []string{"a", "b", "c"})

		require.NoError(t, err)
		assert.Equal(t, "col1", id)
	})
}

func TestEmbyClientRetry(t *testing.T) {
	t.Run("Should retry on 503", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			io.WriteString(w, `[]`)
		}))
		defer srv.Close()

		client := NewEmbyClient(EmbyOptions{URL: srv.URL, Retries: 2, Timeout: 5 * time.Second})
		users, err := client.Users(context.Background())

		require.NoError(t, err)
		assert.Empty(t, users)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("Should report timeouts", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		client := NewEmbyClient(EmbyOptions{URL: srv.URL, Timeout: 20 * time.Millisecond})
		_, err := client.Users(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrAPIRequest)
		assert.ErrorIs(t, err, shared.ErrTimeout)
	})
}

func TestEmbyClientHelpers(t *testing.T) {
	client := NewEmbyClient(EmbyOptions{URL: "emby.local:8096/", APIKey: "k3y"})

	assert.Equal(t, "http://emby.local:8096", client.BaseURL())
	assert.Equal(t, "emby.local:8096", client.Name())

	req := client.Describe(http.MethodPost, UserDataPath("u 1", "i1"), []byte(`{}`))
	assert.Equal(t, "http://emby.local:8096/Users/u%201/Items/i1/UserData?api_key=k3y", req.URL)
	assert.Equal(t, "application/json", req.Headers["Content-Type"])

	assert.Equal(t, http.MethodDelete, FavoriteMethod(false))
	assert.Equal(t, "/Users/u1/FavoriteItems/i1", FavoritePath("u1", "i1"))
}
