// package services defines the MediaServer interface used to talk to Emby-compatible servers
package services

import (
	"context"

	"github.com/desertthunder/embysync/internal/models"
)

// MediaServer is the set of remote operations the sync engine needs from one server.
type MediaServer interface {
	// Name returns the friendly name used in logs and messages.
	Name() string

	// TestServer checks connectivity and the API key by listing users.
	TestServer(ctx context.Context) error

	// Users lists every user on the server.
	Users(ctx context.Context) ([]User, error)

	// PlayedItems lists the items userID has played, restricted to q.
	PlayedItems(ctx context.Context, userID string, q ItemQuery) ([]Item, error)

	// Item loads one item with the user's data attached.
	Item(ctx context.Context, userID, itemID string) (*Item, error)

	// FindByProviderIDs searches the whole library for items matching any provider ID in list.
	FindByProviderIDs(ctx context.Context, list string, q ItemQuery) ([]Item, error)

	// UpdateUserData replaces the user data for an item with body.
	UpdateUserData(ctx context.Context, userID, itemID string, body []byte) error

	// SetFavorite marks or unmarks an item as favorite.
	SetFavorite(ctx context.Context, userID, itemID string, favorite bool) error

	// CreateCollection creates a collection named name containing ids and returns its ID.
	CreateCollection(ctx context.Context, name string, ids []string) (string, error)
}

// ItemQuery narrows item listings.
type ItemQuery struct {
	IncludeItemTypes string
}

// User is the subset of an Emby user used for pairing.
type User struct {
	ID              string     `json:"Id"`
	Name            string     `json:"Name"`
	ConnectUserName string     `json:"ConnectUserName"`
	Policy          UserPolicy `json:"Policy"`
}

// UserPolicy holds the user's permission flags.
type UserPolicy struct {
	IsAdministrator bool `json:"IsAdministrator"`
}

// Info converts the user to its model form.
func (u User) Info() models.UserInfo {
	return models.UserInfo{
		ID:        u.ID,
		Name:      u.Name,
		ConnectID: u.ConnectUserName,
		IsAdmin:   u.Policy.IsAdministrator,
	}
}

// Item is the subset of an Emby item used for syncing.
type Item struct {
	ID           string            `json:"Id"`
	Name         string            `json:"Name"`
	Type         string            `json:"Type"`
	SeriesName   string            `json:"SeriesName"`
	SeasonName   string            `json:"SeasonName"`
	EpisodeTitle string            `json:"EpisodeTitle"`
	IndexNumber  int               `json:"IndexNumber"`
	ProviderIDs  map[string]string `json:"ProviderIds"`
	ExternalURLs []ExternalURL     `json:"ExternalUrls"`
	UserData     *UserData         `json:"UserData"`
}

// ExternalURL is a named link to an external database entry.
type ExternalURL struct {
	Name string `json:"Name"`
	URL  string `json:"Url"`
}

// UserData is a user's state for an item as reported by the server.
type UserData struct {
	IsFavorite            bool   `json:"IsFavorite"`
	Played                bool   `json:"Played"`
	PlayCount             int64  `json:"PlayCount"`
	PlaybackPositionTicks int64  `json:"PlaybackPositionTicks"`
	LastPlayedDate        string `json:"LastPlayedDate"`
}

// Fields returns the attributes used to compute the item's display name.
func (i Item) Fields() models.MediaFields {
	return models.MediaFields{
		Name:         i.Name,
		Type:         i.Type,
		SeriesName:   i.SeriesName,
		SeasonName:   i.SeasonName,
		EpisodeTitle: i.EpisodeTitle,
		IndexNumber:  i.IndexNumber,
	}
}

// State converts the item's user data. Items without user data yield the zero state.
func (i Item) State() models.UserState {
	if i.UserData == nil {
		return models.UserState{}
	}

	var ticks uint64
	if i.UserData.PlaybackPositionTicks > 0 {
		ticks = uint64(i.UserData.PlaybackPositionTicks)
	}

	return models.UserState{
		IsFavorite:            i.UserData.IsFavorite,
		Played:                i.UserData.Played,
		PlayCount:             i.UserData.PlayCount,
		PlaybackPositionTicks: ticks,
		LastPlayed:            models.ParseLastPlayed(i.UserData.LastPlayedDate),
	}
}
