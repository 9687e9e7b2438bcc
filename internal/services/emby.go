// Emby [MediaServer] implementation
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/embysync/internal/shared"
)

const (
	defaultTimeout  = 30 * time.Second
	listFields      = "ProviderIds,ExternalUrls"
	sortBy          = "SortName"
	sortOrder       = "Ascending"
	retryWait       = 500 * time.Millisecond
	retryMaxWait    = 2 * time.Second
	headerMediaType = "application/json"
)

// EmbyOptions configures an [EmbyClient].
type EmbyOptions struct {
	Name      string
	URL       string
	APIKey    string
	Timeout   time.Duration
	Retries   int
	RateLimit float64 // requests per second; <= 0 disables throttling
	Burst     int
	Transport http.RoundTripper
}

// OptionsFromConfig builds client options for one server. apiKey overrides the configured key.
func OptionsFromConfig(server shared.MediaServerConfig, client shared.ClientConfig, apiKey string) EmbyOptions {
	return EmbyOptions{
		Name:      server.FriendlyName(),
		URL:       server.URL,
		APIKey:    apiKey,
		Timeout:   client.Timeout(),
		Retries:   client.Retries,
		RateLimit: server.RateLimit,
		Burst:     server.Burst,
	}
}

// EmbyClient talks to one Emby server.
type EmbyClient struct {
	name    string
	baseURL string
	apiKey  string
	http    *resty.Client
	limiter *rate.Limiter
}

// NewEmbyClient creates a client for the server described by opts.
func NewEmbyClient(opts EmbyOptions) *EmbyClient {
	baseURL := shared.NormalizeURL(opts.URL)

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetQueryParam("api_key", opts.APIKey).
		SetHeader("Accept", headerMediaType).
		SetTimeout(timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	if opts.Transport != nil {
		httpClient.SetTransport(opts.Transport)
	}

	name := opts.Name
	if name == "" {
		name = shared.MediaServerConfig{URL: baseURL}.FriendlyName()
	}

	return &EmbyClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Name returns the server's friendly name.
func (c *EmbyClient) Name() string {
	return c.name
}

// BaseURL returns the normalized server URL.
func (c *EmbyClient) BaseURL() string {
	return c.baseURL
}

// Describe renders a request against this server for display, e.g. by [shared.FormatCurl].
func (c *EmbyClient) Describe(method, path string, body []byte) shared.CurlRequest {
	req := shared.CurlRequest{
		Method: method,
		URL:    c.baseURL + path + "?" + url.Values{"api_key": {c.apiKey}}.Encode(),
		Body:   body,
	}
	if len(body) > 0 {
		req.Headers = map[string]string{"Content-Type": headerMediaType}
	}
	return req
}

func (c *EmbyClient) do(ctx context.Context, method, path string, build func(*resty.Request)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAPIRequest, err)
	}

	req := c.http.R().SetContext(ctx)
	if build != nil {
		build(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w: %s %s on %s: %w", shared.ErrAPIRequest, shared.ErrTimeout, method, path, c.name, err)
		}
		return nil, fmt.Errorf("%w: %s %s on %s: %w", shared.ErrAPIRequest, method, path, c.name, err)
	}

	if !resp.IsSuccess() {
		return resp, fmt.Errorf("%w: %s - %s", shared.ErrServerResponse, resp.Status(), resp.String())
	}
	return resp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func decode[T any](resp *resty.Response) (T, error) {
	var out T
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return out, fmt.Errorf("%w: %v - %s", shared.ErrInvalidResponse, err, resp.String())
	}
	return out, nil
}

type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

func itemParams(q ItemQuery) map[string]string {
	params := map[string]string{
		"SortBy":    sortBy,
		"SortOrder": sortOrder,
		"Recursive": "True",
		"Fields":    listFields,
	}
	if q.IncludeItemTypes != "" {
		params["IncludeItemTypes"] = q.IncludeItemTypes
	}
	return params
}

// TestServer lists users to verify the URL and API key.
func (c *EmbyClient) TestServer(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/Users", nil)
	return err
}

// Users lists every user on the server.
func (c *EmbyClient) Users(ctx context.Context) ([]User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/Users", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]User](resp)
}

// PlayedItems lists the items userID has played.
func (c *EmbyClient) PlayedItems(ctx context.Context, userID string, q ItemQuery) ([]Item, error) {
	params := itemParams(q)
	params["Filters"] = "IsPlayed"
	params["IsMissing"] = "False"

	resp, err := c.do(ctx, http.MethodGet, "/Users/{userID}/Items", func(r *resty.Request) {
		r.SetPathParam("userID", userID).SetQueryParams(params)
	})
	if err != nil {
		return nil, err
	}

	out, err := decode[itemsResponse](resp)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Item loads one item including the user's data.
func (c *EmbyClient) Item(ctx context.Context, userID, itemID string) (*Item, error) {
	resp, err := c.do(ctx, http.MethodGet, "/Users/{userID}/Items/{itemID}", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"userID": userID, "itemID": itemID})
	})
	if err != nil {
		return nil, err
	}

	item, err := decode[Item](resp)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByProviderIDs searches the library for items matching any of the comma separated provider IDs.
func (c *EmbyClient) FindByProviderIDs(ctx context.Context, list string, q ItemQuery) ([]Item, error) {
	params := itemParams(q)
	params["AnyProviderIdEquals"] = list

	resp, err := c.do(ctx, http.MethodGet, "/Items", func(r *resty.Request) {
		r.SetQueryParams(params)
	})
	if err != nil {
		return nil, err
	}

	out, err := decode[itemsResponse](resp)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

// UpdateUserData posts body as the user's data for itemID.
func (c *EmbyClient) UpdateUserData(ctx context.Context, userID, itemID string, body []byte) error {
	_, err := c.do(ctx, http.MethodPost, UserDataPath(userID, itemID), func(r *resty.Request) {
		r.SetHeader("Content-Type", headerMediaType).SetBody(body)
	})
	return err
}

// SetFavorite adds (POST) or removes (DELETE) itemID from the user's favorites.
func (c *EmbyClient) SetFavorite(ctx context.Context, userID, itemID string, favorite bool) error {
	_, err := c.do(ctx, FavoriteMethod(favorite), FavoritePath(userID, itemID), nil)
	return err
}

// CreateCollection creates a collection containing ids and returns the new collection ID.
func (c *EmbyClient) CreateCollection(ctx context.Context, name string, ids []string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/Collections", func(r *resty.Request) {
		r.SetQueryParams(map[string]string{"Name": name, "Ids": strings.Join(ids, ",")})
	})
	if err != nil {
		return "", err
	}

	out, err := decode[struct {
		ID string `json:"Id"`
	}](resp)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// UserDataPath is the endpoint that receives user data writes.
func UserDataPath(userID, itemID string) string {
	return "/Users/" + url.PathEscape(userID) + "/Items/" + url.PathEscape(itemID) + "/UserData"
}

// FavoritePath is the endpoint that toggles an item's favorite flag.
func FavoritePath(userID, itemID string) string {
	return "/Users/" + url.PathEscape(userID) + "/FavoriteItems/" + url.PathEscape(itemID)
}

// FavoriteMethod returns POST to set a favorite and DELETE to clear it.
func FavoriteMethod(favorite bool) string {
	if favorite {
		return http.MethodPost
	}
	return http.MethodDelete
}
