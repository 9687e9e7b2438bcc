// Package services implements the [MediaServer] interface for Emby-compatible servers.
//
// # Emby Client
//
// [EmbyClient] wraps a resty client bound to one server. Every request carries the
// server's API key as the api_key query parameter and waits on a per-server
// [rate.Limiter] before it is sent. Transport retries on 429 and 5xx responses are
// handled by resty; the sync engine never retries on its own.
//
// # Endpoints
//
//   - GET /Users
//   - GET /Users/{uid}/Items (played items)
//   - GET /Users/{uid}/Items/{iid}
//   - GET /Items (search by provider IDs)
//   - POST /Users/{uid}/Items/{iid}/UserData
//   - POST, DELETE /Users/{uid}/FavoriteItems/{iid}
//   - POST /Collections
//
// # Error Handling
//
// Failures use sentinel errors from the shared package:
//   - [shared.ErrAPIRequest] : the request could not be sent or no response arrived
//   - [shared.ErrServerResponse] : non-2xx status, formatted "Error from Server: <status> - <body>"
//   - [shared.ErrInvalidResponse] : undecodable body, formatted "Invalid Response from Server: <err> - <body>"
package services
