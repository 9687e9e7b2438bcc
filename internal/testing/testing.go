// package testing contains shared testing utilities
package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/embysync/internal/services"
)

var _ services.MediaServer = (*MockServer)(nil)

// Operation names accepted by [MockServer.Fail].
const (
	OpTest       = "test"
	OpUsers      = "users"
	OpPlayed     = "played"
	OpItem       = "item"
	OpFind       = "find"
	OpUpdate     = "update"
	OpFavorite   = "favorite"
	OpCollection = "collection"
)

// MockWrite is one write received by a [MockServer].
type MockWrite struct {
	Op       string
	UserID   string
	ItemID   string
	Body     []byte
	Favorite bool
}

// MockServer is an in-memory test double for [services.MediaServer].
//
// It is safe for concurrent use.
type MockServer struct {
	mu          sync.Mutex
	name        string
	users       []services.User
	library     map[string]services.Item
	userData    map[string]map[string]services.UserData
	errs        map[string]error
	calls       map[string]int
	writes      []MockWrite
	collections map[string][]string
}

// NewMockServer creates an empty server called name.
func NewMockServer(name string) *MockServer {
	return &MockServer{
		name:        name,
		library:     map[string]services.Item{},
		userData:    map[string]map[string]services.UserData{},
		errs:        map[string]error{},
		calls:       map[string]int{},
		collections: map[string][]string{},
	}
}

// AddUser registers a user.
func (m *MockServer) AddUser(id, name, connect string) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, services.User{ID: id, Name: name, ConnectUserName: connect})
	return m
}

// AddItem adds an item to the library. Its UserData is ignored.
func (m *MockServer) AddItem(item services.Item) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.UserData = nil
	m.library[item.ID] = item
	return m
}

// SetUserData stores userID's state for itemID.
func (m *MockServer) SetUserData(userID, itemID string, data services.UserData) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userData[userID] == nil {
		m.userData[userID] = map[string]services.UserData{}
	}
	m.userData[userID][itemID] = data
	return m
}

// UserData returns userID's state for itemID.
func (m *MockServer) UserData(userID, itemID string) (services.UserData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.userData[userID][itemID]
	return data, ok
}

// Fail makes every call to op return err. A nil err clears the failure.
func (m *MockServer) Fail(op string, err error) *MockServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
	} else {
		m.errs[op] = err
	}
	return m
}

// Calls returns how many times op was invoked.
func (m *MockServer) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Writes returns the writes received so far.
func (m *MockServer) Writes() []MockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

// Collection returns the items of the collection with id.
func (m *MockServer) Collection(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collections[id]
}

func (m *MockServer) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	err := m.errs[op]
	m.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (m *MockServer) withData(userID string, item services.Item) services.Item {
	data, ok := m.userData[userID][item.ID]
	if !ok {
		data = services.UserData{}
	}
	item.UserData = &data
	return item
}

func typeAllowed(q services.ItemQuery, itemType string) bool {
	if q.IncludeItemTypes == "" {
		return true
	}
	for _, t := range strings.Split(q.IncludeItemTypes, ",") {
		if strings.EqualFold(strings.TrimSpace(t), itemType) {
			return true
		}
	}
	return false
}

func (m *MockServer) Name() string { return m.name }

func (m *MockServer) TestServer(ctx context.Context) error {
	return m.enter(ctx, OpTest)
}

func (m *MockServer) Users(ctx context.Context) ([]services.User, error) {
	if err := m.enter(ctx, OpUsers); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]services.User(nil), m.users...), nil
}

// PlayedItems returns the items userID has played, sorted by ID.
func (m *MockServer) PlayedItems(ctx context.Context, userID string, q services.ItemQuery) ([]services.Item, error) {
	if err := m.enter(ctx, OpPlayed); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []services.Item
	for id, data := range m.userData[userID] {
		item, ok := m.library[id]
		if !ok || !data.Played || !typeAllowed(q, item.Type) {
			continue
		}
		out = append(out, m.withData(userID, item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockServer) Item(ctx context.Context, userID, itemID string) (*services.Item, error) {
	if err := m.enter(ctx, OpItem); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.library[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s not found", itemID)
	}
	item = m.withData(userID, item)
	return &item, nil
}

// FindByProviderIDs matches items carrying any "namespace.id" pair in list, case-insensitively.
func (m *MockServer) FindByProviderIDs(ctx context.Context, list string, q services.ItemQuery) ([]services.Item, error) {
	if err := m.enter(ctx, OpFind); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := map[string]bool{}
	for _, pair := range strings.Split(list, ",") {
		wanted[strings.ToLower(strings.TrimSpace(pair))] = true
	}

	var out []services.Item
	for _, item := range m.library {
		if !typeAllowed(q, item.Type) {
			continue
		}
		for ns, pid := range item.ProviderIDs {
			if wanted[strings.ToLower(ns+"."+pid)] {
				out = append(out, item)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockServer) UpdateUserData(ctx context.Context, userID, itemID string, body []byte) error {
	if err := m.enter(ctx, OpUpdate); err != nil {
		return err
	}

	var data services.UserData
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userData[userID] == nil {
		m.userData[userID] = map[string]services.UserData{}
	}
	m.userData[userID][itemID] = data
	m.writes = append(m.writes, MockWrite{Op: OpUpdate, UserID: userID, ItemID: itemID, Body: body})
	return nil
}

func (m *MockServer) SetFavorite(ctx context.Context, userID, itemID string, favorite bool) error {
	if err := m.enter(ctx, OpFavorite); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userData[userID] == nil {
		m.userData[userID] = map[string]services.UserData{}
	}
	data := m.userData[userID][itemID]
	data.IsFavorite = favorite
	m.userData[userID][itemID] = data
	m.writes = append(m.writes, MockWrite{Op: OpFavorite, UserID: userID, ItemID: itemID, Favorite: favorite})
	return nil
}

func (m *MockServer) CreateCollection(ctx context.Context, name string, ids []string) (string, error) {
	if err := m.enter(ctx, OpCollection); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := fmt.Sprintf("col-%d", len(m.collections)+1)
	m.collections[id] = append([]string(nil), ids...)
	return id, nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
