// Package telegram speaks the TDLib JSON interface: a typed subset of the
// API objects the gateway needs, an Engine contract implemented by the cgo
// binding, and a Client that owns the receive loop, correlates async
// queries and forwards call and message updates to the dispatcher.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tgsip/tgsip/internal/eventqueue"
)

const (
	applicationVersion = "1.0.0"

	receiveTimeout = time.Second
	closeTimeout   = 3 * time.Second
)

var (
	// ErrQueryFromWorker is returned when a query is issued from the
	// receive goroutine. Waiting there would block the only reader that
	// could complete the query.
	ErrQueryFromWorker = errors.New("telegram: query issued from receive goroutine")

	// ErrClosed is returned for queries issued on a closed client.
	ErrClosed = errors.New("telegram: client closed")
)

// RequestError is an error object Telegram returned for a request.
type RequestError struct {
	Code    int32
	Message string
}

func (e *RequestError) Error() string { return fmt.Sprintf("%d; %s", e.Code, e.Message) }

// Proxy is a SOCKS5 proxy for the Telegram connection.
type Proxy struct {
	Address  string
	Port     int32
	Username string
	Password string
}

// Config carries the TDLib parameters and connection options. Values come
// straight from the [telegram] settings section.
type Config struct {
	APIID              int32
	APIHash            string
	DatabaseFolder     string
	SystemLanguageCode string
	DeviceModel        string
	Verbosity          int
	Proxy              *Proxy
}

type handlerFunc func(Object)

// Client runs one Engine. A single receive goroutine decodes everything
// the engine produces: responses are matched to waiting queries through
// the @extra correlation id, call and incoming text message updates are
// pushed onto the update queue, authorization updates are answered in
// place, all other updates are dropped.
type Client struct {
	engine  Engine
	cfg     Config
	logger  *slog.Logger
	updates *eventqueue.Queue[Object]

	mu       sync.Mutex
	handlers map[uint64]handlerFunc
	nextID   uint64
	closed   bool

	workerID atomic.Uint64
	readyCh  chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
}

// NewClient wraps an engine. Updates the dispatcher consumes are pushed
// onto updates; only *UpdateCall and incoming-text *UpdateNewMessage ever
// appear there.
func NewClient(engine Engine, cfg Config, updates *eventqueue.Queue[Object], logger *slog.Logger) *Client {
	return &Client{
		engine:   engine,
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		updates:  updates,
		handlers: make(map[uint64]handlerFunc),
		readyCh:  make(chan struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start applies the log verbosity and launches the receive goroutine.
// Authorization is driven from received updates; readiness is observable
// through WaitReady.
func (c *Client) Start() {
	verbosity := &setLogVerbosityLevel{
		meta:              meta{Type: "setLogVerbosityLevel"},
		NewVerbosityLevel: int32(c.cfg.Verbosity),
	}
	if raw, err := json.Marshal(verbosity); err == nil {
		c.engine.Execute(raw)
	}
	go c.receiveLoop()
}

// WaitReady blocks until authorization reaches the ready state.
func (c *Client) WaitReady(timeout time.Duration) error {
	select {
	case <-c.readyCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("telegram: not ready after %s", timeout)
	}
}

// Ready reports whether authorization has completed.
func (c *Client) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// Close asks TDLib to shut down, stops the receive goroutine and destroys
// the engine. Pending queries fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if raw, err := json.Marshal(&closeRequest{meta: meta{Type: "close"}}); err == nil {
		_ = c.engine.Send(raw)
	}
	close(c.stopCh)
	select {
	case <-c.done:
	case <-time.After(closeTimeout):
		c.logger.Warn("receive goroutine did not stop in time")
	}
	return c.engine.Close()
}

func (c *Client) receiveLoop() {
	c.workerID.Store(goroutineID())
	defer close(c.done)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		raw := c.engine.Receive(receiveTimeout)
		if raw == nil {
			continue
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var env struct {
		Type  string `json:"@type"`
		Extra string `json:"@extra"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("undecodable object from engine", "error", err)
		return
	}

	if env.Extra != "" {
		c.deliverResponse(env.Extra, raw)
		return
	}

	switch env.Type {
	case "updateAuthorizationState":
		obj, err := unmarshalObject(raw)
		if err != nil {
			c.logger.Warn("bad authorization update", "error", err)
			return
		}
		c.handleAuthorizationState(obj.(*UpdateAuthorizationState))
	case "updateCall":
		obj, err := unmarshalObject(raw)
		if err != nil {
			c.logger.Warn("bad call update", "error", err)
			return
		}
		c.updates.Push(obj)
	case "updateNewMessage":
		obj, err := unmarshalObject(raw)
		if err != nil {
			c.logger.Warn("bad message update", "error", err)
			return
		}
		update := obj.(*UpdateNewMessage)
		if update.Message.IsOutgoing {
			return
		}
		if _, ok := update.Message.Content.(*MessageText); !ok {
			return
		}
		c.updates.Push(update)
	default:
		c.logger.Debug("dropping update", "type", env.Type)
	}
}

func (c *Client) deliverResponse(extra string, raw []byte) {
	id, err := strconv.ParseUint(extra, 10, 64)
	if err != nil {
		c.logger.Warn("response with malformed extra", "extra", extra)
		return
	}
	c.mu.Lock()
	h := c.handlers[id]
	delete(c.handlers, id)
	c.mu.Unlock()
	if h == nil {
		c.logger.Debug("response with no waiter", "extra", extra)
		return
	}
	obj, err := unmarshalObject(raw)
	if err != nil {
		// Hand the waiter a synthetic error so it does not hang.
		obj = &Error{meta: meta{Type: "error"}, Code: 500, Message: err.Error()}
		c.logger.Warn("undecodable response", "error", err)
	}
	h(obj)
}

func (c *Client) handleAuthorizationState(update *UpdateAuthorizationState) {
	switch update.StateType {
	case authWaitTdlibParameters:
		c.sendFromWorker(c.tdlibParameters())
		if p := c.cfg.Proxy; p != nil {
			c.sendFromWorker(&addProxy{
				meta:   meta{Type: "addProxy"},
				Server: p.Address,
				Port:   p.Port,
				Enable: true,
				Type: proxyTypeSocks5{
					meta:     meta{Type: "proxyTypeSocks5"},
					Username: p.Username,
					Password: p.Password,
				},
			})
		}
	case authWaitEncryptionKey:
		c.sendFromWorker(&checkDatabaseEncryptionKey{meta: meta{Type: "checkDatabaseEncryptionKey"}})
	case authReady:
		c.logger.Info("authorization complete")
		select {
		case <-c.readyCh:
		default:
			close(c.readyCh)
		}
	case authWaitPhoneNumber, authWaitCode, authWaitPassword, authWaitRegistration:
		c.logger.Error("telegram account not authorized, log it in against this database folder and restart",
			"state", update.StateType)
	case authClosing:
		c.logger.Debug("tdlib closing")
	case authClosed:
		c.logger.Info("tdlib closed")
	default:
		c.logger.Warn("unhandled authorization state", "state", update.StateType)
	}
}

func (c *Client) tdlibParameters() *setTdlibParameters {
	return &setTdlibParameters{
		meta:                meta{Type: "setTdlibParameters"},
		DatabaseDirectory:   c.cfg.DatabaseFolder,
		UseChatInfoDatabase: true,
		APIID:               c.cfg.APIID,
		APIHash:             c.cfg.APIHash,
		SystemLanguageCode:  c.cfg.SystemLanguageCode,
		DeviceModel:         c.cfg.DeviceModel,
		ApplicationVersion:  applicationVersion,
	}
}

// sendAsync assigns a correlation id, registers the handler and hands the
// request to the engine. The handler runs on the receive goroutine.
func (c *Client) sendAsync(req Request, h handlerFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	if h != nil {
		c.handlers[id] = h
	}
	c.mu.Unlock()

	req.setExtra(strconv.FormatUint(id, 10))
	raw, err := json.Marshal(req)
	if err == nil {
		err = c.engine.Send(raw)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
		return fmt.Errorf("send %s: %w", req.typeName(), err)
	}
	return nil
}

// sendFromWorker fires a request from the receive goroutine itself and
// logs an eventual error response instead of waiting for it.
func (c *Client) sendFromWorker(req Request) {
	name := req.typeName()
	err := c.sendAsync(req, func(obj Object) {
		if e, ok := obj.(*Error); ok {
			c.logger.Error("request failed", "request", name, "code", e.Code, "error", e.Message)
		}
	})
	if err != nil {
		c.logger.Error("request failed", "request", name, "error", err)
	}
}

// Query sends a request and blocks until its response arrives. Issued from
// the receive goroutine it fails immediately with ErrQueryFromWorker: the
// response could never be read while the caller waits. An error object
// comes back as *RequestError.
func (c *Client) Query(ctx context.Context, req Request) (Object, error) {
	if goroutineID() == c.workerID.Load() {
		return nil, ErrQueryFromWorker
	}
	ch := make(chan Object, 1)
	if err := c.sendAsync(req, func(obj Object) { ch <- obj }); err != nil {
		return nil, err
	}
	select {
	case obj := <-ch:
		if e, ok := obj.(*Error); ok {
			return nil, &RequestError{Code: e.Code, Message: e.Message}
		}
		return obj, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, ErrClosed
	}
}

// SearchContacts lists known contacts matching query. An empty query with
// a large limit returns the whole contact book.
func (c *Client) SearchContacts(ctx context.Context, query string, limit int32) (*Users, error) {
	obj, err := c.Query(ctx, &searchContacts{meta: meta{Type: "searchContacts"}, Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	users, ok := obj.(*Users)
	if !ok {
		return nil, unexpectedResponse("searchContacts", obj)
	}
	return users, nil
}

// GetUser fetches a user profile by id.
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	obj, err := c.Query(ctx, &getUser{meta: meta{Type: "getUser"}, UserID: userID})
	if err != nil {
		return nil, err
	}
	user, ok := obj.(*User)
	if !ok {
		return nil, unexpectedResponse("getUser", obj)
	}
	return user, nil
}

// SearchPublicChat resolves a public @username to its chat.
func (c *Client) SearchPublicChat(ctx context.Context, username string) (*Chat, error) {
	obj, err := c.Query(ctx, &searchPublicChat{meta: meta{Type: "searchPublicChat"}, Username: username})
	if err != nil {
		return nil, err
	}
	chat, ok := obj.(*Chat)
	if !ok {
		return nil, unexpectedResponse("searchPublicChat", obj)
	}
	return chat, nil
}

// ImportContact resolves a phone number by adding it to the contact list.
// UserIDs[0] == 0 in the response means the number is not registered on
// Telegram.
func (c *Client) ImportContact(ctx context.Context, phone string) (*ImportedContacts, error) {
	req := &importContacts{
		meta:     meta{Type: "importContacts"},
		Contacts: []contact{{meta: meta{Type: "contact"}, PhoneNumber: phone}},
	}
	obj, err := c.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	imported, ok := obj.(*ImportedContacts)
	if !ok {
		return nil, unexpectedResponse("importContacts", obj)
	}
	return imported, nil
}

// CreateCall places an outgoing voice call to a user.
func (c *Client) CreateCall(ctx context.Context, userID int64, protocol CallProtocol) (*CallID, error) {
	obj, err := c.Query(ctx, &createCall{meta: meta{Type: "createCall"}, UserID: userID, Protocol: protocol})
	if err != nil {
		return nil, err
	}
	callID, ok := obj.(*CallID)
	if !ok {
		return nil, unexpectedResponse("createCall", obj)
	}
	return callID, nil
}

// AcceptCall answers an incoming voice call.
func (c *Client) AcceptCall(ctx context.Context, callID int32, protocol CallProtocol) error {
	_, err := c.Query(ctx, &acceptCall{meta: meta{Type: "acceptCall"}, CallID: callID, Protocol: protocol})
	return err
}

// DiscardCall ends a voice call.
func (c *Client) DiscardCall(ctx context.Context, callID int32, isDisconnected bool, duration int32, connectionID int64) error {
	req := &discardCall{
		meta:           meta{Type: "discardCall"},
		CallID:         callID,
		IsDisconnected: isDisconnected,
		Duration:       duration,
		ConnectionID:   connectionID,
	}
	_, err := c.Query(ctx, req)
	return err
}

func unexpectedResponse(request string, obj Object) error {
	return fmt.Errorf("telegram: unexpected %s response to %s", obj.typeName(), request)
}

// goroutineID parses the numeric id out of the runtime stack header
// ("goroutine N [running]:"). The runtime exposes no accessor for it.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseUint(string(s), 10, 64)
	return id
}
