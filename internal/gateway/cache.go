package gateway

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tgsip/tgsip/internal/telegram"
)

// contactCache maps usernames and phone numbers to Telegram user ids.
// Entries are never evicted. Only the dispatcher reads or writes the
// maps; the atomic counters exist for the status snapshot readers.
type contactCache struct {
	usernames map[string]int64
	phones    map[string]int64
	store     *ContactStore

	usernameCount atomic.Int64
	phoneCount    atomic.Int64

	logger *slog.Logger
}

func newContactCache(store *ContactStore, logger *slog.Logger) *contactCache {
	return &contactCache{
		usernames: make(map[string]int64),
		phones:    make(map[string]int64),
		store:     store,
		logger:    logger.With("subsystem", "contact-cache"),
	}
}

func (c *contactCache) lookupUsername(username string) (int64, bool) {
	id, ok := c.usernames[username]
	return id, ok
}

func (c *contactCache) lookupPhone(phone string) (int64, bool) {
	id, ok := c.phones[phone]
	return id, ok
}

// putUsername records a resolved username and writes it through to the
// store when one is attached.
func (c *contactCache) putUsername(username string, id int64) {
	if _, ok := c.usernames[username]; !ok {
		c.usernameCount.Add(1)
	}
	c.usernames[username] = id
	if c.store != nil {
		if err := c.store.Put(contactKindUsername, username, id); err != nil {
			c.logger.Warn("contact not persisted", "username", username, "error", err)
		}
	}
}

func (c *contactCache) putPhone(phone string, id int64) {
	if _, ok := c.phones[phone]; !ok {
		c.phoneCount.Add(1)
	}
	c.phones[phone] = id
	if c.store != nil {
		if err := c.store.Put(contactKindPhone, phone, id); err != nil {
			c.logger.Warn("contact not persisted", "phone", phone, "error", err)
		}
	}
}

// sizes is safe to call from outside the dispatcher goroutine.
func (c *contactCache) sizes() (usernames, phones int) {
	return int(c.usernameCount.Load()), int(c.phoneCount.Load())
}

// load warms the cache: first from the store, then from the full
// Telegram contact book. Profiles are fetched concurrently the way the
// response futures arrive, and users the account lost access to are
// skipped. Load failures leave the cache partially filled; resolution
// falls back to remote lookups.
func (c *contactCache) load(ctx context.Context, tg TelegramClient) {
	if c.store != nil {
		usernames, phones, err := c.store.Load()
		if err != nil {
			c.logger.Warn("persisted contacts not loaded", "error", err)
		} else {
			for username, id := range usernames {
				c.usernames[username] = id
			}
			for phone, id := range phones {
				c.phones[phone] = id
			}
			c.usernameCount.Store(int64(len(c.usernames)))
			c.phoneCount.Store(int64(len(c.phones)))
		}
	}

	c.logger.Info("loading contacts cache")

	contacts, err := tg.SearchContacts(ctx, "", math.MaxInt32)
	if err != nil {
		c.logger.Error("contact search failed during cache fill", "error", err)
		return
	}

	users := make([]*telegram.User, len(contacts.UserIDs))
	var wg sync.WaitGroup
	for i, userID := range contacts.UserIDs {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			user, err := tg.GetUser(ctx, userID)
			if err != nil {
				c.logger.Warn("user profile not loaded", "user_id", userID, "error", err)
				return
			}
			users[i] = user
		}(i, userID)
	}
	wg.Wait()

	for _, user := range users {
		if user == nil || !user.HaveAccess {
			continue
		}
		if user.Username != "" {
			c.putUsername(user.Username, user.ID)
		}
		if user.PhoneNumber != "" {
			c.putPhone(user.PhoneNumber, user.ID)
		}
	}

	usernames, phones := c.sizes()
	c.logger.Info("contacts cache loaded", "usernames", usernames, "phones", phones)
}
