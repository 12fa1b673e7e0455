package server

import (
	"log"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"originchats/models"
	"originchats/protocol"
	"originchats/store"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watcher observes out-of-band mutation of the record store (administrative
// tools writing to the database file directly) and converts it into
// broadcast frames, posted onto the server's events channel.
type Watcher struct {
	store  *store.Store
	events chan<- any
	fsw    *fsnotify.Watcher

	// last-seen snapshots, touched only by the Run goroutine after startup
	users    map[string]models.User
	channels []models.Channel

	quit chan struct{}
	done chan struct{}
}

func NewWatcher(st *store.Store, events chan<- any) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(st.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		store:  st,
		events: events,
		fsw:    fsw,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	w.users, _ = w.loadUsers()
	w.channels, _ = st.ListChannels()

	log.Printf("File watcher started for directory: %s", dir)
	return w, nil
}

// Run consumes filesystem events until Stop. Bursts of events (SQLite
// touches the database and its WAL in quick succession) collapse into one
// sync pass per debounce window.
func (w *Watcher) Run() {
	defer close(w.done)

	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(event.Name) {
				pending = time.After(watchDebounce)
			}
		case <-pending:
			pending = nil
			w.sync()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
		case <-w.quit:
			return
		}
	}
}

// Stop shuts the watcher down and waits for the Run goroutine to exit.
func (w *Watcher) Stop() {
	close(w.quit)
	w.fsw.Close()
	<-w.done
	log.Printf("File watcher stopped")
}

// relevant filters events down to the store's database file and its
// journal/WAL siblings.
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(w.store.Path())
	return strings.HasPrefix(filepath.Base(name), base)
}

// sync reloads the backing store, diffs it against the cached snapshots and
// broadcasts any difference: a structural diff for users, a wholesale
// replacement for channels (their ordering matters).
func (w *Watcher) sync() {
	users, err := w.loadUsers()
	if err != nil {
		log.Printf("Watcher failed to load users: %v", err)
	} else {
		changes := diffUsers(w.users, users)
		if !changes.Empty() {
			if !w.post(protocol.UserEdit(changes)) {
				return
			}
			log.Printf("Broadcasted user_edit: %d added, %d modified, %d deleted",
				len(changes.Added), len(changes.Modified), len(changes.Deleted))
		}
		w.users = users
	}

	channels, err := w.store.ListChannels()
	if err != nil {
		log.Printf("Watcher failed to load channels: %v", err)
		return
	}
	if !reflect.DeepEqual(w.channels, channels) {
		if !w.post(protocol.Channels(channels)) {
			return
		}
		log.Printf("Broadcasted channel list update: %d channels", len(channels))
	}
	w.channels = channels
}

// post queues an event for the server's consumer. The channel may be full
// when the consumer has already exited at shutdown, so the send must not
// outlive the watcher itself.
func (w *Watcher) post(f any) bool {
	select {
	case w.events <- f:
		return true
	case <-w.quit:
		return false
	}
}

func (w *Watcher) loadUsers() (map[string]models.User, error) {
	users, err := w.store.ListUsers()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]models.User, len(users))
	for _, user := range users {
		byName[user.Username] = user
	}
	return byName, nil
}

// diffUsers computes which users were added, modified or deleted between two
// directory snapshots.
func diffUsers(old, cur map[string]models.User) models.UserChanges {
	changes := models.UserChanges{
		Added:    map[string]models.User{},
		Modified: map[string]models.User{},
	}

	for username, user := range cur {
		prev, ok := old[username]
		if !ok {
			changes.Added[username] = user
		} else if !reflect.DeepEqual(prev, user) {
			changes.Modified[username] = user
		}
	}
	for username := range old {
		if _, ok := cur[username]; !ok {
			changes.Deleted = append(changes.Deleted, username)
		}
	}

	return changes
}
