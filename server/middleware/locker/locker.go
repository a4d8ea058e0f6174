// Package locker provides an HTTP middleware which allows a router to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nasa-jpl/staveqa/server"
)

// Inject adds a lock route to a server.RouteTable which is used to manipulate the locker
func Inject(rt server.RouteTable, l *Locker) {
	rt[server.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[server.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of paths to not protect
type Locker struct {
	locked atomic.Bool

	// DoNotProtect is a list of paths not to apply the lock to.  A request is
	// let through when its path contains any of them
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.locked.Store(true)
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.locked.Store(false)
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.locked.Load()
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is
// true and the request would change state, otherwise passes down the line.
// Reads are never locked out
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && r.Method != http.MethodGet && r.Method != http.MethodHead {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
					break
				}
			}
			if protected {
				http.Error(w, "locked", http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
