// Package session keeps server-side sessions that expire after a period of
// inactivity.
package session

import (
	"sync"
	"time"
)

// Session is a bag of attributes. Every access refreshes its timestamp.
type Session struct {
	ID string

	mu      sync.Mutex
	attrs   map[string]any
	touched time.Time
	created time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{ID: id, attrs: make(map[string]any), touched: now, created: now}
}

// Get returns the attribute called name, or nil.
func (s *Session) Get(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	return s.attrs[name]
}

// Set stores an attribute. A nil value removes it.
func (s *Session) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	if value == nil {
		delete(s.attrs, name)
		return
	}
	s.attrs[name] = value
}

// Remove deletes an attribute and returns its old value.
func (s *Session) Remove(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	old := s.attrs[name]
	delete(s.attrs, name)
	return old
}

// Has reports whether the attribute is set.
func (s *Session) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	_, ok := s.attrs[name]
	return ok
}

// Names returns the attribute names.
func (s *Session) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	out := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		out = append(out, k)
	}
	return out
}

// Clear drops every attribute.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	s.attrs = make(map[string]any)
}

// Touch refreshes the timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.touched = time.Now()
	s.mu.Unlock()
}

// Touched returns the time of the last access.
func (s *Session) Touched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

func (s *Session) idle(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.touched)
}
