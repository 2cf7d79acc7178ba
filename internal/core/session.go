package core

import (
	"sync"

	"mediassist.app/server/internal/store"
)

// AnalysisSession holds the current analysis result and in-progress flag for
// one user's session. Exactly one upload-and-analyze workflow may be in
// flight per session; concurrent uploads on the same session are caller
// misuse. The mutex only guards against torn reads from the view handlers.
type AnalysisSession struct {
	mu         sync.RWMutex
	current    *store.AIAnalysis
	inProgress bool
}

func NewAnalysisSession() *AnalysisSession {
	return &AnalysisSession{}
}

// Begin marks an analysis as in flight.
func (s *AnalysisSession) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = true
}

// Complete replaces the current analysis and clears the flag.
func (s *AnalysisSession) Complete(analysis store.AIAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &analysis
	s.inProgress = false
}

// Fail clears the flag and leaves the previous analysis untouched.
func (s *AnalysisSession) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
}

// Snapshot returns the current analysis (nil when none yet) and whether an
// analysis is in progress.
func (s *AnalysisSession) Snapshot() (*store.AIAnalysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.inProgress
}

// Clear resets the session, used when the user signs out.
func (s *AnalysisSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.inProgress = false
}

// SessionRegistry partitions analysis session state by user, so one user's
// upload can never surface in another user's analysis view. Sessions are
// created lazily on first use.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[int64]*AnalysisSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[int64]*AnalysisSession),
	}
}

// ForUser returns the user's session, creating it on first access.
func (r *SessionRegistry) ForUser(userID int64) *AnalysisSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[userID]
	if !ok {
		session = NewAnalysisSession()
		r.sessions[userID] = session
	}
	return session
}

// Drop removes the user's session entirely, used on sign-out.
func (r *SessionRegistry) Drop(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}
