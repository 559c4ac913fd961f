package service

import (
	"comicstrip/internal/entity"
	"strings"
	"sync"
	"time"
)

// SessionState 生成会话状态：Idle → Submitting → Succeeded|Failed → Idle
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateSubmitting SessionState = "submitting"
	StateSucceeded  SessionState = "succeeded"
	StateFailed     SessionState = "failed"
)

// GenerationSession holds what one page (user + client) observes: the current
// Panel Set, credits and whether the latest attempt is still running.
// Every attempt gets a sequence number; only the latest attempt may change
// the Panel Set, so a slow earlier response can never overwrite a newer one.
type GenerationSession struct {
	mu sync.Mutex

	state       SessionState
	lastOutcome SessionState
	latest      uint64
	inFlight    int

	generationID string
	prompt       string
	panels       []entity.Panel
	credits      int
	lastError    string
	// recordDenied 当前展示的生成因额度用完未能记账
	recordDenied bool

	touchedAt time.Time
}

// SessionSnapshot 会话的只读快照
type SessionSnapshot struct {
	State        SessionState
	LastOutcome  SessionState
	Loading      bool
	Sequence     uint64
	InFlight     int
	GenerationID string
	Prompt       string
	Panels       []entity.Panel
	Credits      int
	Error        string
}

func newGenerationSession(credits int) *GenerationSession {
	return &GenerationSession{
		state:     StateIdle,
		credits:   credits,
		touchedAt: time.Now(),
	}
}

// Begin starts a new attempt and returns its sequence number.
func (s *GenerationSession) Begin(prompt string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	s.inFlight++
	s.state = StateSubmitting
	s.lastError = ""
	s.touchedAt = time.Now()
	return s.latest
}

// IsLatest reports whether seq is still the newest attempt.
func (s *GenerationSession) IsLatest(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.latest
}

// Succeed replaces the Panel Set if seq is the latest attempt. It reports
// whether the result was applied.
func (s *GenerationSession) Succeed(seq uint64, generationID, prompt string, panels []entity.Panel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.latest {
		return false
	}
	s.generationID = generationID
	s.prompt = prompt
	s.panels = append([]entity.Panel(nil), panels...)
	s.recordDenied = false
	s.state = StateSucceeded
	s.lastOutcome = StateSucceeded
	s.lastError = ""
	s.touchedAt = time.Now()
	return true
}

// Fail marks the latest attempt failed. The Panel Set is left untouched.
func (s *GenerationSession) Fail(seq uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.latest {
		return false
	}
	s.state = StateFailed
	s.lastOutcome = StateFailed
	if err != nil {
		s.lastError = err.Error()
	}
	s.touchedAt = time.Now()
	return true
}

// Finish ends an attempt. The session goes back to Idle once the latest
// attempt has finished, whatever its outcome.
func (s *GenerationSession) Finish(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	if seq == s.latest {
		s.state = StateIdle
	}
	s.touchedAt = time.Now()
}

// SetCredits stores the most recently computed credit count.
func (s *GenerationSession) SetCredits(credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = credits
}

// MarkRecordDenied flags the displayed generation as refused by the ledger.
func (s *GenerationSession) MarkRecordDenied(generationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generationID != "" && generationID == s.generationID {
		s.recordDenied = true
	}
}

// RecordDenied reports whether generationID is displayed but was refused by the ledger.
func (s *GenerationSession) RecordDenied(generationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generationID != "" && generationID == s.generationID && s.recordDenied
}

// PromptFor returns the prompt of the displayed generation if it matches
// generationID and its record was not refused.
func (s *GenerationSession) PromptFor(generationID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generationID == "" || generationID != s.generationID || s.recordDenied {
		return "", false
	}
	return s.prompt, true
}

// Snapshot returns a copy of the observable state.
func (s *GenerationSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		State:        s.state,
		LastOutcome:  s.lastOutcome,
		Loading:      s.state == StateSubmitting,
		Sequence:     s.latest,
		InFlight:     s.inFlight,
		GenerationID: s.generationID,
		Prompt:       s.prompt,
		Panels:       append([]entity.Panel(nil), s.panels...),
		Credits:      s.credits,
		Error:        s.lastError,
	}
}

func (s *GenerationSession) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight == 0 && s.touchedAt.Before(cutoff)
}

// SessionRegistry keeps one GenerationSession per (user, client).
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*GenerationSession
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionRegistry creates a registry; sessions idle longer than ttl are dropped.
func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionRegistry{
		sessions: make(map[string]*GenerationSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func sessionKey(userID, clientID string) string {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = "default"
	}
	return strings.TrimSpace(userID) + ":" + clientID
}

// Get returns the session for (userID, clientID), creating it on first use.
func (r *SessionRegistry) Get(userID, clientID string) *GenerationSession {
	key := sessionKey(userID, clientID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	session, ok := r.sessions[key]
	if !ok {
		session = newGenerationSession(-1)
		r.sessions[key] = session
	}
	return session
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) pruneLocked() {
	cutoff := r.now().Add(-r.ttl)
	for key, session := range r.sessions {
		if session.idleSince(cutoff) {
			delete(r.sessions, key)
		}
	}
}
