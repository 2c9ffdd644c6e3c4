package tenant

import "sync"

// ConversationLocks serializes turns per conversation id. Two simultaneous
// asks against one conversation are not allowed to interleave: the second
// caller is rejected (the HTTP layer maps the failure to CONVERSATION_BUSY)
// rather than queued, so a slow turn cannot pile up work behind it.
type ConversationLocks struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewConversationLocks builds an empty lock table.
func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{held: make(map[int64]struct{})}
}

// TryAcquire takes the lock for a conversation, reporting false when another
// turn already holds it.
func (l *ConversationLocks) TryAcquire(conversationID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[conversationID]; busy {
		return false
	}
	l.held[conversationID] = struct{}{}
	return true
}

// Release frees the lock taken by TryAcquire. Releasing an unheld lock is a
// no-op.
func (l *ConversationLocks) Release(conversationID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, conversationID)
}
