package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	sess := NewSession("alpha")

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "alpha", sess.Project)
	assert.Equal(t, SessionStarting, sess.Status)
	assert.Empty(t, sess.History)
}

func TestSession_StatusTransitions(t *testing.T) {
	sess := NewSession("alpha")

	sess.SetStatus(SessionActive)
	assert.Equal(t, SessionActive, sess.GetStatus())

	sess.SetStatus(SessionStopping)
	sess.SetStatus(SessionInactive)
	assert.Equal(t, SessionInactive, sess.GetStatus())
}

func TestSession_AddExchange(t *testing.T) {
	sess := NewSession("alpha")
	before := sess.LastActivity

	sess.AddExchange("user", "hello")
	sess.AddExchange("assistant", "hi")

	history := sess.ConversationHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello", history[0].Text)
	assert.False(t, history[0].At.IsZero())
	assert.False(t, sess.LastActivity.Before(before))
}

func TestSession_ConversationHistoryIsACopy(t *testing.T) {
	sess := NewSession("alpha")
	sess.AddExchange("user", "hello")

	history := sess.ConversationHistory()
	history[0].Text = "mutated"

	assert.Equal(t, "hello", sess.ConversationHistory()[0].Text)
}

func TestSession_Clone(t *testing.T) {
	sess := NewSession("alpha")
	sess.SetToken("tok")
	sess.AddExchange("user", "hello")

	clone := sess.Clone()
	require.NotSame(t, sess, clone)
	assert.Equal(t, sess.ID, clone.ID)
	assert.Equal(t, "tok", clone.Token)

	clone.History[0].Text = "mutated"
	assert.Equal(t, "hello", sess.ConversationHistory()[0].Text)
}
