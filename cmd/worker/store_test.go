package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
)

func TestHandoffStoreRoundTripsCandidateWithResourceID(t *testing.T) {
	store := newHandoffStore()
	id := store.putCandidate("resource-1", candidates.Candidate{Title: "Food Drive"})

	entry, ok := store.getCandidate(id)
	require.True(t, ok)
	assert.Equal(t, "resource-1", entry.ResourceID)
	assert.Equal(t, "Food Drive", entry.Candidate.Title)
}

func TestHandoffStoreGetCandidateMissingIDReportsNotFound(t *testing.T) {
	store := newHandoffStore()
	_, ok := store.getCandidate("does-not-exist")
	assert.False(t, ok)
}

func TestHandoffStoreGetEntitiesSkipsUnknownBatchIDs(t *testing.T) {
	store := newHandoffStore()
	posts := store.getEntities([]string{"unknown-batch"})
	assert.Empty(t, posts)
}

func TestOTPStoreVerifyAcceptsMatchingCodeOnce(t *testing.T) {
	store := newOTPStore()
	code, err := store.issue("a@example.org")
	require.NoError(t, err)
	require.Len(t, code, 6)

	ok, err := store.verify("a@example.org", code)
	require.NoError(t, err)
	assert.True(t, ok, "matching code must verify")

	ok, err = store.verify("a@example.org", code)
	require.NoError(t, err)
	assert.False(t, ok, "a verified code must not verify a second time")
}

func TestOTPStoreVerifyRejectsWrongCode(t *testing.T) {
	store := newOTPStore()
	_, err := store.issue("b@example.org")
	require.NoError(t, err)

	ok, err := store.verify("b@example.org", "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOTPStoreVerifyRejectsExpiredCode(t *testing.T) {
	store := newOTPStore()
	code, err := store.issue("c@example.org")
	require.NoError(t, err)
	store.codes["c@example.org"] = otpEntry{code: code, expiresAt: time.Now().Add(-time.Minute)}

	ok, err := store.verify("c@example.org", code)
	require.NoError(t, err)
	assert.False(t, ok, "an expired code must not verify")
}
