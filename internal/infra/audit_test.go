package infra

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seealln/seealln/internal/domain"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func countRows(t *testing.T, store *AuditStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestAuditStoreRecordsActions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewAuditStore(dir, testKey(t))
	require.NoError(t, err)
	defer store.Close()

	action := domain.ActionStep{
		Kind:        domain.ActionClick,
		X:           33,
		Y:           43,
		Sensitivity: domain.SensitivityNormal,
		Intent:      "next_email",
	}
	require.NoError(t, store.RecordAction(action))
	require.NoError(t, store.RecordAction(action))
	assert.Equal(t, 2, countRows(t, store, "actions"))
}

func TestAuditStoreGateRecordsAreIdempotent(t *testing.T) {
	store, err := NewAuditStore(t.TempDir(), testKey(t))
	require.NoError(t, err)
	defer store.Close()

	gate := domain.ConfirmationGate{
		ID:        "gate-1",
		Action:    domain.ActionStep{Kind: domain.ActionKeyPress, Key: "down"},
		State:     domain.GateApproved,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.RecordGate(gate))

	// A replay of the same gate ID keeps the first record.
	gate.State = domain.GateExpired
	require.NoError(t, store.RecordGate(gate))
	assert.Equal(t, 1, countRows(t, store, "gates"))

	var state string
	require.NoError(t, store.db.QueryRow("SELECT state FROM gates WHERE id = ?", "gate-1").Scan(&state))
	assert.Equal(t, string(domain.GateApproved), state)
}

func TestAuditStoreWrongKeyFailsToOpen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewAuditStore(dir, testKey(t))
	require.NoError(t, err)
	require.NoError(t, store.RecordAction(domain.ActionStep{Kind: domain.ActionWait, Intent: "next_email"}))
	require.NoError(t, store.Close())

	// Reopening with a different key must not expose the trail.
	_, err = NewAuditStore(dir, testKey(t))
	assert.Error(t, err)
}
