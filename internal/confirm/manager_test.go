package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExecutor) ExecutePayload(_ context.Context, _ string, _ json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return "txn_1", nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	otps     []string
	statuses []Status
}

func (f *fakeNotifier) NotifyOTP(_ context.Context, _, _, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otps = append(f.otps, code)
}

func (f *fakeNotifier) NotifyStatus(_ context.Context, _, _ string, s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeNotifier) lastOTP() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.otps) == 0 {
		return ""
	}
	return f.otps[len(f.otps)-1]
}

func payload(t *testing.T) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"recipient_account_id": "2222222222",
		"amount_cents":         25000,
	})
	require.NoError(t, err)
	return b
}

func newManager(t *testing.T) (*Manager, *fakeExecutor, *fakeNotifier) {
	t.Helper()
	exec := &fakeExecutor{}
	notif := &fakeNotifier{}
	m := NewManager(NewMemoryStore(), exec, notif, Options{})
	return m, exec, notif
}

func TestCreate_ChatConfirmation(t *testing.T) {
	m, _, notif := newManager(t)

	c, err := m.Create(context.Background(), MethodChat, "1234567890", "sess_1", payload(t))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, c.Status)
	assert.Empty(t, c.OTPCode)
	assert.Empty(t, notif.otps)
	assert.InDelta(t, DefaultChatTTL.Seconds(), float64(m.TTL(c)), 1)
}

func TestCreate_OTPDeliversCode(t *testing.T) {
	m, _, notif := newManager(t)

	c, err := m.Create(context.Background(), MethodOTP, "1234567890", "", payload(t))
	require.NoError(t, err)

	assert.Len(t, c.OTPCode, 6)
	assert.Equal(t, c.OTPCode, notif.lastOTP())
	assert.InDelta(t, DefaultOTPTTL.Seconds(), float64(m.TTL(c)), 1)
}

func TestResume_AffirmativeExecutes(t *testing.T) {
	m, exec, _ := newManager(t)
	_, err := m.Create(context.Background(), MethodChat, "1234567890", "sess_1", payload(t))
	require.NoError(t, err)

	out, err := m.Resume(context.Background(), "sess_1", "yes please")
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, "txn_1", out.TransactionID)
	assert.Equal(t, 1, exec.calls)
}

func TestResume_AnythingElseCancels(t *testing.T) {
	m, exec, _ := newManager(t)
	_, err := m.Create(context.Background(), MethodChat, "1234567890", "sess_1", payload(t))
	require.NoError(t, err)

	out, err := m.Resume(context.Background(), "sess_1", "actually send 50 instead")
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, 0, exec.calls)

	// The session no longer holds a pending confirmation.
	next, err := m.Resume(context.Background(), "sess_1", "yes")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestResume_NoPendingConfirmation(t *testing.T) {
	m, _, _ := newManager(t)

	out, err := m.Resume(context.Background(), "sess_none", "yes")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResume_ExpiredBeforeReply(t *testing.T) {
	m, exec, _ := newManager(t)
	_, err := m.Create(context.Background(), MethodChat, "1234567890", "sess_1", payload(t))
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	out, err := m.Resume(context.Background(), "sess_1", "yes")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, StatusExpired, out.Status)
	assert.Equal(t, 0, exec.calls)
}

func TestVerifyOTP_CorrectCodeExecutes(t *testing.T) {
	m, exec, notif := newManager(t)
	c, err := m.Create(context.Background(), MethodOTP, "1234567890", "", payload(t))
	require.NoError(t, err)

	res, err := m.VerifyOTP(context.Background(), c.ID, notif.lastOTP())
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Equal(t, "txn_1", res.TransactionID)
	assert.Equal(t, 1, exec.calls)
}

func TestVerifyOTP_WrongCodeCountsDown(t *testing.T) {
	m, _, _ := newManager(t)
	c, err := m.Create(context.Background(), MethodOTP, "1234567890", "", payload(t))
	require.NoError(t, err)

	res, err := m.VerifyOTP(context.Background(), c.ID, "000000")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, 2, res.RemainingAttempts)

	res, err = m.VerifyOTP(context.Background(), c.ID, "000000")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, 1, res.RemainingAttempts)
}

func TestVerifyOTP_LockoutAfterMaxAttempts(t *testing.T) {
	m, exec, notif := newManager(t)
	c, err := m.Create(context.Background(), MethodOTP, "1234567890", "", payload(t))
	require.NoError(t, err)
	code := notif.lastOTP()

	for i := 0; i < 2; i++ {
		res, err := m.VerifyOTP(context.Background(), c.ID, "000000")
		require.NoError(t, err)
		assert.Equal(t, StatusInvalid, res.Status)
	}

	// Third wrong submission exhausts the budget.
	res, err := m.VerifyOTP(context.Background(), c.ID, "000000")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Contains(t, notif.statuses, StatusBlocked)

	// The correct code no longer helps.
	res, err = m.VerifyOTP(context.Background(), c.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, 0, exec.calls)
}

func TestVerifyOTP_ExpiredCode(t *testing.T) {
	m, _, notif := newManager(t)
	c, err := m.Create(context.Background(), MethodOTP, "1234567890", "", payload(t))
	require.NoError(t, err)
	code := notif.lastOTP()

	m.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	res, err := m.VerifyOTP(context.Background(), c.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, res.Status)
	assert.Contains(t, notif.statuses, StatusExpired)

	// Terminal: a later attempt reports the same state.
	res, err = m.VerifyOTP(context.Background(), c.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, res.Status)
}

func TestVerifyOTP_ExecutionFailureIsHardError(t *testing.T) {
	m, exec, notif := newManager(t)
	exec.err = errors.New("ledger unavailable")

	c, err := m.Create(context.Background(), MethodOTP, "1234567890", "", payload(t))
	require.NoError(t, err)

	_, err = m.VerifyOTP(context.Background(), c.ID, notif.lastOTP())
	require.Error(t, err)

	// Approval is consumed even though execution failed.
	got, err := m.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestVerifyOTP_UnknownID(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.VerifyOTP(context.Background(), "conf_missing", "123456")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTimer_SweepsAbandonedConfirmations(t *testing.T) {
	store := NewMemoryStore()
	notif := &fakeNotifier{}
	m := NewManager(store, &fakeExecutor{}, notif, Options{})
	c, err := m.Create(context.Background(), MethodChat, "1234567890", "sess_1", payload(t))
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	timer := NewTimer(m, store, slog.Default())
	timer.sweep(context.Background())

	got, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Contains(t, notif.statuses, StatusExpired)
}

func TestApprove_ExecutesByID(t *testing.T) {
	m, exec, _ := newManager(t)
	c, err := m.Create(context.Background(), MethodChat, "1234567890", "sess_1", payload(t))
	require.NoError(t, err)

	out, err := m.Approve(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, "txn_1", out.TransactionID)
	assert.Equal(t, 1, exec.calls)

	got, err := m.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "txn_1", got.TransactionID)
}

func TestApprove_RejectsOTPMethod(t *testing.T) {
	m, exec, _ := newManager(t)
	c, err := m.Create(context.Background(), MethodOTP, "1234567890", "", payload(t))
	require.NoError(t, err)

	_, err = m.Approve(context.Background(), c.ID)
	require.Error(t, err)
	assert.Equal(t, 0, exec.calls)
}

func TestApprove_TerminalReturnsCurrentState(t *testing.T) {
	m, _, _ := newManager(t)
	c, err := m.Create(context.Background(), MethodChat, "1234567890", "sess_1", payload(t))
	require.NoError(t, err)

	_, err = m.Resume(context.Background(), "sess_1", "no thanks")
	require.NoError(t, err)

	out, err := m.Approve(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
}

func TestStore_TerminalStateIsImmutable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	c := &Confirmation{
		ID:        "conf_1",
		AccountID: "1234567890",
		SessionID: "sess_1",
		Payload:   payload(t),
		Method:    MethodChat,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.Create(ctx, c))

	c.Status = StatusCancelled
	require.NoError(t, store.Update(ctx, c))

	// A stale writer, e.g. another instance that read the record while it
	// was still pending, must not flip the resolved state.
	stale := *c
	stale.Status = StatusConfirmed
	require.ErrorIs(t, store.Update(ctx, &stale), ErrAlreadyResolved)

	got, err := store.Get(ctx, "conf_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// The transaction link applies to confirmed records only.
	require.ErrorIs(t, store.RecordTransaction(ctx, "conf_1", "txn_1"), ErrAlreadyResolved)
	require.ErrorIs(t, store.RecordTransaction(ctx, "conf_missing", "txn_1"), ErrNotFound)
}

func TestStore_RecordTransactionLinksConfirmed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	c := &Confirmation{
		ID:        "conf_2",
		AccountID: "1234567890",
		Payload:   payload(t),
		Method:    MethodChat,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.Create(ctx, c))
	c.Status = StatusConfirmed
	require.NoError(t, store.Update(ctx, c))

	require.NoError(t, store.RecordTransaction(ctx, "conf_2", "txn_9"))
	got, err := store.Get(ctx, "conf_2")
	require.NoError(t, err)
	assert.Equal(t, "txn_9", got.TransactionID)
}
