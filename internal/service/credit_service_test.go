package service

import (
	"context"
	"errors"
	"testing"

	"github.com/motionforge/api/internal/model"
)

func completedEvent(sessionID, userID string, credits int64) *model.PaymentEvent {
	return &model.PaymentEvent{
		SessionID: sessionID,
		Status:    model.PaymentStatusCompleted,
		Metadata: model.PaymentMetadata{
			UserID:  userID,
			Credits: credits,
		},
	}
}

func TestApplyPayment_CreditsOnce(t *testing.T) {
	ledger := NewMemoryLedger()
	svc := NewCreditService(ledger, 1)
	ctx := context.Background()

	applied, err := svc.ApplyPayment(ctx, completedEvent("sess-1", "user-1", 100))
	if err != nil {
		t.Fatalf("apply payment failed: %v", err)
	}
	if !applied {
		t.Error("first delivery should apply")
	}

	// Duplicate webhook delivery for the same session
	applied, err = svc.ApplyPayment(ctx, completedEvent("sess-1", "user-1", 100))
	if err != nil {
		t.Fatalf("duplicate apply failed: %v", err)
	}
	if applied {
		t.Error("duplicate delivery must not apply again")
	}

	bal, err := svc.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if bal != 100 {
		t.Errorf("expected balance 100 after duplicate delivery, got %d", bal)
	}
}

func TestApplyPayment_IgnoresNonCompleted(t *testing.T) {
	ledger := NewMemoryLedger()
	svc := NewCreditService(ledger, 1)
	ctx := context.Background()

	event := completedEvent("sess-2", "user-1", 50)
	event.Status = model.PaymentStatusPending

	applied, err := svc.ApplyPayment(ctx, event)
	if err != nil {
		t.Fatalf("apply payment failed: %v", err)
	}
	if applied {
		t.Error("pending event must not apply")
	}

	bal, _ := svc.Balance(ctx, "user-1")
	if bal != 0 {
		t.Errorf("expected balance 0, got %d", bal)
	}

	// The session id is still unclaimed; the completed event applies later.
	applied, err = svc.ApplyPayment(ctx, completedEvent("sess-2", "user-1", 50))
	if err != nil {
		t.Fatalf("apply payment failed: %v", err)
	}
	if !applied {
		t.Error("completed event after pending should apply")
	}
}

// flakyLedger fails a number of AddCredits calls before recovering
type flakyLedger struct {
	*MemoryLedger
	failAdds int
}

func (l *flakyLedger) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	if l.failAdds > 0 {
		l.failAdds--
		return 0, errors.New("ledger unavailable")
	}
	return l.MemoryLedger.AddCredits(ctx, userID, amount)
}

func TestApplyPayment_RetryAfterCreditFailure(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: NewMemoryLedger(), failAdds: 1}
	svc := NewCreditService(ledger, 1)
	ctx := context.Background()
	event := completedEvent("sess-3", "user-1", 40)

	// The credit write fails after the session was claimed; the session must
	// be released so the processor's retry is not treated as a duplicate.
	if _, err := svc.ApplyPayment(ctx, event); err == nil {
		t.Fatal("expected apply to fail while the ledger is down")
	}

	applied, err := svc.ApplyPayment(ctx, event)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !applied {
		t.Error("retry after a failed credit must apply")
	}

	bal, _ := svc.Balance(ctx, "user-1")
	if bal != 40 {
		t.Errorf("expected balance 40 after retry, got %d", bal)
	}
}

func TestDebitForTask_InsufficientCredits(t *testing.T) {
	ledger := NewMemoryLedger()
	svc := NewCreditService(ledger, 1)
	ctx := context.Background()

	err := svc.DebitForTask(ctx, "user-1")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}

	bal, _ := svc.Balance(ctx, "user-1")
	if bal != 0 {
		t.Errorf("failed debit must not change the balance, got %d", bal)
	}
}

func TestDebitForTask_TakesCostAtSubmission(t *testing.T) {
	ledger := NewMemoryLedger()
	svc := NewCreditService(ledger, 2)
	ctx := context.Background()

	if _, err := ledger.AddCredits(ctx, "user-1", 5); err != nil {
		t.Fatalf("seed credits failed: %v", err)
	}

	if err := svc.DebitForTask(ctx, "user-1"); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	bal, _ := svc.Balance(ctx, "user-1")
	if bal != 3 {
		t.Errorf("expected balance 3 after debit, got %d", bal)
	}

	// Second debit would leave 1, third must fail
	if err := svc.DebitForTask(ctx, "user-1"); err != nil {
		t.Fatalf("second debit failed: %v", err)
	}
	if err := svc.DebitForTask(ctx, "user-1"); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}
}
