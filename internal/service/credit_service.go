package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/motionforge/api/internal/model"
	"github.com/redis/go-redis/v9"
)

// ErrInsufficientCredits is returned when a debit would take a balance negative
var ErrInsufficientCredits = errors.New("insufficient credits")

// CreditLedger is the durable credit store. MarkPaymentCompleted must behave
// as a compare-and-set: only the first call for a session id wins.
// RemovePayment releases a session id so a later delivery can win it again.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	AddCredits(ctx context.Context, userID string, amount int64) (int64, error)
	DebitCredits(ctx context.Context, userID string, amount int64) (int64, error)
	MarkPaymentCompleted(ctx context.Context, record *model.PaymentRecord) (bool, error)
	RemovePayment(ctx context.Context, sessionID string) error
}

// RedisLedger implements CreditLedger on Redis counters
type RedisLedger struct {
	redis *redis.Client
}

func NewRedisLedger(redisClient *redis.Client) *RedisLedger {
	return &RedisLedger{redis: redisClient}
}

func creditKey(userID string) string  { return fmt.Sprintf("credits:%s", userID) }
func paymentKey(sessID string) string { return fmt.Sprintf("payment:%s", sessID) }

func (l *RedisLedger) Balance(ctx context.Context, userID string) (int64, error) {
	bal, err := l.redis.Get(ctx, creditKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return bal, err
}

func (l *RedisLedger) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	return l.redis.IncrBy(ctx, creditKey(userID), amount).Result()
}

// DebitCredits decrements atomically and rolls back if the balance went
// negative, so concurrent debits cannot overspend.
func (l *RedisLedger) DebitCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	bal, err := l.redis.DecrBy(ctx, creditKey(userID), amount).Result()
	if err != nil {
		return 0, err
	}
	if bal < 0 {
		if _, err := l.redis.IncrBy(ctx, creditKey(userID), amount).Result(); err != nil {
			return 0, err
		}
		return bal + amount, ErrInsufficientCredits
	}
	return bal, nil
}

func (l *RedisLedger) MarkPaymentCompleted(ctx context.Context, record *model.PaymentRecord) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	return l.redis.SetNX(ctx, paymentKey(record.SessionID), data, 0).Result()
}

func (l *RedisLedger) RemovePayment(ctx context.Context, sessionID string) error {
	return l.redis.Del(ctx, paymentKey(sessionID)).Err()
}

// MemoryLedger implements CreditLedger in process memory. Used in tests and
// when running without Redis in local development.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	payments map[string]*model.PaymentRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int64),
		payments: make(map[string]*model.PaymentRecord),
	}
}

func (l *MemoryLedger) Balance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *MemoryLedger) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return l.balances[userID], nil
}

func (l *MemoryLedger) DebitCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return l.balances[userID], ErrInsufficientCredits
	}
	l.balances[userID] -= amount
	return l.balances[userID], nil
}

func (l *MemoryLedger) MarkPaymentCompleted(ctx context.Context, record *model.PaymentRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.payments[record.SessionID]; exists {
		return false, nil
	}
	clone := *record
	l.payments[record.SessionID] = &clone
	return true, nil
}

func (l *MemoryLedger) RemovePayment(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.payments, sessionID)
	return nil
}

// CreditService applies usage debits and payment credits. Generation tasks
// are debited at submission, not completion, so a task that later times out
// or fails has already consumed its credit.
type CreditService struct {
	ledger      CreditLedger
	costPerTask int64
}

func NewCreditService(ledger CreditLedger, costPerTask int64) *CreditService {
	if costPerTask <= 0 {
		costPerTask = 1
	}
	return &CreditService{
		ledger:      ledger,
		costPerTask: costPerTask,
	}
}

// Balance returns the caller's current credit balance
func (s *CreditService) Balance(ctx context.Context, userID string) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

// DebitForTask takes the per-task cost from the caller's balance
func (s *CreditService) DebitForTask(ctx context.Context, userID string) error {
	_, err := s.ledger.DebitCredits(ctx, userID, s.costPerTask)
	return err
}

// ApplyPayment applies a payment-completion event at most once per session
// id. Duplicate deliveries are acknowledged without a second credit.
func (s *CreditService) ApplyPayment(ctx context.Context, event *model.PaymentEvent) (bool, error) {
	if event.Status != model.PaymentStatusCompleted {
		return false, nil
	}

	now := time.Now()
	record := &model.PaymentRecord{
		SessionID:   event.SessionID,
		UserID:      event.Metadata.UserID,
		Credits:     event.Metadata.Credits,
		Status:      model.PaymentStatusCompleted,
		CompletedAt: &now,
	}

	first, err := s.ledger.MarkPaymentCompleted(ctx, record)
	if err != nil {
		return false, fmt.Errorf("failed to record payment: %w", err)
	}
	if !first {
		return false, nil
	}

	if _, err := s.ledger.AddCredits(ctx, event.Metadata.UserID, event.Metadata.Credits); err != nil {
		// Release the session id so the processor's retry is not swallowed
		// as a duplicate while the credit never landed.
		if rmErr := s.ledger.RemovePayment(ctx, event.SessionID); rmErr != nil {
			return false, fmt.Errorf("failed to apply credit (session %s left claimed): %w", event.SessionID, err)
		}
		return false, fmt.Errorf("failed to apply credit: %w", err)
	}

	return true, nil
}
