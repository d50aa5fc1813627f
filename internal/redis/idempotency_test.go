package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())

	result, err := svc.CheckOrReserve(context.Background(), "client-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_InFlightRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "client-1", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	if _, err := svc.CheckOrReserve(ctx, "client-1", "key-1"); err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_ReplaysStoredResult(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "client-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	body := json.RawMessage(`{"created":3}`)
	if err := svc.Store(ctx, "client-1", "key-1", &IdempotencyResult{
		EventID:    "evt-123",
		StatusCode: 201,
		Body:       body,
	}, IdempotencyTTL); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	cached, err := svc.CheckOrReserve(ctx, "client-1", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if cached == nil {
		t.Fatal("expected cached result")
	}
	if cached.EventID != "evt-123" || cached.StatusCode != 201 {
		t.Errorf("unexpected cached result: %+v", cached)
	}
	if string(cached.Body) != string(body) {
		t.Errorf("body = %s, want %s", cached.Body, body)
	}
	if cached.CreatedAt == 0 {
		t.Error("CreatedAt should be stamped on store")
	}
}

func TestIdempotencyService_ScopeIsolation(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "client-A", "same-key"); err != nil {
		t.Fatalf("client A failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "client-B", "same-key")
	if err != nil {
		t.Fatalf("client B should succeed: %v", err)
	}
	if result != nil {
		t.Fatal("client B should get nil (new request)")
	}
}

func TestIdempotencyService_ReleaseAllowsRetry(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if reserved, err := svc.Reserve(ctx, "client-1", "key-1"); err != nil || !reserved {
		t.Fatalf("reserve failed: %v, reserved: %v", err, reserved)
	}
	if err := svc.Release(ctx, "client-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	reserved, err := svc.Reserve(ctx, "client-1", "key-1")
	if err != nil || !reserved {
		t.Fatalf("reserve after release failed: %v, reserved: %v", err, reserved)
	}
}

func TestIdempotencyService_ReleaseKeepsStoredResult(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if err := svc.Store(ctx, "client-1", "key-1", &IdempotencyResult{EventID: "evt-1", StatusCode: 202}, IdempotencyTTL); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := svc.Release(ctx, "client-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	cached, err := svc.Check(ctx, "client-1", "key-1")
	if err != nil || cached == nil {
		t.Fatalf("stored result should survive release: %v, %+v", err, cached)
	}
}

func TestIdempotencyService_ReservationExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "client-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	mr.FastForward(processingTTL + time.Second)

	result, err := svc.CheckOrReserve(ctx, "client-1", "key-1")
	if err != nil || result != nil {
		t.Fatalf("expired reservation should be re-acquirable: %v, %+v", err, result)
	}
}
