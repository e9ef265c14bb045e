package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state := State{
		WalletConnected:     true,
		WalletAddress:       "0xabc",
		CurrentNonce:        "0x01",
		LastVerificationID:  "ver_1",
		LastSettlementID:    "set_1",
		PaymentVerified:     true,
		LastTransactionHash: "0xdead",
	}

	if err := Save(ctx, store, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != state {
		t.Errorf("Loaded state %+v does not match %+v", loaded, state)
	}

	if _, ok, _ := store.Get(ctx, KeyPaymentInProgress); ok {
		t.Error("False flags must not be persisted")
	}
}

func TestSaveRemovesClearedKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state := State{WalletConnected: true, WalletAddress: "0xabc", PaymentInProgress: true, CurrentNonce: "0x01"}
	if err := Save(ctx, store, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	store.Set(ctx, "unrelated", "keep")

	state.ClearPayment()
	if err := Save(ctx, store, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	values, _ := store.All(ctx)
	if _, ok := values[KeyCurrentNonce]; ok {
		t.Error("Nonce should have been removed")
	}
	if _, ok := values[KeyPaymentInProgress]; ok {
		t.Error("In-progress flag should have been removed")
	}
	if values[KeyWalletAddress] != "0xabc" {
		t.Errorf("Wallet address lost: %v", values)
	}
	if values["unrelated"] != "keep" {
		t.Error("Keys outside the state must be left alone")
	}
}

func TestFromMapIgnoresGarbage(t *testing.T) {
	state := FromMap(map[string]string{
		KeyWalletConnected: "yes",
		KeyPaymentVerified: "true",
		"other":            "x",
	})
	if state.WalletConnected {
		t.Error("Unparseable bool should read as false")
	}
	if !state.PaymentVerified {
		t.Error("Expected payment_verified to be true")
	}
}

func TestBeginAttemptDropsPreviousProof(t *testing.T) {
	state := State{
		WalletConnected:     true,
		WalletAddress:       "0xabc",
		CurrentNonce:        "0x01",
		LastVerificationID:  "ver_1",
		LastSettlementID:    "set_1",
		PaymentVerified:     true,
		LastTransactionHash: "0xdead",
		LastSignature:       "0xsig",
		LastValidBefore:     "1700000000",
		LastAuthorizedTo:    "0xmerchant",
	}

	state.BeginAttempt()

	want := State{WalletConnected: true, WalletAddress: "0xabc", PaymentInProgress: true}
	if state != want {
		t.Errorf("Expected %+v, got %+v", want, state)
	}
}

func TestConfirmSettlement(t *testing.T) {
	pending := State{
		CurrentNonce:       "0x01",
		LastVerificationID: "ver_1",
		LastSettlementID:   "set_1",
		LastSignature:      "0xsig",
		LastValidBefore:    "1700000000",
		LastAuthorizedTo:   "0xmerchant",
	}

	other := pending
	if other.ConfirmSettlement("set_2", "0xfeed") {
		t.Error("Another settlement must not mark this session verified")
	}

	noProof := pending
	noProof.LastSignature = ""
	if noProof.ConfirmSettlement("set_1", "0xfeed") || noProof.PaymentVerified {
		t.Error("Confirmation without the signed authorization must be refused")
	}

	if !pending.ConfirmSettlement("set_1", "0xfeed") {
		t.Fatal("Expected confirmation to be recorded")
	}
	if !pending.PaymentVerified || pending.LastTransactionHash != "0xfeed" {
		t.Errorf("Unexpected state after confirmation: %+v", pending)
	}
}

func TestResourceCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	body := []byte(`{"data":"premium"}`)
	if err := CacheResource(ctx, store, "/api/premium-data", body); err != nil {
		t.Fatalf("CacheResource failed: %v", err)
	}

	cached, ok, err := CachedResource(ctx, store, "/api/premium-data")
	if err != nil || !ok {
		t.Fatalf("Expected cached body, got ok=%v err=%v", ok, err)
	}
	if string(cached) != string(body) {
		t.Errorf("Cached body mismatch: %s", cached)
	}

	// tamper with the stored body
	store.Set(ctx, cachePrefix+"/api/premium-data", "e30=")
	if _, ok, _ := CachedResource(ctx, store, "/api/premium-data"); ok {
		t.Error("Tampered cache entry must not be returned")
	}

	if err := DropResourceCache(ctx, store); err != nil {
		t.Fatalf("DropResourceCache failed: %v", err)
	}
	values, _ := store.All(ctx)
	if len(values) != 0 {
		t.Errorf("Expected empty store, got %v", values)
	}
}

func TestRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	ctx := context.Background()
	store := NewRedisStore(client, "test-"+time.Now().Format("150405.000000"), time.Minute)
	defer store.Clear(ctx)

	state := State{WalletConnected: true, WalletAddress: "0xabc", PaymentInProgress: true}
	if err := Save(ctx, store, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != state {
		t.Errorf("Loaded state %+v does not match %+v", loaded, state)
	}

	if _, ok, err := store.Get(ctx, KeyCurrentNonce); err != nil || ok {
		t.Errorf("Expected missing key, got ok=%v err=%v", ok, err)
	}

	ttl, err := client.TTL(ctx, store.key).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("Expected a TTL on the session hash, got %v (%v)", ttl, err)
	}
}
