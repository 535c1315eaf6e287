package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestPairing(t *testing.T) (*PairingService, *Store) {
	t.Helper()

	db := testDB(t)
	repo := NewSQLiteRepository(db)
	store, err := NewStore(repo)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	codes := NewSQLitePairingRepository(db)
	svc := NewPairingService(codes, store, 6, 15*time.Minute)
	return svc, store
}

func registerTestDevice(t *testing.T, store *Store) *RegisterResult {
	t.Helper()

	reg, err := store.Register(context.Background(), RegisterRequest{
		InstallID:  "install-1",
		HardwareID: "hw-1",
		Name:       "Lobby Display",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestPairingGenerateAndClaim(t *testing.T) {
	svc, store := newTestPairing(t)
	ctx := context.Background()
	reg := registerTestDevice(t, store)

	issued, err := svc.GenerateCode(ctx, reg.Device.ID, time.Minute)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if len(issued.Code) != 6 {
		t.Errorf("code length = %d, want 6", len(issued.Code))
	}
	if issued.Token == "" {
		t.Error("issued pairing has no token")
	}

	loc := "Reception"
	result, err := svc.Claim(ctx, ClaimRequest{
		Code:     issued.Code,
		Token:    issued.Token,
		Name:     "Reception Display",
		Location: &loc,
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if result.Device.ID != reg.Device.ID {
		t.Errorf("claimed device %q, want %q", result.Device.ID, reg.Device.ID)
	}
	if result.Device.Name != "Reception Display" {
		t.Errorf("name = %q, want Reception Display", result.Device.Name)
	}
	if result.Device.Location == nil || *result.Device.Location != "Reception" {
		t.Errorf("location = %v, want Reception", result.Device.Location)
	}
	if result.NewSecret == "" || result.NewSecret == reg.Secret {
		t.Error("claim must mint a fresh secret")
	}
}

func TestPairingClaimRotatesSecret(t *testing.T) {
	svc, store := newTestPairing(t)
	ctx := context.Background()
	reg := registerTestDevice(t, store)

	issued, err := svc.GenerateCode(ctx, reg.Device.ID, time.Minute)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	result, err := svc.Claim(ctx, ClaimRequest{Code: issued.Code, Token: issued.Token})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Pre-rotation secret must be dead
	if _, err := store.VerifyCredentials(ctx, reg.Device.ID, reg.Secret); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("pre-rotation secret should fail with ErrInvalidCredentials, got %v", err)
	}
	if _, err := store.VerifyCredentials(ctx, reg.Device.ID, result.NewSecret); err != nil {
		t.Errorf("post-rotation secret should verify, got %v", err)
	}
}

func TestPairingSecondClaimFails(t *testing.T) {
	svc, store := newTestPairing(t)
	ctx := context.Background()
	reg := registerTestDevice(t, store)

	issued, err := svc.GenerateCode(ctx, reg.Device.ID, time.Minute)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if _, err := svc.Claim(ctx, ClaimRequest{Code: issued.Code, Token: issued.Token}); err != nil {
		t.Fatalf("first Claim: %v", err)
	}

	_, err = svc.Claim(ctx, ClaimRequest{Code: issued.Code, Token: issued.Token})
	if !errors.Is(err, ErrPairingConsumed) {
		t.Errorf("expected ErrPairingConsumed on second claim, got %v", err)
	}
}

func TestPairingClaimWrongToken(t *testing.T) {
	svc, store := newTestPairing(t)
	ctx := context.Background()
	reg := registerTestDevice(t, store)

	issued, err := svc.GenerateCode(ctx, reg.Device.ID, time.Minute)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	_, err = svc.Claim(ctx, ClaimRequest{Code: issued.Code, Token: "forged-token"})
	if !errors.Is(err, ErrPairingNotFound) {
		t.Errorf("wrong token should be indistinguishable from unknown code, got %v", err)
	}

	// Failed claim must not consume the code
	if _, err := svc.Claim(ctx, ClaimRequest{Code: issued.Code, Token: issued.Token}); err != nil {
		t.Errorf("legitimate claim after forged attempt failed: %v", err)
	}
}

func TestPairingClaimUnknownCode(t *testing.T) {
	svc, _ := newTestPairing(t)

	_, err := svc.Claim(context.Background(), ClaimRequest{Code: "ZZZZZZ", Token: "whatever"})
	if !errors.Is(err, ErrPairingNotFound) {
		t.Errorf("expected ErrPairingNotFound, got %v", err)
	}
}

func TestPairingClaimExpired(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	store, err := NewStore(repo)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	codes := NewSQLitePairingRepository(db)
	svc := NewPairingService(codes, store, 6, 15*time.Minute)
	ctx := context.Background()

	reg := registerTestDevice(t, store)

	// Insert an already-expired code directly
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	err = codes.Create(ctx, &PairingCode{
		Code:      "EXPIRD",
		TokenHash: HashToken(token),
		DeviceID:  reg.Device.ID,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = svc.Claim(ctx, ClaimRequest{Code: "EXPIRD", Token: token})
	if !errors.Is(err, ErrPairingExpired) {
		t.Errorf("expected ErrPairingExpired, got %v", err)
	}
}

func TestPairingGenerateCodeUnknownDevice(t *testing.T) {
	svc, _ := newTestPairing(t)

	_, err := svc.GenerateCode(context.Background(), GenerateID(), time.Minute)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestPairingPurgeExpired(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRepository(db)
	store, err := NewStore(repo)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	codes := NewSQLitePairingRepository(db)
	svc := NewPairingService(codes, store, 6, 15*time.Minute)
	ctx := context.Background()

	reg := registerTestDevice(t, store)

	err = codes.Create(ctx, &PairingCode{
		Code:      "OLDOLD",
		TokenHash: HashToken("t1"),
		DeviceID:  reg.Device.ID,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	err = codes.Create(ctx, &PairingCode{
		Code:      "NEWNEW",
		TokenHash: HashToken("t2"),
		DeviceID:  reg.Device.ID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create live: %v", err)
	}

	deleted, err := svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("purged %d codes, want 1", deleted)
	}

	if _, err := codes.GetByCode(ctx, "NEWNEW"); err != nil {
		t.Errorf("live code should survive purge: %v", err)
	}
	if _, err := codes.GetByCode(ctx, "OLDOLD"); !errors.Is(err, ErrPairingNotFound) {
		t.Errorf("expired code should be gone, got %v", err)
	}
}
