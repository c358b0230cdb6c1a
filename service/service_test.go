package service_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/hpkebridge/model"
	"github.com/collapsinghierarchy/hpkebridge/pkc/hpke"
	"github.com/collapsinghierarchy/hpkebridge/service"
	"github.com/collapsinghierarchy/hpkebridge/store"
)

// fakeStore implements the minimal store.Store interface for tests.
type fakeStore struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*model.RecipientKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[uuid.UUID]*model.RecipientKey)}
}

func (f *fakeStore) RegisterKey(ctx context.Context, key *model.RecipientKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *key
	f.keys[key.AppID] = &cp
	return nil
}

func (f *fakeStore) GetKey(ctx context.Context, appID uuid.UUID) (*model.RecipientKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[appID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (f *fakeStore) AppExists(ctx context.Context, appID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[appID]
	return ok, nil
}

func testKeyPair(t *testing.T) (sk, pk []byte) {
	t.Helper()
	s, err := hpke.NewSuite(hpke.DHKemX25519HkdfSha256, hpke.KdfHkdfSha256, hpke.AeadAes128Gcm)
	if err != nil {
		t.Fatal(err)
	}
	sk, pk, err = s.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return sk, pk
}

// -------------------------------------------------------------------------

func TestSenderRecipientThroughHandles(t *testing.T) {
	svc := service.New(newFakeStore())
	skR, pkR := testKeyPair(t)

	hs := svc.NewContext()
	enc, err := svc.SetupSender(hs, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead256(), pkR, []byte("info"))
	if err != nil {
		t.Fatalf("SetupSender: %v", err)
	}

	hr := svc.NewContext()
	if err := svc.SetupRecipient(hr, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead256(), skR, enc, []byte("info")); err != nil {
		t.Fatalf("SetupRecipient: %v", err)
	}

	ct, err := svc.Seal(hs, []byte("payload"), []byte("ad"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := svc.Open(hr, ct, []byte("ad"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(pt, []byte("payload")) {
		t.Errorf("round trip through handles: got %q", pt)
	}

	expS, err := svc.Export(hs, []byte("l"), 16)
	if err != nil {
		t.Fatal(err)
	}
	expR, err := svc.Export(hr, []byte("l"), 16)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(expS, expR) {
		t.Error("exporter secrets differ across the two handles")
	}
}

func TestSetupSenderWithSeedDeterministic(t *testing.T) {
	svc := service.New(newFakeStore())
	_, pkR := testKeyPair(t)
	seed := bytes.Repeat([]byte{7}, 32)

	h1 := svc.NewContext()
	enc1, err := svc.SetupSenderWithSeed(h1, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, []byte("i"), seed)
	if err != nil {
		t.Fatal(err)
	}
	h2 := svc.NewContext()
	enc2, err := svc.SetupSenderWithSeed(h2, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, []byte("i"), seed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc1, enc2) {
		t.Error("identical seed must yield identical encapsulated key")
	}
}

func TestFreeContextInvalidatesHandle(t *testing.T) {
	svc := service.New(newFakeStore())
	_, pkR := testKeyPair(t)

	h := svc.NewContext()
	if _, err := svc.SetupSender(h, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil); err != nil {
		t.Fatal(err)
	}
	svc.FreeContext(h)
	svc.FreeContext(h) // idempotent

	if _, err := svc.Seal(h, []byte("x"), nil); !errors.Is(err, service.ErrInvalidHandle) {
		t.Errorf("seal after free: got %v, want ErrInvalidHandle", err)
	}
	if _, err := svc.SetupSender(h, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil); !errors.Is(err, service.ErrInvalidHandle) {
		t.Errorf("setup after free: got %v, want ErrInvalidHandle", err)
	}
}

// A freed slot gets reused, but the old handle must not alias the new
// occupant: the generation bump has to make it miss.
func TestHandleGenerationNoAliasing(t *testing.T) {
	svc := service.New(newFakeStore())
	_, pkR := testKeyPair(t)

	old := svc.NewContext()
	svc.FreeContext(old)

	fresh := svc.NewContext()
	if fresh == old {
		t.Fatal("reused slot produced an identical handle")
	}
	if _, err := svc.SetupSender(fresh, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Seal(old, []byte("x"), nil); !errors.Is(err, service.ErrInvalidHandle) {
		t.Errorf("stale handle reached the new context: %v", err)
	}
}

func TestZeroHandleInvalid(t *testing.T) {
	svc := service.New(newFakeStore())
	if _, err := svc.Seal(service.Handle(0), nil, nil); !errors.Is(err, service.ErrInvalidHandle) {
		t.Errorf("zero handle: got %v", err)
	}
	if _, err := svc.Open(service.Handle(1<<40), nil, nil); !errors.Is(err, service.ErrInvalidHandle) {
		t.Errorf("out-of-range handle: got %v", err)
	}
}

func TestDoubleSetupRejected(t *testing.T) {
	svc := service.New(newFakeStore())
	skR, pkR := testKeyPair(t)

	h := svc.NewContext()
	enc, err := svc.SetupSender(h, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SetupSender(h, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil); !errors.Is(err, service.ErrContextActive) {
		t.Errorf("second sender setup: got %v, want ErrContextActive", err)
	}
	if err := svc.SetupRecipient(h, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), skR, enc, nil); !errors.Is(err, service.ErrContextActive) {
		t.Errorf("recipient setup on sender context: got %v, want ErrContextActive", err)
	}
}

func TestOperationsBeforeSetup(t *testing.T) {
	svc := service.New(newFakeStore())
	h := svc.NewContext()
	if _, err := svc.Seal(h, []byte("x"), nil); !errors.Is(err, service.ErrContextNotReady) {
		t.Errorf("seal before setup: got %v", err)
	}
	if _, err := svc.Open(h, []byte("x"), nil); !errors.Is(err, service.ErrContextNotReady) {
		t.Errorf("open before setup: got %v", err)
	}
	if _, err := svc.Export(h, nil, 8); !errors.Is(err, service.ErrContextNotReady) {
		t.Errorf("export before setup: got %v", err)
	}
}

func TestSetupSenderForApp(t *testing.T) {
	fs := newFakeStore()
	svc := service.New(fs)
	skR, pkR := testKeyPair(t)
	appID := uuid.New()

	if err := svc.RegisterKey(context.Background(), appID, 3, svc.SelectKem(), pkR); err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}

	hs := svc.NewContext()
	enc, kid, err := svc.SetupSenderForApp(context.Background(), hs, appID, svc.SelectKdf(), svc.SelectAead128(), []byte("i"), nil)
	if err != nil {
		t.Fatalf("SetupSenderForApp: %v", err)
	}
	if kid != 3 {
		t.Errorf("kid: got %d, want 3", kid)
	}

	hr := svc.NewContext()
	if err := svc.SetupRecipient(hr, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), skR, enc, []byte("i")); err != nil {
		t.Fatal(err)
	}
	ct, err := svc.Seal(hs, []byte("via directory"), nil)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := svc.Open(hr, ct, nil)
	if err != nil || !bytes.Equal(pt, []byte("via directory")) {
		t.Fatalf("round trip via directory: %q, %v", pt, err)
	}

	// Unknown app surfaces as ErrAppNotFound, not a driver error.
	if _, _, err := svc.SetupSenderForApp(context.Background(), svc.NewContext(), uuid.New(), svc.SelectKdf(), svc.SelectAead128(), nil, nil); !errors.Is(err, service.ErrAppNotFound) {
		t.Errorf("unknown app: got %v", err)
	}
}

func TestRegisterKeyValidation(t *testing.T) {
	svc := service.New(newFakeStore())
	if err := svc.RegisterKey(context.Background(), uuid.New(), 1, svc.SelectKem(), make([]byte, 16)); !errors.Is(err, hpke.ErrInvalidPublicKeyLength) {
		t.Errorf("short key: got %v", err)
	}
	if err := svc.RegisterKey(context.Background(), uuid.New(), 1, hpke.KemID(0x0010), make([]byte, 65)); !errors.Is(err, hpke.ErrUnsupported) {
		t.Errorf("unknown kem: got %v", err)
	}
}

func TestShutdownDrainsTable(t *testing.T) {
	svc := service.New(newFakeStore())
	_, pkR := testKeyPair(t)

	handles := make([]service.Handle, 0, 8)
	for i := 0; i < 8; i++ {
		h := svc.NewContext()
		if _, err := svc.SetupSender(h, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil); err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	svc.Shutdown()
	for _, h := range handles {
		if _, err := svc.Seal(h, []byte("x"), nil); !errors.Is(err, service.ErrInvalidHandle) {
			t.Errorf("handle %d survived shutdown: %v", h, err)
		}
	}
}

// Table insert/lookup/remove from many goroutines; meant for -race runs.
func TestConcurrentTableAccess(t *testing.T) {
	svc := service.New(newFakeStore())
	_, pkR := testKeyPair(t)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h := svc.NewContext()
				if _, err := svc.SetupSender(h, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil); err != nil {
					t.Errorf("setup: %v", err)
					return
				}
				if _, err := svc.Seal(h, []byte("m"), nil); err != nil {
					t.Errorf("seal: %v", err)
					return
				}
				svc.FreeContext(h)
			}
		}()
	}
	wg.Wait()
}

// A stale handle probed while its slot is being recycled must always come
// back ErrInvalidHandle, with no unsynchronized slot access; meant for
// -race runs.
func TestStaleHandleDuringRecycle(t *testing.T) {
	svc := service.New(newFakeStore())

	stale := svc.NewContext()
	svc.FreeContext(stale)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			h := svc.NewContext() // reuses the freed slot
			svc.FreeContext(h)
		}
	}()
	for probing := true; probing; {
		select {
		case <-done:
			probing = false
		default:
		}
		if _, err := svc.Seal(stale, []byte("x"), nil); !errors.Is(err, service.ErrInvalidHandle) {
			t.Fatalf("stale handle reached a recycled slot: %v", err)
		}
	}
}

func TestAppExists(t *testing.T) {
	svc := service.New(newFakeStore())
	_, pkR := testKeyPair(t)
	appID := uuid.New()

	ok, err := svc.AppExists(context.Background(), appID)
	if err != nil || ok {
		t.Fatalf("unregistered app: got (%v, %v)", ok, err)
	}
	if err := svc.RegisterKey(context.Background(), appID, 1, svc.SelectKem(), pkR); err != nil {
		t.Fatal(err)
	}
	ok, err = svc.AppExists(context.Background(), appID)
	if err != nil || !ok {
		t.Fatalf("registered app: got (%v, %v)", ok, err)
	}
}

func TestReplayPolicyOption(t *testing.T) {
	svc := service.New(newFakeStore(), service.WithReplayPolicy(hpke.ReplayStrictSequential))
	skR, pkR := testKeyPair(t)

	hs := svc.NewContext()
	enc, err := svc.SetupSender(hs, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), pkR, nil)
	if err != nil {
		t.Fatal(err)
	}
	ct0, _ := svc.Seal(hs, []byte("zero"), nil)
	ct1, _ := svc.Seal(hs, []byte("one"), nil)

	hr := svc.NewContext()
	if err := svc.SetupRecipient(hr, svc.SelectKem(), svc.SelectKdf(), svc.SelectAead128(), skR, enc, nil); err != nil {
		t.Fatal(err)
	}
	// Strict policy: failing on ct1 first burns seq 0, so ct0 is dead.
	if _, err := svc.Open(hr, ct1, nil); !errors.Is(err, hpke.ErrAuthentication) {
		t.Fatalf("out-of-order open: got %v", err)
	}
	if _, err := svc.Open(hr, ct0, nil); !errors.Is(err, hpke.ErrAuthentication) {
		t.Error("strict service must not open a burned sequence number")
	}
	if pt, err := svc.Open(hr, ct1, nil); err != nil || !bytes.Equal(pt, []byte("one")) {
		t.Fatalf("strict open of aligned message: %q, %v", pt, err)
	}
}
