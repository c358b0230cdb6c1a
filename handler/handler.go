package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/hpkebridge/pkc/hpke"
	"github.com/collapsinghierarchy/hpkebridge/service"
)

// Server exposes the binding surface over HTTP. Handles travel as decimal
// strings (JSON numbers cannot hold the full 64-bit range); all byte
// parameters are base64-wrapped raw binary, no text encoding assumed.
type Server struct {
	svc *service.Service
}

// New returns a ready Server instance.
func New(svc *service.Service) *Server { return &Server{svc: svc} }

// SetupHBRoutes wires the binding endpoints onto a fresh mux.
func SetupHBRoutes(svc *service.Service) http.Handler {
	s := New(svc)
	mux := http.NewServeMux()
	mux.Handle("/hb/v1/keys", http.HandlerFunc(s.Keys))
	mux.Handle("/hb/v1/ctx", http.HandlerFunc(s.NewContext))
	mux.Handle("/hb/v1/ctx/free", http.HandlerFunc(s.FreeContext))
	mux.Handle("/hb/v1/ctx/setup", http.HandlerFunc(s.SetupSender))
	mux.Handle("/hb/v1/ctx/setup-recipient", http.HandlerFunc(s.SetupRecipient))
	mux.Handle("/hb/v1/ctx/seal", http.HandlerFunc(s.Seal))
	mux.Handle("/hb/v1/ctx/open", http.HandlerFunc(s.Open))
	return mux
}

// -------- request / response shapes ----------------------------------------

type registerKeyRequest struct {
	App string `json:"app"`
	Kid uint8  `json:"kid"`
	Kem uint16 `json:"kem"`
	Pub string `json:"pub"` // base64(raw public key)
}

type setupRequest struct {
	Handle string `json:"handle"`
	Kem    uint16 `json:"kem"`
	Kdf    uint16 `json:"kdf"`
	Aead   uint16 `json:"aead"`
	App    string `json:"app,omitempty"` // either app id…
	Pub    string `json:"pub,omitempty"` // …or raw recipient key
	Info   string `json:"info,omitempty"`
	Seed   string `json:"seed,omitempty"` // optional deterministic seed
	Sk     string `json:"sk,omitempty"`   // recipient setup only
	Enc    string `json:"enc,omitempty"`  // recipient setup only
}

type messageRequest struct {
	Handle string `json:"handle"`
	Msg    string `json:"msg"` // base64(plaintext or ciphertext)
	Aad    string `json:"aad,omitempty"`
}

// -------- endpoints ---------------------------------------------------------

// Keys registers (POST) or fetches (GET) an app's recipient public key.
// HEAD is an existence probe: 204 when the app has a key, 404 otherwise,
// no key bytes on the wire.
func (s *Server) Keys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req registerKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		appID, err := uuid.Parse(req.App)
		if err != nil {
			http.Error(w, "invalid app id", http.StatusBadRequest)
			return
		}
		pub, err := base64.StdEncoding.DecodeString(req.Pub)
		if err != nil {
			http.Error(w, "invalid pub", http.StatusBadRequest)
			return
		}
		if err := s.svc.RegisterKey(r.Context(), appID, req.Kid, hpke.KemID(req.Kem), pub); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		appID, err := uuid.Parse(r.URL.Query().Get("app"))
		if err != nil {
			http.Error(w, "invalid app id", http.StatusBadRequest)
			return
		}
		key, err := s.svc.GetKey(r.Context(), appID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"app": key.AppID.String(),
			"kid": key.Kid,
			"kem": key.KemID,
			"pub": base64.StdEncoding.EncodeToString(key.PubKey),
		})

	case http.MethodHead:
		appID, err := uuid.Parse(r.URL.Query().Get("app"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		exists, err := s.svc.AppExists(r.Context(), appID)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// NewContext allocates an empty context slot.
func (s *Server) NewContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h := s.svc.NewContext()
	writeJSON(w, map[string]any{"handle": formatHandle(h)})
}

// FreeContext releases a handle. Idempotent, always 204.
func (s *Server) FreeContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h, err := parseHandle(req.Handle)
	if err != nil {
		http.Error(w, "invalid handle", http.StatusBadRequest)
		return
	}
	s.svc.FreeContext(h)
	w.WriteHeader(http.StatusNoContent)
}

// SetupSender performs sender-side context setup, either against a
// registered app or against raw recipient key bytes, optionally seeded.
func (s *Server) SetupSender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h, err := parseHandle(req.Handle)
	if err != nil {
		http.Error(w, "invalid handle", http.StatusBadRequest)
		return
	}
	info := []byte(req.Info)
	seed, err := b64Field(req.Seed)
	if err != nil {
		http.Error(w, "invalid seed", http.StatusBadRequest)
		return
	}

	if req.App != "" {
		appID, err := uuid.Parse(req.App)
		if err != nil {
			http.Error(w, "invalid app id", http.StatusBadRequest)
			return
		}
		enc, kid, err := s.svc.SetupSenderForApp(r.Context(), h, appID,
			hpke.KdfID(req.Kdf), hpke.AeadID(req.Aead), info, seed)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"enc": base64.StdEncoding.EncodeToString(enc),
			"kid": kid,
		})
		return
	}

	pub, err := b64Field(req.Pub)
	if err != nil || pub == nil {
		http.Error(w, "invalid pub", http.StatusBadRequest)
		return
	}
	enc, err := s.svc.SetupSenderWithSeed(h, hpke.KemID(req.Kem),
		hpke.KdfID(req.Kdf), hpke.AeadID(req.Aead), pub, info, seed)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"enc": base64.StdEncoding.EncodeToString(enc)})
}

// SetupRecipient performs recipient-side context setup from a private key
// and an encapsulated key.
func (s *Server) SetupRecipient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h, err := parseHandle(req.Handle)
	if err != nil {
		http.Error(w, "invalid handle", http.StatusBadRequest)
		return
	}
	sk, err := b64Field(req.Sk)
	if err != nil || sk == nil {
		http.Error(w, "invalid sk", http.StatusBadRequest)
		return
	}
	enc, err := b64Field(req.Enc)
	if err != nil || enc == nil {
		http.Error(w, "invalid enc", http.StatusBadRequest)
		return
	}
	if err := s.svc.SetupRecipient(h, hpke.KemID(req.Kem), hpke.KdfID(req.Kdf),
		hpke.AeadID(req.Aead), sk, enc, []byte(req.Info)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Seal encrypts one message under the context at the given handle.
func (s *Server) Seal(w http.ResponseWriter, r *http.Request) {
	s.message(w, r, s.svc.Seal)
}

// Open decrypts one message under the context at the given handle.
func (s *Server) Open(w http.ResponseWriter, r *http.Request) {
	s.message(w, r, s.svc.Open)
}

func (s *Server) message(w http.ResponseWriter, r *http.Request, op func(service.Handle, []byte, []byte) ([]byte, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h, err := parseHandle(req.Handle)
	if err != nil {
		http.Error(w, "invalid handle", http.StatusBadRequest)
		return
	}
	msg, err := base64.StdEncoding.DecodeString(req.Msg)
	if err != nil {
		http.Error(w, "invalid msg", http.StatusBadRequest)
		return
	}
	aad, err := b64Field(req.Aad)
	if err != nil {
		http.Error(w, "invalid aad", http.StatusBadRequest)
		return
	}
	out, err := op(h, msg, aad)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"msg": base64.StdEncoding.EncodeToString(out)})
}

// -------- helpers -----------------------------------------------------------

func formatHandle(h service.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

func parseHandle(s string) (service.Handle, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return service.Handle(v), err
}

func b64Field(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr translates the typed error taxonomy into status codes. Crypto
// failures stay deliberately vague on the wire.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidHandle),
		errors.Is(err, service.ErrAppNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrContextActive),
		errors.Is(err, service.ErrContextNotReady),
		errors.Is(err, hpke.ErrContextExhausted),
		errors.Is(err, hpke.ErrContextClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, hpke.ErrAuthentication):
		http.Error(w, "authentication failed", http.StatusBadRequest)
	case errors.Is(err, hpke.ErrUnsupported),
		errors.Is(err, hpke.ErrInvalidPublicKeyLength),
		errors.Is(err, hpke.ErrInvalidPrivateKeyLength),
		errors.Is(err, hpke.ErrInvalidSeedLength),
		errors.Is(err, hpke.ErrInfoTooLong),
		errors.Is(err, hpke.ErrEncapsulation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
