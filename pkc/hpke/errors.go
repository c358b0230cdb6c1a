package hpke

import "errors"

// All failures below are recoverable at the call boundary; the engine never
// panics on malformed external input.
var (
	ErrUnsupported             = errors.New("unsupported algorithm identifier")
	ErrInvalidPublicKeyLength  = errors.New("invalid public key length")
	ErrInvalidPrivateKeyLength = errors.New("invalid private key length")
	ErrInvalidSeedLength       = errors.New("invalid seed length")
	ErrInfoTooLong             = errors.New("info exceeds maximum length")
	ErrInvalidExportLength     = errors.New("invalid export length")
	ErrEncapsulation           = errors.New("encapsulation failed")
	ErrContextExhausted        = errors.New("message limit reached for this context")
	ErrContextClosed           = errors.New("context has been released")
	ErrAuthentication          = errors.New("message authentication failed")
)
