package config

type Config struct {
	Addr            string // e.g. ":8443"
	DatabaseURL     string
	StrictReplay    bool  // burn sequence numbers on failed opens
	MaxMessageBytes int64 // request body guard, e.g. 64*1024
}
