package main

import (
	"errors"
	"strings"
	"time"

	"github.com/goevery/heartbeat/internal/transport"
	"golang.org/x/time/rate"
)

const (
	RegistryBackendMemory  = "memory"
	RegistryBackendMongoDB = "mongodb"
	RegistryBackendRedis   = "redis"

	TransportLocal = "local"
	TransportHTTP  = "http"
)

type Settings struct {
	Port           int    `env:"PORT,default=8000"`
	BasePath       string `env:"BASE_PATH,default=/heartbeat"`
	LogEncoding    string `env:"LOG_ENCODING,default=console"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`
	APIKeys        string `env:"API_KEYS"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	RegistryBackend    string `env:"REGISTRY_BACKEND,default=memory"`
	RegistryTTLSeconds int    `env:"REGISTRY_TTL_SECONDS,default=0"`
	MongoDBURI         string `env:"MONGODB_URI,default=mongodb://localhost:27017"`
	RedisURL           string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	RedisKey           string `env:"REDIS_KEY,default=heartbeat:connections"`

	Transport               string `env:"TRANSPORT,default=local"`
	TransportEndpoint       string `env:"TRANSPORT_ENDPOINT"`
	TransportEndpointFile   string `env:"TRANSPORT_ENDPOINT_FILE"`
	TransportAPIKey         string `env:"TRANSPORT_API_KEY"`
	TransportTimeoutSeconds int    `env:"TRANSPORT_TIMEOUT_SECONDS,default=10"`

	HeartbeatIntervalSeconds int    `env:"HEARTBEAT_INTERVAL_SECONDS,default=60"`
	PingMarker               string `env:"PING_MARKER,default=PING?"`
	SendBufferSize           int    `env:"SEND_BUFFER_SIZE,default=16"`
	TriggerIntervalSeconds   int    `env:"TRIGGER_INTERVAL_SECONDS,default=10"`
	TriggerBurst             int    `env:"TRIGGER_BURST,default=1"`
}

func (s Settings) Validate() error {
	switch s.RegistryBackend {
	case RegistryBackendMemory, RegistryBackendMongoDB, RegistryBackendRedis:
	default:
		return errors.New("REGISTRY_BACKEND must be one of memory, mongodb, redis")
	}

	switch s.Transport {
	case TransportLocal:
		// The local hub only holds this instance's sessions and reports every
		// other id as gone, which would prune live records of a shared registry.
		if s.RegistryBackend != RegistryBackendMemory {
			return errors.New("TRANSPORT=local requires REGISTRY_BACKEND=memory; use TRANSPORT=http with a shared registry")
		}
	case TransportHTTP:
		if s.TransportEndpoint == "" && s.TransportEndpointFile == "" {
			return errors.New("TRANSPORT=http requires TRANSPORT_ENDPOINT or TRANSPORT_ENDPOINT_FILE")
		}
	default:
		return errors.New("TRANSPORT must be one of local, http")
	}

	if s.HeartbeatIntervalSeconds < 0 {
		return errors.New("HEARTBEAT_INTERVAL_SECONDS must not be negative")
	}

	return nil
}

// ValidateOnce checks the settings for a one-shot tick. Such a process holds
// no sessions, so only a remote transport can tell a live peer from a gone one.
func (s Settings) ValidateOnce() error {
	if s.Transport != TransportHTTP {
		return errors.New("-once requires TRANSPORT=http")
	}

	return nil
}

// ResolveTransportEndpoint returns the configured endpoint, reading it from
// TRANSPORT_ENDPOINT_FILE when no literal value is set.
func (s Settings) ResolveTransportEndpoint() (string, error) {
	if s.TransportEndpoint != "" {
		return s.TransportEndpoint, nil
	}

	return transport.ReadEndpointFile(s.TransportEndpointFile)
}

func (s Settings) APIKeyList() []string {
	return splitList(s.APIKeys)
}

func (s Settings) AllowedOriginList() []string {
	return splitList(s.AllowedOrigins)
}

func (s Settings) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSeconds) * time.Second
}

func (s Settings) TransportTimeout() time.Duration {
	return time.Duration(s.TransportTimeoutSeconds) * time.Second
}

func (s Settings) RegistryTTL() time.Duration {
	return time.Duration(s.RegistryTTLSeconds) * time.Second
}

func (s Settings) TriggerLimit() rate.Limit {
	if s.TriggerIntervalSeconds <= 0 {
		return rate.Inf
	}

	return rate.Every(time.Duration(s.TriggerIntervalSeconds) * time.Second)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}
