package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/simcircuit/internal/protocol/template"
)

// Template returns the starter text for a config kind: "client" or
// "messages" (the built-in message template file).
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "messages":
		return string(template.BuiltinSource()), nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	text, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(text), 0o600)
}

const clientTemplate = `name = "circuitctl"
simulator_addr = "127.0.0.1:9000"
circuit_code = 0
agent_id = "00000000-0000-0000-0000-000000000001"
session_id = "00000000-0000-0000-0000-000000000002"
# template_path = "messages.msg"
debug_addr = "127.0.0.1:9100"
# debug_token = "change-me"
cors_origins = ["http://localhost:3000"]
history_capacity = 256
max_bits_per_second = 1000000.0
log_level = "info"

[circuit]
tick_interval = "100ms"
ack_delay = "100ms"
write_timeout = "5s"
max_retries = 3
max_acks_per_packet = 100
dedupe_window = 300
max_pending_reliable = 1024
inbound_queue = 256
resend_initial_delay = "1s"
resend_multiplier = 2.0
resend_max_delay = "5s"
resend_jitter = false
`
