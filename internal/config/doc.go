// Package config handles configuration loading for wxcallback.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WXCALLBACK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/wxcallback/config.yaml (or ~/.config/wxcallback/config.yaml)
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	integrations:
//	  - name: main
//	    token: "${WX_TOKEN}"
//	    encoding_aes_key: "${WX_AES_KEY}"
//
// Unset variables expand to the empty string.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "/var/lib/wxcallback/wxcallback.db"
//
//	cache:
//	  backend: memory      # memory | sqlite | redis | none
//	  ttl: "5m"            # must cover the platform's redelivery window
//	  max_entries: 100000  # memory backend only
//
//	redis:
//	  addr: "localhost:6379"
//
//	auth:
//	  jwt_secret: "${WXCALLBACK_JWT_SECRET}"  # enables /api/messages
//
//	metrics:
//	  enabled: true
//
//	message_log:
//	  enabled: true
//
//	integrations:
//	  - name: main
//	    app_id: "wxb11529c136998cb6"
//	    token: "${WX_TOKEN}"
//	    encoding_aes_key: "${WX_AES_KEY}"  # empty = plaintext mode
//	    reply: echo                        # echo | success
//
// # Validation
//
// Struct tags are checked with go-playground/validator; cross-field rules
// (database path for sqlite, redis address, unique integration names) are
// checked by Validate.
package config
