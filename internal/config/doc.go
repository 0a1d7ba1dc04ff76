// Package config loads and validates the agency-gateway YAML configuration.
//
// Configuration files support ${VAR_NAME} environment variable expansion in
// any string value, which keeps secrets like jwt_secret and the upstream API
// key out of the file itself:
//
//	server:
//	  http_addr: ":8080"
//	database:
//	  path: "data/gateway.db"
//	auth:
//	  jwt_secret: "${GATEWAY_JWT_SECRET}"
//	upstream:
//	  model: "gpt-4o"
//	  api_key: "${OPENAI_API_KEY}"
//	agencies:
//	  seed_file: "agencies.toml"
//
// Load reads, expands, parses, and validates in one step.
package config
