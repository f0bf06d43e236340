// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config loads the gateway's configuration: stage routing bindings,
direct-mode allowlist, rate limits, circuit breaker thresholds, database,
upstream LiteLLM proxy, logging, and HTTP server settings.

Config is parsed once at startup from a YAML file plus environment
variable overrides; there is no hot-reload path. Precedence is
defaults -> YAML file -> environment variables.

	cfg, err := config.NewLoader().
		WithConfigPath(os.Getenv("CFX_CONFIG_PATH")).
		WithValidator((*config.Config).Validate).
		Load()
*/
package config
