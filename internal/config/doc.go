// Package config loads and validates the fabric's JSON configuration
// document: logging, thread pool sizing, security policy pass-through,
// the recovery manager's checkpoint schedule and storage path, the preload
// manager's prediction tuning, the load balancer's strategy and resource
// weights, kernel pool sizing, and the dynamic cache's sizing and TTL.
//
// Configuration is loaded with precedence defaults < file < environment <
// caller overrides applied after LoadFromEnv. Call Validate before handing
// a Configuration to the orchestrator; every problem found is reported as
// a single wrapped fabricerr.ConfigInvalid rather than failing fast on the
// first one, so a caller sees every mistake in one pass.
package config
