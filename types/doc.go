// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package types provides the shared data model for the gateway: messages,
// principals, stages, routing decisions, log entries, and the structured
// error type. It has no dependency on any other internal package so that
// every other package can import it without risking an import cycle.
package types
