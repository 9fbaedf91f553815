// Package app is the composition layer of the savings service.
//
// # Architecture Role
//
// The app package wires stores, domain services and background workers into
// a running Application. Business rules live in the services packages; this
// package only decides which implementation backs each dependency.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── core/               # Shared primitives (descriptors, keyed locks)
//	├── domain/             # Domain models (goal, reward, grid, veto, quest)
//	├── events/             # Domain event publisher contract
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # GoalStore, LedgerStore, GridStore, ...
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   ├── postgres/       # PostgreSQL implementation
//	│   └── redis/          # Idempotency cache
//	├── services/           # Level engine, goals, progress, ledger, grid, court, quests
//	├── httpapi/            # HTTP and websocket surface
//	├── system/             # Lifecycle manager and cron scheduler
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/savepop/
//	      │
//	      ▼
//	internal/app/httpapi ──► internal/app (composition)
//	                               │
//	                               ├──► services/ ──► domain/, storage/ (interfaces)
//	                               │
//	                               └──► storage/{memory,postgres,redis}
//
// # Adding a New Domain
//
//  1. Create domain models in internal/app/domain/<name>/
//  2. Add the store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/memory and storage/postgres
//  4. Create the service in internal/app/services/<name>/
//  5. Wire it in application.go and expose it from httpapi
package app
