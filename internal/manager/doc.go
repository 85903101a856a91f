// Package manager is the coordination layer of the daemon: it composes the
// model registry, the worker process pool, the download tracker, and the
// subscription broker behind one facade. It is structured into small files by
// concern:
//
//   - manager.go: core Manager type, constructor delegation, Ready/Status/Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - ops.go: pull, remove, list, and download-subscription operations.
//   - infer.go: completion entry points (buffered and streaming).
//   - errors.go: error predicates for the HTTP layer (IsModelNotFound, IsTooBusy, ...).
//   - events.go: EventPublisher hook; eventpub_memory.go holds the test publisher.
//
// External packages should treat this package as the orchestration layer and
// use public methods only. Internal types are subject to change.
package manager
