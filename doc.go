// Package cardflow is an extraction pipeline for Trello.
//
// It drives each extraction kind (external sync units, metadata, data,
// attachments, deletions) through fetch, pagination, normalization,
// batched delivery and checkpointing, and reports the outcome as a
// single event per invocation. Throttling by the upstream API turns
// into Delay events, an expired time budget turns into Progress events,
// and the checkpoint state returned with every event makes each phase
// resumable.
//
// The main entry points are:
//
//   - pkg/extract: the phase state machine, normalizers, batch
//     repository and attachment streamer
//   - pkg/trello: the typed, rate-limited API client and paginator
//   - pkg/sink: JSONL file and HTTP callback destinations
//   - cmd/cardflow: the CLI wrapping one invocation
package cardflow
