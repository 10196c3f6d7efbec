// Package eventstore persists aggregates as ordered, encrypted event streams.
//
// # Components
//
//   - [Repository] - loads aggregates (snapshot plus tail replay), appends
//     events under optimistic concurrency, writes snapshots and publishes
//     committed events.
//   - [Backend] - storage contract implemented by memstore, redisstore and sqlstore.
//   - [Encryptor], [Serializer], [Publisher] - injected capabilities.
//   - [Registry] - maps event names to payload types for decoding.
//
// # Architecture boundaries
//
// The repository knows nothing about users, groups or agents. Aggregates
// implement [Aggregate] and decide which events to emit; the repository only
// orders, encrypts and stores them.
package eventstore
