// Package publish broadcasts committed events to external transports.
//
// Every publisher implements eventstore.Publisher. Delivery is best-effort:
// the repository logs and counts failures but never rolls back a commit
// because a broker was unavailable. Messages carry an Envelope keyed by the
// stream scope so partitioned transports keep per-aggregate ordering.
package publish
