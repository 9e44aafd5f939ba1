/*
Package objectstore implements the content-addressed object store
(spec component C1).

Objects are immutable once saved: Save is a create-or-replace upsert,
but callers never write a given ID twice with different payload bytes,
so repeated Save calls for the same ID (as happen under at-least-once
dispatch) are idempotent in effect. Stream objects are written
incrementally via SaveStreamChunk and folded into a whole Object by the
caller once the final chunk arrives, then CloseStream drops the
intermediate chunk records.

BoltStore is the embedded-database backed implementation, grounded on
the bucket-per-entity JSON storage pattern used throughout this
codebase's persistence layer. CachedStore optionally layers a
write-through Redis cache in front of any Store for hot cross-peer
reads; it is a no-op wrapper when no Redis address is configured.
*/
package objectstore
