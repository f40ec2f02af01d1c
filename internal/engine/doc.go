// Package engine serializes every registry mutation of a huddle session
// through one event loop.
//
// Three kinds of unit enter the queue: presence snapshots from the host
// transport, inbound text from either transport, and resync requests. Run
// handles them one at a time, so a reconciliation pass and the broadcast it
// triggers complete before the next unit starts.
//
// Host engines reconcile presence into the active event and broadcast
// FULL_SYNC snapshots. Client engines replace their registry with each
// FULL_SYNC they receive. Text that is not a sync message goes to the
// message handler unchanged.
//
// HostSession and ClientSession wire an Engine to a transport and own its
// lifecycle.
package engine
