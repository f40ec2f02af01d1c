// Package wire defines the messages exchanged between a host and its clients.
//
// Every message is a single JSON object. Sync traffic is tagged by its "type"
// field:
//
//	{"type":"FULL_SYNC","devices":[...],"events":[...],"connections":[...],"logs":[...]}
//	{"type":"SYNC_REQUEST","from":"<device name>"}
//
// Anything else, including text that is not JSON at all, is ordinary
// application content. Parse is total: it never returns an error, and input it
// does not recognize comes back unchanged as Plain.
package wire
