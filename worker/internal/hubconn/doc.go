// Package hubconn maintains a worker's WebSocket connection to the musink hub.
//
// On every (re)connect the Client sends NewService with its category, then
// reads envelopes: Initialise records the assigned connection id,
// AdvertisingClientGroups is ignored and MakeMutualPlaylist is handed to the
// JobFunc on its own goroutine. Lost connections are retried with truncated
// exponential backoff (1s doubling to 60s, ±25% jitter) until the context is
// cancelled.
package hubconn
