// Package feed fans stats updates out to live subscribers.
//
// Workers publish every recorded observation to a [Hub]; the HTTP layer
// subscribes and streams updates to clients via Server-Sent Events.
//
// Subscribers receive updates via buffered channels with non-blocking sends.
// A slow subscriber misses updates rather than stalling the workers that
// publish them.
package feed
