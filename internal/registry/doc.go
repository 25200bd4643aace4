// Package registry keeps the last known location of every bus that is
// sharing its position, keyed by route.
//
// A record is fresh while its timestamp is no older than the freshness
// window. Stale records are never returned. Get deletes them on read and
// ListActive drops them before copying; the sweeper started by StartSweeper
// removes the rest. Len counts whatever is stored, stale or not.
//
// Driver payloads arrive from mobile clients that send numbers as strings,
// so UpdateRequest decodes leniently and Upsert reports missing or
// non-numeric route, lat and lng through ValidationError.
package registry
