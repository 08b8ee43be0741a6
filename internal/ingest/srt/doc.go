// Package srt implements SRT (Secure Reliable Transport) ingest of Annex B
// elementary streams and MPEG transport streams, both listener mode
// (Server) for incoming publish connections and caller mode (Caller) for
// pulling from remote sources.
//
// A stream ID has the form "[/][live/]<key>[?codec=h264|h265]" or
// "[/][live/]<key>?format=ts".
package srt
