// Package connection implements the Connection Registry component.
//
// The Connection Registry:
//   - Tracks the live set of admitted dashboard connections
//   - Evicts a connection exactly once, however many paths detect its end
//   - Broadcasts a payload to every admitted connection without letting a
//     slow or dead one hold up the rest
//
// Each websocket Client owns a bounded send queue drained by a single write
// pump, so successive broadcasts reach one connection in order. The read
// pump only services keep-alives and detects closure.
package connection
