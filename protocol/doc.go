// Package protocol implements the RESP wire format (REdis Serialization
// Protocol) spoken between rudis and its clients, covering both the legacy
// RESP2 types and the RESP3 additions.
//
// The package has three parts:
//
// - `Frame` - the closed set of value types the protocol can carry.
// - `Encode` - turns a Frame into bytes. Every frame has exactly one wire
//              form; the only failure is a frame whose payload breaks an
//              invariant, such as a simple string containing CRLF.
// - `Decoder` - turns bytes into Frames. It works on whatever prefix of the
//               stream has arrived and reports ErrIncomplete when it needs
//               more, so it can be used directly on a connection buffer.
//
// === General Syntax
//
// - every frame starts with a one byte type tag
// - lines are `\r\n` terminated
// - lengths are decimal and count bytes, not characters
//
// === Types
//
//   ```
//   +OK\r\n                     simple string
//   -ERR message\r\n            simple error
//   :+42\r\n                    integer, always written with a sign
//   #t\r\n                      boolean
//   ,+1.23\r\n                  double, also ,nan ,+inf ,-inf and ,+2e9
//   (3492890328409238509\r\n    big number
//   $5\r\nhello\r\n             bulk string
//   $-1\r\n                     null bulk string (RESP2)
//   _\r\n                       null (RESP3)
//   *2\r\n:+1\r\n:+2\r\n        array
//   *-1\r\n                     null array (RESP2)
//   !3\r\nERR\r\n               bulk error, !-1\r\n when it has no message
//   %1\r\n+key\r\n:+1\r\n       map, keys are written as simple strings
//   ~1\r\n:+1\r\n               set
//   ```
//
// === Decoding
//
// Decode never blocks and never modifies its input. It returns one of
//
// - a frame and the number of bytes it used
// - ErrIncomplete, when the frame boundary is not buffered yet
// - a *ProtocolError, when the bytes can never form a valid frame
//
// Declared lengths are checked against Limits before anything is allocated,
// so a peer announcing a huge bulk string gets a ProtocolError rather than
// an allocation of that size.
//
// === Equality
//
// Set members and map keys are compared structurally with Equal. Two frames
// are equal when they are the same variant and would be written with the
// same payload. All NaN doubles are therefore equal to each other, and
// Integer(1) is not equal to Double(1).
package protocol
