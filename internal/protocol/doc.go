// Package protocol defines the messages exchanged between the fleet
// controller and its node agents, and their wire encoding.
//
// Every message is a single line holding a flat JSON object with a "type"
// field:
//
//	{"type":"hello","name":"node1","os":"linux","address":"10.0.0.5"}
//	{"type":"ack","status":"ok"}
//	{"type":"ping"}
//	{"type":"pong"}
//	{"type":"exec","id":"1718000000000_1","cmd":"uptime"}
//	{"type":"result","id":"1718000000000_1","exit":0,"stdout":"...","stderr":""}
//
// Encoding escapes quote, backslash, newline, carriage return and tab, so a
// free-text field never breaks the line framing. Decoding looks fields up by
// name, ignores unknown fields, and rejects anything without a "type".
package protocol
