// Package marshal implements the host/guest wire protocol.
//
// Requests cross the boundary as JSON written into guest memory:
//
//	{"method": "GET", "uri": "/x", "headers": [["Host","a"]], "body": "..."}
//
// Header pairs are two-element arrays and the body is a UTF-8 string with
// invalid sequences replaced, so guests built on standard JSON libraries
// parse it without custom code.
//
// Guests return a pointer to a result buffer: a 4-byte little-endian
// length prefix followed by that many bytes of JSON. The prefix is
// validated against the class memory ceiling before any read, so a guest
// cannot claim a multi-gigabyte result. WAF modules return a verdict
// object, edge functions return a response delta.
package marshal
