// Package messaging implements the callback processing pipeline for one
// integration: open the envelope, parse the request, collapse redeliveries
// onto a single handler invocation, then seal the reply.
//
// A Center owns one set of integration secrets. Hosts that serve several
// integrations build one Center per integration and may share a response
// cache between them, since deduplication keys include the sender.
package messaging
