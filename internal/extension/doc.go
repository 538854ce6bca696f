// Package extension is the handler side of the transport: it turns inbound
// frames into calls on per-type functions and returns their results as reply
// data.
package extension
