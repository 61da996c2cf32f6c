// Package memory provides an in-process rendezvous service with
// announcement expiry.
package memory
