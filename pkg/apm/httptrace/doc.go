// Package httptrace instruments HTTP clients.
//
// Transport wraps an http.RoundTripper and records one http_request event
// per completed exchange, or an http_error event when the round trip
// fails. Query parameters whose name is sensitive are masked in the
// recorded URL.
//
//	client := &http.Client{Transport: httptrace.NewTransport(nil, pipeline, logger)}
package httptrace
