// Package webhooks forwards selected audit events to external receivers.
//
// A Dispatcher is an audit.Sink: wrap it with audit.NewSinkLogger and add it
// to the service's audit MultiLogger. By default it forwards access grants,
// revokes and bulk sets, plus course creation and deletion. Only successful
// events are sent.
//
// Each event is posted as JSON to every configured URL:
//
//	POST /hook
//	Content-Type: application/json
//	X-Coursehub-Event: access.grant
//	X-Coursehub-Delivery: 0b6c...
//	X-Coursehub-Signature: sha256=9f86...
//
//	{"id":"0b6c...","type":"access.grant","timestamp":"...","event":{...}}
//
// The signature is an HMAC-SHA256 of the body, present when a secret is
// configured. Receivers check it with VerifySignature.
//
// Delivery is asynchronous. Network errors, 5xx, 408 and 429 responses are
// retried with exponential backoff; other 4xx responses are final. When the
// queue is full new deliveries are dropped and counted in
// coursehub_webhook_deliveries_total{result="dropped"}.
package webhooks
