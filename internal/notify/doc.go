// Package notify delivers relevant items to a Discord-compatible webhook.
//
// The Stage is the last pipeline stage. Process puts a copy of every item
// scored above NONE on a bounded queue and returns at once. A single worker
// goroutine takes items off the queue in order, waits for the rate limiter
// (one delivery per interval), and POSTs an embed built by BuildPayload.
//
// Response handling:
//
//	200, 204        sent
//	429             wait Retry-After (header, then JSON body, then 1s) and retry;
//	                does not use up an attempt
//	5xx, transport  retry with exponential backoff, up to MaxAttempts
//	other 4xx       give up on the item
//
// Close drains the queue. If its context ends first, or Abandon is called,
// the worker completes the request in flight and skips the rest.
//
// Items that never reach the webhook are reported to the Observer with a
// reason: "overflow" when the queue was full, "rejected" when the worker
// was not running, and "abandoned" when the drain was cut short.
package notify
