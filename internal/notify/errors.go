package notify

import "errors"

var (
	// ErrNoWebhook is returned when a send is attempted without a webhook URL.
	ErrNoWebhook = errors.New("no webhook URL configured")

	// ErrUnexpectedStatus is returned when the webhook answers with a status
	// other than 200 or 204.
	ErrUnexpectedStatus = errors.New("unexpected webhook status")
)
