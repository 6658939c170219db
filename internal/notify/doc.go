// Package notify delivers notifications over the notification endpoint.
//
// Service is the chat router's fallback: when a message's recipient has no
// live chat channel, NotifyOffline stores a durable notification for the
// recipient and pushes notification-received to every admin notification
// channel. Admins also use Service to broadcast to everyone connected or to
// send a persisted notification to one user.
//
// Message text is treated as markdown; pushed events carry the rendered
// HTML alongside the raw text.
//
// A Relay, such as MatrixRelay, mirrors notifications to a channel outside
// the gateway. Relay failures are logged and never fail the delivery.
package notify
