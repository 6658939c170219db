// Package chat implements support chat between users and the admin on top
// of the presence registry, the event hub and the conversation store.
//
// # Session gateway
//
// A SessionGateway owns the connect/disconnect lifecycle of one endpoint's
// channels. On connect it registers the channel in the endpoint's Registry
// and Hub and, for non-admins, joins the channel to the group
// conversation.Key(identity, admin). The notification endpoint's gateway also
// pushes online-identities-changed to admin channels.
//
// # Router
//
// The Router handles chat operations. Every non-admin conversation is with
// "the" admin: the target a non-admin names is ignored. A message to a
// recipient with no live channel triggers the Notifier once; it is still
// broadcast to the group so a reconnecting recipient catches it.
//
// A message delivered to a live recipient is stored as read. That policy
// lives in one place, Router.deliveryMarksRead.
//
// # Errors
//
//   - ErrNoAdmin: no admin exists (configuration error)
//   - auth.ErrNotAuthenticated / auth.ErrForbidden: identity and role gates
//   - ErrNoRecipient, ErrEmptyBody: malformed requests
//
// A delete that finds nothing returns false, not an error.
package chat
