// Package presence tracks which identities are reachable over live channels.
//
// # Registry
//
// A Registry maps an identity (user id, or a visitor's own channel handle) to
// the ordered set of channels it currently holds:
//
//	reg := presence.NewRegistry("chat")
//	first := reg.Connect("user-1", "chan-a") // true: user-1 came online
//	offline := reg.Disconnect("user-1", "chan-a") // true: user-1 went offline
//
// Each identity keeps at most MaxConnectionsPerIdentity channels. Connecting
// one more evicts the oldest. An identity with no channels is removed, so
// OnlineIdentities only ever lists reachable identities.
//
// The gateway runs two registries, one for general notifications and one for
// support chat. They never share state: being online for chat does not make
// an identity online for notifications.
//
// # Sweeper
//
// Channels whose LastActiveAt is older than the idle limit are removed by a
// Sweeper. Heartbeats call Touch to keep live channels fresh.
//
//	sw := presence.NewSweeper(12*time.Hour, 12*time.Hour, logger, chatReg, notifReg)
//	go sw.Run(ctx)
package presence
