// Package notify records backup outcomes and pushes failures to Telegram
// when credentials are configured. Delivery is best effort and never blocks
// or fails a backup run.
package notify
