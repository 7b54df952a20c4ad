// Package apps manages the client applications users register with tally.
// Registering an app issues its API key in the same transaction; deactivating
// it revokes the key and drops the owner's cached summaries for that app.
package apps
