// Package app contains the host simulation. It defines the main App struct,
// its configuration, and the tick loop that drives every loaded computer,
// decoupled from any specific entrypoint like a CLI or server.
package app
