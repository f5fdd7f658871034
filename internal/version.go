package internal

// Version is the application version, overridable at build time with
// -ldflags "-X codeberg.org/akova/cardforge/internal.Version=...".
var Version = "0.1.0"
