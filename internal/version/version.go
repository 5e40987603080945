package version

// Version is overridable at build time via -ldflags "-X dinerec/internal/version.Version=...".
var Version = "0.1.0-dev"

func String() string { return "dinerec " + Version }
