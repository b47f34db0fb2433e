package version

// EmptyValue is the version of binaries built without
// `-ldflags "-X github.com/sidkik/pagecounts/pkg/version.Version=..."`,
// such as unit tests.
const EmptyValue = "dev"

// Version is the release tag, or the commit hash for untagged builds.
var Version = EmptyValue
