package config

import (
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/hive"
	"github.com/sidkik/pagecounts/pkg/origin"
)

const (
	// ConfigPath is the default path to the pagecounts config.
	ConfigPath = "~/.pagecounts.yaml"

	// DefaultProfile is the profile used when none is selected.
	DefaultProfile = "default"

	// InitialConfigVersion is the first version of the config. Config
	// files that do not specify a version will default to this version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version supported by this
	// binary.
	SupportedConfigVersion = "v1alpha1"

	defaultWarehouseRoot  = "/user/hive/warehouse/pagecounts"
	defaultTable          = "pagecounts"
	defaultKnownHostsFile = "~/.ssh/known_hosts"
)

// Config is the contents of the config file: a set of named profiles, each
// describing one origin and warehouse pair.
type Config struct {
	Version  string             `json:"version,omitempty"`
	Profiles map[string]Profile `json:"profiles"`
}

func (c Config) getVersion() string {
	return c.Version
}

// Profile is the configuration for mirroring one origin into one warehouse.
type Profile struct {
	Warehouse Warehouse `json:"warehouse"`
	Origin    Origin    `json:"origin"`

	// AuditLog is the path of the JSON lines file that records every upload
	// and partition registration. Auditing is disabled if it's empty.
	AuditLog string `json:"auditLog,omitempty"`
}

// Warehouse describes the host holding the Hive table.
type Warehouse struct {
	Host           string `json:"host"` // Required.
	User           string `json:"user,omitempty"`
	IdentityFile   string `json:"identityFile,omitempty"`
	KnownHostsFile string `json:"knownHostsFile,omitempty"`
	Root           string `json:"root,omitempty"`
	Table          string `json:"table,omitempty"`
	HiveCommand    string `json:"hiveCommand,omitempty"`
}

// Origin describes the dump site.
type Origin struct {
	BaseURL      string `json:"baseURL,omitempty"`
	ManifestName string `json:"manifestName,omitempty"`
	FilePrefix   string `json:"filePrefix,omitempty"`

	// FinalMonthBestEffort defaults to true when unset.
	FinalMonthBestEffort *bool  `json:"finalMonthBestEffort,omitempty"`
	TempDir              string `json:"tempDir,omitempty"`

	// Timeout is a duration string such as "10m". It bounds each HTTP
	// request and the SSH handshake.
	Timeout string `json:"timeout,omitempty"`
}

// BestEffort reports whether a failure to list the final month of a window
// is tolerated.
func (o Origin) BestEffort() bool {
	return o.FinalMonthBestEffort == nil || *o.FinalMonthBestEffort
}

// TimeoutDuration parses Timeout. An empty timeout means no timeout.
func (o Origin) TimeoutDuration() (time.Duration, error) {
	if o.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(o.Timeout)
}

// Mocked out for unit testing.
var (
	homedirExpand  = homedir.Expand
	getCurrentUser = user.Current
)

// GetConfigPath returns the expanded path to the config file, so that it can
// be directly passed to file operations.
func GetConfigPath() (string, error) {
	return homedirExpand(ConfigPath)
}

// Parse reads the config file at the default path.
func Parse() (Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{Version: InitialConfigVersion}
	if err := parseConfig(path, &config, SupportedConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The pagecounts config "+
				"file doesn't exist at %q. Please run `pagecounts config init` "+
				"to create it.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}
	return config, nil
}

// ParseProfile reads the named profile from the config file, fills in
// defaults, and validates it.
func ParseProfile(name string) (Profile, error) {
	config, err := Parse()
	if err != nil {
		return Profile{}, err
	}

	profile, ok := config.Profiles[name]
	if !ok {
		return Profile{}, errors.NewFriendlyError(
			"Profile %q isn't defined. The available profiles are %v.",
			name, config.ProfileNames())
	}

	if err := profile.complete(); err != nil {
		return Profile{}, errors.WithContext(err, "profile "+name)
	}
	return profile, nil
}

// ProfileNames returns the names of the defined profiles in sorted order.
func (c Config) ProfileNames() []string {
	var names []string
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Profile) complete() error {
	if p.Warehouse.Host == "" {
		return errors.MissingFieldError{Field: "warehouse.host"}
	}

	if p.Warehouse.User == "" {
		currentUser, err := getCurrentUser()
		if err != nil {
			return errors.WithContext(err, "get current user")
		}
		p.Warehouse.User = currentUser.Username
	}

	if p.Warehouse.KnownHostsFile == "" {
		p.Warehouse.KnownHostsFile = defaultKnownHostsFile
	}
	if p.Warehouse.Root == "" {
		p.Warehouse.Root = defaultWarehouseRoot
	}
	if p.Warehouse.Table == "" {
		p.Warehouse.Table = defaultTable
	}
	if p.Warehouse.HiveCommand == "" {
		p.Warehouse.HiveCommand = hive.DefaultBinary
	}

	if p.Origin.BaseURL == "" {
		p.Origin.BaseURL = origin.DefaultBaseURL
	}
	if p.Origin.ManifestName == "" {
		p.Origin.ManifestName = origin.DefaultManifestName
	}
	if p.Origin.FilePrefix == "" {
		p.Origin.FilePrefix = origin.DefaultFilePrefix
	}

	if _, err := p.Origin.TimeoutDuration(); err != nil {
		return errors.NewFriendlyError("Invalid origin timeout %q: %s", p.Origin.Timeout, err)
	}

	paths := []*string{
		&p.Warehouse.IdentityFile,
		&p.Warehouse.KnownHostsFile,
		&p.Origin.TempDir,
		&p.AuditLog,
	}
	for _, path := range paths {
		expanded, err := homedirExpand(*path)
		if err != nil {
			return errors.WithContext(err, "expand path")
		}
		*path = expanded
	}
	return nil
}

// NewDefault returns a config with a single default profile pointing at the
// given warehouse host.
func NewDefault(host string) Config {
	bestEffort := true
	return Config{
		Version: SupportedConfigVersion,
		Profiles: map[string]Profile{
			DefaultProfile: {
				Warehouse: Warehouse{
					Host:           host,
					KnownHostsFile: defaultKnownHostsFile,
					Root:           defaultWarehouseRoot,
					Table:          defaultTable,
					HiveCommand:    hive.DefaultBinary,
				},
				Origin: Origin{
					BaseURL:              origin.DefaultBaseURL,
					ManifestName:         origin.DefaultManifestName,
					FilePrefix:           origin.DefaultFilePrefix,
					FinalMonthBestEffort: &bestEffort,
				},
				AuditLog: "~/.pagecounts/audit.log",
			},
		},
	}
}

// Write writes the config to the default path. An existing file is only
// replaced if overwrite is set.
func Write(cfg Config, overwrite bool) error {
	cfg.Version = SupportedConfigVersion
	path, err := GetConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	if !overwrite {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return errors.WithContext(err, "stat")
		}
		if exists {
			return errors.NewFriendlyError("The config file %q already exists. "+
				"Pass --force to overwrite it.", path)
		}
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create directory")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}
