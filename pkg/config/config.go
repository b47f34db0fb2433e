// Package config reads and writes the pagecounts config file, which holds
// the named profiles used by the CLI.
package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/pagecounts/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// parseConfigErrTemplate is shown when the config file isn't valid YAML, or
// doesn't match the expected schema. The YAML library drops the location of
// the error, so only its message can be passed on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Misspelled or unknown fields, such as a `port` outside of `host`\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

type versioned interface {
	getVersion() string
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of pagecounts.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// parseConfig decodes the YAML file at path into out. The version is checked
// before unknown fields are rejected, so that a file written for a newer
// schema reports the version mismatch rather than its new fields.
func parseConfig(path string, out versioned, expVersion string) error {
	contents, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		return errors.FileNotFound{Path: path}
	case err != nil:
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(contents, out); err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if actual := out.getVersion(); actual != expVersion {
		return incompatibleVersionError{path, expVersion, actual}
	}

	if err := yaml.UnmarshalStrict(contents, out, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}
