// Package config loads, validates and saves rulebook configuration files.
//
// [Loader] decodes any [v1beta1.Object] kind from YAML, validating it
// against the kind's JSON schema and annotating errors with the offending
// source lines. [Manager] builds on it to manage a directory of
// [profiles.Profile] files: it loads profiles by name or path, reports their
// structural and rule resolution health, creates new profiles from built-in
// archetypes, and saves them without clobbering comments.
package config
