// Package execs runs external commands, such as the post-deploy hook of a
// profile.
//
// Commands are parsed from a single shell-like line (see [ParseCommand]) and
// run without a shell, in a given directory, with a restricted environment:
// only essential variables and RULEBOOK_* variables are inherited from the
// caller.
package execs
