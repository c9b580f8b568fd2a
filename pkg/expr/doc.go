// Package expr provides CEL (Common Expression Language) functionality
// for matching rules in selection groups.
//
// CEL expressions have access to a single variable:
//   - `rule` (map): the rule being matched, with keys `id`, `title`,
//     `content`, `category`, `urgency`, `sources`, `projectTypes`, and `tags`.
//
// Custom functions:
//   - urgencyRank(string): position of an urgency in INFO..CRITICAL, or -1
//   - atLeast(string, string): whether the first urgency ranks at or above the second
//   - hasTag(list<string>, string): case-insensitive list membership
package expr
