package rulestore

import (
	"encoding/json"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
)

// SnapshotVersion is the version written to new snapshots.
const SnapshotVersion = "1.0.0"

// Rules maps rule ids to rules in insertion order.
type Rules = orderedmap.OrderedMap[string, *rule.Rule]

// Snapshot is the persisted state of a [Store].
type Snapshot struct {
	Metadata      Metadata        `json:"metadata"`
	Rules         *Rules          `json:"rules"`
	Categories    []rule.Category `json:"categories"`
	UrgencyLevels []rule.Urgency  `json:"urgencyLevels"`
}

// Metadata describes a [Snapshot].
type Metadata struct {
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Version      string    `json:"version"`
	TotalRules   int       `json:"totalRules"`
}

// NewSnapshot returns an empty snapshot created at now.
func NewSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Metadata: Metadata{
			Version:      SnapshotVersion,
			Created:      now,
			LastModified: now,
		},
		Rules:         orderedmap.New[string, *rule.Rule](),
		Categories:    rule.Categories,
		UrgencyLevels: rule.Urgencies,
	}
}

// Len returns the number of rules.
func (s *Snapshot) Len() int {
	return s.Rules.Len()
}

// List returns the rules in insertion order.
func (s *Snapshot) List() []*rule.Rule {
	out := make([]*rule.Rule, 0, s.Rules.Len())
	for pair := s.Rules.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}

	return out
}

// IDs returns the rule ids in insertion order.
func (s *Snapshot) IDs() []string {
	out := make([]string, 0, s.Rules.Len())
	for pair := s.Rules.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}

	return out
}

// Clone returns a copy of s whose rules may be modified independently.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Rules = orderedmap.New[string, *rule.Rule]()

	for pair := s.Rules.Oldest(); pair != nil; pair = pair.Next() {
		c.Rules.Set(pair.Key, pair.Value.Clone())
	}

	return &c
}

// touch updates the metadata after a mutation.
func (s *Snapshot) touch(now time.Time) {
	s.Metadata.LastModified = now
	s.Metadata.TotalRules = s.Rules.Len()
}

// Validate checks every rule and that each rule is stored under its own id.
func (s *Snapshot) Validate() error {
	var vs errs.Violations

	for pair := s.Rules.Oldest(); pair != nil; pair = pair.Next() {
		field := "rules." + pair.Key

		if pair.Value == nil {
			vs.Add(field, rule.CodeMissingContent, "rule is empty")
			continue
		}
		if pair.Value.ID != pair.Key {
			vs.Add(field+".id", rule.CodeMissingID, "rule id %q does not match key %q", pair.Value.ID, pair.Key)
		}

		vs.Merge(field, pair.Value.Violations())
	}

	return vs.Err()
}

// normalize repairs derived fields after decoding.
func (s *Snapshot) normalize() {
	if s.Rules == nil {
		s.Rules = orderedmap.New[string, *rule.Rule]()
	}
	if s.Metadata.Version == "" {
		s.Metadata.Version = SnapshotVersion
	}

	s.Metadata.TotalRules = s.Rules.Len()
	s.Categories = rule.Categories
	s.UrgencyLevels = rule.Urgencies
}

// MarshalSnapshot encodes s as indented JSON.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	return append(b, '\n'), nil
}

// UnmarshalSnapshot decodes and validates a JSON snapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}

	err := json.Unmarshal(data, s)
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	s.normalize()

	err = s.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate snapshot: %w", err)
	}

	return s, nil
}
