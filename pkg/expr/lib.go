package expr

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/macropower/rulebook/pkg/rule"
)

type lib struct{}

func (lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		ext.Strings(),
		ext.Lists(),

		// `urgencyRank` returns the position of an urgency in the ordered enum.
		// Example: urgencyRank(rule.urgency) >= 3.
		cel.Function("urgencyRank",
			cel.Overload("urgency_rank_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(func(u ref.Val) ref.Val {
					s, ok := u.(types.String)
					if !ok {
						return types.NewErr("urgencyRank: invalid string value")
					}

					return types.Int(rule.Urgency(strings.ToUpper(string(s))).Rank())
				}),
			),
		),

		// `atLeast` compares two urgencies.
		// Example: atLeast(rule.urgency, "HIGH").
		cel.Function("atLeast",
			cel.Overload("at_least_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(u, threshold ref.Val) ref.Val {
					us, ok := u.(types.String)
					if !ok {
						return types.NewErr("atLeast: invalid urgency value")
					}

					ts, ok := threshold.(types.String)
					if !ok {
						return types.NewErr("atLeast: invalid threshold value")
					}

					tu := rule.Urgency(strings.ToUpper(string(ts)))
					if !tu.Valid() {
						return types.NewErr("atLeast: unknown urgency %q", string(ts))
					}

					return types.Bool(rule.Urgency(strings.ToUpper(string(us))).AtLeast(tu))
				}),
			),
		),

		// `hasTag` checks list membership ignoring case.
		// Example: hasTag(rule.tags, "security").
		cel.Function("hasTag",
			cel.Overload("has_tag_list_string", []*cel.Type{cel.ListType(cel.StringType), cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(list, tag ref.Val) ref.Val {
					lister, ok := list.(traits.Lister)
					if !ok {
						return types.NewErr("hasTag: invalid list")
					}

					want, ok := tag.(types.String)
					if !ok {
						return types.NewErr("hasTag: invalid tag value")
					}

					it := lister.Iterator()
					for it.HasNext() == types.True {
						s, ok := it.Next().(types.String)
						if ok && strings.EqualFold(string(s), string(want)) {
							return types.True
						}
					}

					return types.False
				}),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
