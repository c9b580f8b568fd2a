package template

// Node is an element of a parsed template body.
type Node interface {
	Position() int
}

// TextNode is literal text.
type TextNode struct {
	Text string
	Pos  int
}

// VariableNode outputs the value at Path, e.g. "{{profile.name}}".
type VariableNode struct {
	Path *PathExpr
	// Raw is the original tag text, echoed when the path is missing.
	Raw string
	Pos int
}

// HelperNode outputs the result of a helper call, e.g. "{{join tags ", "}}".
type HelperNode struct {
	Call *SubExpr
	Pos  int
}

// IfNode renders Then when Cond is truthy, else Else.
type IfNode struct {
	Cond Expr
	Then []Node
	Else []Node
	Pos  int
}

// UnlessNode renders Then when Cond is falsy, else Else.
type UnlessNode struct {
	Cond Expr
	Then []Node
	Else []Node
	Pos  int
}

// EachNode renders Body once per element of Target, or Else when Target is
// empty or missing.
type EachNode struct {
	Target Expr
	Body   []Node
	Else   []Node
	Pos    int
}

func (n *TextNode) Position() int     { return n.Pos }
func (n *VariableNode) Position() int { return n.Pos }
func (n *HelperNode) Position() int   { return n.Pos }
func (n *IfNode) Position() int       { return n.Pos }
func (n *UnlessNode) Position() int   { return n.Pos }
func (n *EachNode) Position() int     { return n.Pos }

// Expr is a value-producing argument or condition.
type Expr interface {
	Position() int
}

// PathExpr looks up a value in the render context.
type PathExpr struct {
	// Raw is the path as written, e.g. "../rules.0.title".
	Raw      string
	Segments []string
	// Parents is the number of leading "../" scopes to climb.
	Parents int
	// This is set when the path starts at the current scope ("this").
	This bool
	// Data is set for "@" variables such as "@index"; Segments[0] holds
	// the name without the "@".
	Data bool
	Pos  int
}

// LiteralExpr is a quoted string, number, boolean or null.
type LiteralExpr struct {
	Value any
	Pos   int
}

// SubExpr calls a helper, e.g. "(eq urgency "HIGH")".
type SubExpr struct {
	Name string
	Args []Expr
	Pos  int
}

func (e *PathExpr) Position() int    { return e.Pos }
func (e *LiteralExpr) Position() int { return e.Pos }
func (e *SubExpr) Position() int     { return e.Pos }
