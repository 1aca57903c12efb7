package fhirpath

// NodeKind tags an AST node. There is no inheritance hierarchy of expression
// types: every node carries its kind, its operator (when any), left and
// right children, and a literal when the node is one.
type NodeKind int

const (
	NodeLiteral NodeKind = iota
	NodePath              // bare identifier: field name or resource type
	NodeDot               // left.right
	NodeIndexer           // left[right]
	NodeFunction          // name(args...) applied to left (nil left = bare call)
	NodeUnary             // op right
	NodeBinary            // left op right (arithmetic, comparison, logic, union, is/as)
)

// Node is a FHIRPath AST node.
type Node struct {
	Kind     NodeKind
	Operator string
	Name     string // function name for NodeFunction
	Left     *Node
	Right    *Node
	Args     []*Node
	Literal  *TypedValue
}

// TypedValue is a value paired with its FHIR type tag, the unit the
// evaluator's collections are made of.
type TypedValue struct {
	Type  string
	Value interface{}
}
