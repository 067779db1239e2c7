package formula

import "github.com/Maxibang/sheet/position"

// Node is a formula AST node: a small closed set of node types dispatched
// on by type switch, no visitor interface.
type Node interface {
	isNode()
}

// NumberNode is a numeric literal.
type NumberNode struct {
	Value float64
}

// CellRefNode is a reference to another cell by position.
type CellRefNode struct {
	Pos position.Position
}

// UnaryNode is a prefix unary operator (only '-' is produced by the parser).
type UnaryNode struct {
	Op TokenType
	X  Node
}

// BinaryNode is a binary arithmetic operation.
type BinaryNode struct {
	Op   TokenType
	X, Y Node
}

func (NumberNode) isNode()  {}
func (CellRefNode) isNode() {}
func (UnaryNode) isNode()   {}
func (BinaryNode) isNode()  {}
