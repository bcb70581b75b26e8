package chunk

// Type selects the separator-priority list used to split a document.
type Type string

const (
	TypeMarkdown Type = "markdown"
	TypeCode     Type = "code"
	TypeJSON     Type = "json"
	TypeDefault  Type = "default"
)

// Chunk is one bounded, overlap-respecting span of a preprocessed document.
// ChunkIndex and Start/End are assigned by Split; Start/End are character
// offsets into the preprocessed text Split received.
type Chunk struct {
	ChunkIndex int
	Content    string
	Start      int
	End        int
}

// Symbol represents a code symbol extracted from parsing, used by the
// tree-sitter boundary nudger to avoid splitting inside a function body.
type Symbol struct {
	Name      string
	StartByte uint32
	EndByte   uint32
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig holds configuration for a supported language.
type LanguageConfig struct {
	Name           string
	Extensions     []string
	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string
	NameField      string
}
