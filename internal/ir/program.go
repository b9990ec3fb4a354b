package ir

// Function is a named sequence of instructions with a typed signature.
// A nil Return means the function produces no value.
type Function struct {
	Name   string
	Params []Type
	Return Type
	Locals []Type
	Body   []Instruction
}

// Global is a program-level variable. Init may be nil.
type Global struct {
	Name string
	Type Type
	Init Constant
}

// Program is the unit handed to a backend.
type Program struct {
	Name      string
	Functions []Function
	Globals   []Global
}

// Function returns the function with the given name.
func (p *Program) Function(name string) (*Function, bool) {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return &p.Functions[i], true
		}
	}
	return nil, false
}

// FunctionIndex returns the declaration index of the named function, or -1.
func (p *Program) FunctionIndex(name string) int {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return i
		}
	}
	return -1
}

// Global returns the global with the given name.
func (p *Program) Global(name string) (*Global, bool) {
	for i := range p.Globals {
		if p.Globals[i].Name == name {
			return &p.Globals[i], true
		}
	}
	return nil, false
}

// Constants returns every literal referenced by the program, deduplicated,
// in first-occurrence order across functions in declaration order.
func (p *Program) Constants() []Constant {
	seen := make(map[Constant]bool)
	var out []Constant
	add := func(c Constant) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, g := range p.Globals {
		add(g.Init)
	}
	for _, fn := range p.Functions {
		for _, in := range fn.Body {
			switch in.Op {
			case OpLoadConstant:
				add(in.Const)
			case OpStringConstant:
				add(StringConst(in.Text))
			}
		}
	}
	return out
}

// HasReturn reports whether the body contains a Return instruction.
func (f *Function) HasReturn() bool {
	for _, in := range f.Body {
		if in.Op == OpReturn {
			return true
		}
	}
	return false
}

// Labels maps each label name to the index of its Label instruction.
func (f *Function) Labels() map[string]int {
	labels := make(map[string]int)
	for i, in := range f.Body {
		if in.Op == OpLabel {
			labels[in.Label] = i
		}
	}
	return labels
}

// Calls returns the distinct call targets in first-occurrence order.
func (f *Function) Calls() []string {
	seen := make(map[string]bool)
	var out []string
	for _, in := range f.Body {
		if in.Op == OpCall && !seen[in.Symbol] {
			seen[in.Symbol] = true
			out = append(out, in.Symbol)
		}
	}
	return out
}

// MaxLocal returns one past the highest local index referenced by the body
// or declared in Locals, whichever is larger.
func (f *Function) MaxLocal() uint32 {
	n := uint32(len(f.Locals))
	for _, in := range f.Body {
		switch in.Op {
		case OpLoadLocal, OpStoreLocal, OpLoadAddress:
			if in.Index+1 > n {
				n = in.Index + 1
			}
		}
	}
	return n
}
