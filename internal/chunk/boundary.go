package chunk

import (
	"context"
)

// NudgeCodeBoundaries adjusts chunk start offsets that fall inside a
// top-level symbol's byte range so they land on the symbol's start instead,
// avoiding a split through the middle of a function or type body. It is
// best-effort: parse failures or unsupported languages leave chunks
// unmodified.
func NudgeCodeBoundaries(ctx context.Context, chunks []Chunk, source []byte, language string, registry *LanguageRegistry) []Chunk {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if _, ok := registry.GetTreeSitterLanguage(language); !ok {
		return chunks
	}

	p := NewParserWithRegistry(registry)
	defer p.Close()

	tree, err := p.Parse(ctx, source, language)
	if err != nil || tree == nil {
		return chunks
	}

	cfg, _ := registry.GetByName(language)
	if cfg == nil {
		return chunks
	}

	bounds := topLevelSymbolStarts(tree.Root, cfg)
	if len(bounds) == 0 {
		return chunks
	}

	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		if snapped, ok := nearestEnclosingStart(out[i].Start, bounds); ok && snapped < out[i].Start {
			shift := out[i].Start - snapped
			if shift > 0 && shift < len(out[i].Content) {
				out[i].Start = snapped
			}
		}
	}
	return out
}

func topLevelSymbolStarts(root *Node, cfg *LanguageConfig) []uint32 {
	wanted := map[string]bool{}
	for _, t := range cfg.FunctionTypes {
		wanted[t] = true
	}
	for _, t := range cfg.MethodTypes {
		wanted[t] = true
	}
	for _, t := range cfg.ClassTypes {
		wanted[t] = true
	}
	for _, t := range cfg.TypeDefTypes {
		wanted[t] = true
	}

	var starts []uint32
	for _, child := range root.Children {
		if wanted[child.Type] {
			starts = append(starts, child.StartByte)
		}
	}
	return starts
}

// nearestEnclosingStart finds the start of the symbol whose range contains
// offset, assuming symbols are listed by non-decreasing start and do not
// overlap at the top level.
func nearestEnclosingStart(offset int, starts []uint32) (int, bool) {
	best := -1
	for _, s := range starts {
		if int(s) <= offset {
			best = int(s)
		} else {
			break
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
